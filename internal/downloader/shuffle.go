package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

var errNoRandomSource = apperrors.NewValidationError("shuffle play needs a random track source")

// ShuffleBuffer keeps a stock of random tracks for shuffle play so the
// scheduler never waits on the server.
type ShuffleBuffer struct {
	source    RandomSource
	capacity  int
	threshold int
	logger    *zap.Logger

	mu     sync.Mutex
	tracks []catalog.Track
}

// NewShuffleBuffer creates a buffer holding up to capacity tracks that
// refills once it drops below threshold.
func NewShuffleBuffer(source RandomSource, capacity, threshold int, logger *zap.Logger) *ShuffleBuffer {
	if capacity <= 0 {
		capacity = 50
	}
	if threshold <= 0 || threshold > capacity {
		threshold = capacity * 4 / 5
	}
	return &ShuffleBuffer{
		source:    source,
		capacity:  capacity,
		threshold: threshold,
		logger:    logger,
	}
}

// Len returns the number of buffered tracks
func (b *ShuffleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracks)
}

// Take removes up to n tracks from the buffer
func (b *ShuffleBuffer) Take(n int) []catalog.Track {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, len(b.tracks))
	if n <= 0 {
		return nil
	}
	out := append([]catalog.Track(nil), b.tracks[:n]...)
	b.tracks = b.tracks[n:]
	return out
}

// Clear drops every buffered track
func (b *ShuffleBuffer) Clear() {
	b.mu.Lock()
	b.tracks = nil
	b.mu.Unlock()
}

// Refill fetches random tracks when the buffer is below its threshold
func (b *ShuffleBuffer) Refill(ctx context.Context) error {
	b.mu.Lock()
	missing := b.capacity - len(b.tracks)
	low := len(b.tracks) < b.threshold
	b.mu.Unlock()

	if !low || missing <= 0 {
		return nil
	}

	tracks, err := b.source.RandomSongs(ctx, missing)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.tracks = lo.UniqBy(append(b.tracks, tracks...), func(t catalog.Track) string {
		return t.ID
	})
	if len(b.tracks) > b.capacity {
		b.tracks = b.tracks[:b.capacity]
	}
	size := len(b.tracks)
	b.mu.Unlock()

	b.logger.Debug("shuffle buffer refilled", zap.Int("received", len(tracks)), zap.Int("size", size))
	return nil
}

// Run refills the buffer on every tick until ctx is done
func (b *ShuffleBuffer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Refill(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("shuffle buffer refill failed", zap.Error(err))
			}
		}
	}
}

// SetShufflePlay turns radio mode on or off. Turning it on replaces the
// main list with random tracks and starts playing the first one.
func (d *Downloader) SetShufflePlay(ctx context.Context, enabled bool) error {
	if enabled && d.shuffle == nil {
		return errNoRandomSource
	}

	d.mu.Lock()
	d.shufflePlay = enabled
	if !enabled {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	d.Clear()
	if err := d.shuffle.Refill(ctx); err != nil {
		d.logger.Warn("shuffle buffer refill failed", zap.Error(err))
	}
	d.checkDownloads(ctx)

	if len(d.MainList()) > 0 {
		d.Play(0)
	}
	return nil
}

// IsShufflePlay reports whether radio mode is on
func (d *Downloader) IsShufflePlay() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shufflePlay
}

// topUpShuffle keeps the radio list at its target size and rotates played
// entries out once the cursor moves far enough down.
func (d *Downloader) topUpShuffle() {
	d.mu.Lock()
	if !d.shufflePlay || d.shuffle == nil {
		d.mu.Unlock()
		return
	}
	before := d.revision.Load()
	missing := d.cfg.ShuffleListSize - len(d.main)
	d.mu.Unlock()

	if missing > 0 {
		if tracks := d.shuffle.Take(missing); len(tracks) > 0 {
			d.mu.Lock()
			d.main = append(d.main, d.newFilesLocked(tracks)...)
			d.revision.Add(1)
			d.mu.Unlock()
		}
	}

	d.mu.Lock()
	cursor := d.indexLocked(d.playing)
	d.mu.Unlock()

	if cursor > shiftThreshold {
		shift := cursor - 2
		tracks := d.shuffle.Take(shift)

		d.mu.Lock()
		d.main = append(d.main, d.newFilesLocked(tracks)...)
		shift = min(shift, len(d.main))
		dropped := d.main[:shift]
		d.main = append([]*trackfile.TrackFile(nil), d.main[shift:]...)
		var cancelled *trackfile.TrackFile
		if d.current != nil && lo.Contains(dropped, d.current) && !lo.Contains(d.main, d.current) {
			cancelled = d.current
			d.current = nil
		}
		d.revision.Add(1)
		d.mu.Unlock()

		if cancelled != nil {
			cancelled.CancelDownload()
		}
	}

	if d.revision.Load() != before {
		d.changed()
	}
}

func (d *Downloader) newFilesLocked(tracks []catalog.Track) []*trackfile.TrackFile {
	files := make([]*trackfile.TrackFile, 0, len(tracks))
	for _, track := range tracks {
		files = append(files, d.fileForLocked(track))
	}
	return files
}
