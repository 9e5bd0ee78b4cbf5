package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

// shiftThreshold is the cursor index past which shuffle play rotates the
// list so played entries do not pile up.
const shiftThreshold = 4

// checkDownloads is one scheduling pass. It starts at most one transfer
// and never holds the list lock while touching the file system.
func (d *Downloader) checkDownloads(ctx context.Context) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	if d.deps.Storage != nil && !d.deps.Storage.Available() {
		d.logger.Debug("storage unavailable, skipping pass")
		return
	}

	d.topUpShuffle()

	d.mu.Lock()
	jukebox := d.jukeboxEnabled
	d.mu.Unlock()
	if jukebox {
		return
	}
	if d.deps.Network != nil && !d.deps.Network.Connected() {
		return
	}

	d.schedule()
	d.cleanupCandidates()
	d.cleanCacheIfNeeded(ctx)
}

func (d *Downloader) schedule() {
	d.mu.Lock()
	d.pruneRetriesLocked()
	main := append([]*trackfile.TrackFile(nil), d.main...)
	background := append([]*trackfile.TrackFile(nil), d.background...)
	playing, current := d.playing, d.current
	cursor := d.indexLocked(playing)
	due := d.retryDueLocked()
	d.mu.Unlock()

	// The track being played always wins, and is restarted once its retry
	// delay has passed when its last transfer failed.
	if playing != nil && !playing.IsWorkDone() && due(playing) &&
		(playing != current || (playing.IsFailed() && !playing.IsDownloading())) {
		if current != nil && current != playing {
			current.CancelDownload()
		}
		d.activate(playing)
		return
	}

	if current != nil && !current.IsWorkDone() &&
		(!current.IsFailed() || (len(main) == 0 && len(background) == 0)) {
		if !current.IsDownloading() && !current.IsFailed() {
			current.StartDownload()
		}
		return
	}

	preloadCount := d.PreloadCount()
	preloaded := 0
	started := false

	if n := len(main); n > 0 {
		start := max(cursor, 0)
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			f := main[idx]
			if f.IsWorkDone() {
				if f != playing {
					preloaded++
				}
				continue
			}
			if !due(f) {
				continue
			}
			if f.ShouldSave() || preloaded < preloadCount {
				started = d.activate(f)
				if started && d.deps.Player != nil && cursor >= 0 && idx == (cursor+1)%n {
					d.deps.Player.SetNextPlayerState(NextDownloading)
				}
			}
			break
		}
	}

	if started {
		return
	}
	if preloaded+1 == len(main) || preloaded >= preloadCount || len(main) == 0 {
		d.scheduleBackground(background, due)
	}
}

// scheduleBackground drops finished background entries and starts the
// first unfinished one.
func (d *Downloader) scheduleBackground(background []*trackfile.TrackFile, due func(*trackfile.TrackFile) bool) {
	var finished []*trackfile.TrackFile
	defer func() {
		if len(finished) == 0 {
			return
		}
		d.mu.Lock()
		before := len(d.background)
		d.background = lo.Without(d.background, finished...)
		if len(d.background) != before {
			d.revision.Add(1)
		}
		d.mu.Unlock()
		d.changed()
	}()

	for _, f := range background {
		if f.IsWorkDone() && (!f.ShouldSave() || f.IsSaved()) {
			finished = append(finished, f)
			continue
		}
		if !due(f) {
			continue
		}
		d.activate(f)
		return
	}
}

// activate makes f the active transfer. It refuses files that left the
// queue since the pass took its snapshot, and cancels the transfer again
// when a mutation replaced the active target while it was starting.
func (d *Downloader) activate(f *trackfile.TrackFile) bool {
	d.mu.Lock()
	if d.jukeboxEnabled || !d.queuedLocked(f) {
		d.mu.Unlock()
		d.logger.Debug("skipping transfer of dequeued track", zap.String("track_id", f.Track().ID))
		return false
	}
	d.current = f
	d.cleanup[f] = struct{}{}
	d.mu.Unlock()

	d.logger.Debug("starting transfer", zap.String("track_id", f.Track().ID))
	f.StartDownload()

	d.mu.Lock()
	replaced := d.current != f
	d.mu.Unlock()
	if replaced {
		f.CancelDownload()
		return false
	}
	return true
}

func (d *Downloader) queuedLocked(f *trackfile.TrackFile) bool {
	return f == d.playing || lo.Contains(d.main, f) || lo.Contains(d.background, f)
}

// retryState tracks consecutive failures of one file
type retryState struct {
	failures int
	at       time.Time
}

// recordOutcome arms the retry delay of a failed transfer and forgets it
// after a success. Cancellations leave the state alone.
func (d *Downloader) recordOutcome(f *trackfile.TrackFile, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case err == nil:
		delete(d.retries, f)
	case !isCancelled(err):
		st := d.retries[f]
		st.failures++
		st.at = d.now().Add(d.retryDelay(st.failures))
		d.retries[f] = st
	}
}

func (d *Downloader) retryDelay(failures int) time.Duration {
	delay := d.cfg.RetryDelay
	for i := 1; i < failures && delay < d.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, d.cfg.MaxRetryDelay)
}

// retryDueLocked returns a predicate telling whether a file may be
// started: any file that has not failed, or a failed one whose retry
// delay has passed.
func (d *Downloader) retryDueLocked() func(*trackfile.TrackFile) bool {
	now := d.now()
	at := make(map[*trackfile.TrackFile]time.Time, len(d.retries))
	for f, st := range d.retries {
		at[f] = st.at
	}
	return func(f *trackfile.TrackFile) bool {
		return !f.IsFailed() || !now.Before(at[f])
	}
}

func (d *Downloader) pruneRetriesLocked() {
	for f := range d.retries {
		if !d.queuedLocked(f) {
			delete(d.retries, f)
		}
	}
}

// cleanupCandidates tidies files that were once transferred and are now
// neither playing nor active.
func (d *Downloader) cleanupCandidates() {
	d.mu.Lock()
	candidates := make([]*trackfile.TrackFile, 0, len(d.cleanup))
	for f := range d.cleanup {
		if f != d.playing && f != d.current {
			candidates = append(candidates, f)
		}
	}
	d.mu.Unlock()

	var cleaned []*trackfile.TrackFile
	for _, f := range candidates {
		if f.Cleanup() {
			cleaned = append(cleaned, f)
		}
	}
	if len(cleaned) == 0 {
		return
	}

	d.mu.Lock()
	for _, f := range cleaned {
		delete(d.cleanup, f)
	}
	d.mu.Unlock()
}

// cleanCacheIfNeeded runs the cache cleaner after a transfer completed,
// protecting every file of a queued track.
func (d *Downloader) cleanCacheIfNeeded(ctx context.Context) {
	if d.deps.Cleaner == nil || !d.cleanCache.Swap(false) {
		return
	}
	if _, err := d.CleanCache(ctx); err != nil {
		d.logger.Warn("cache clean failed", zap.Error(err))
	}
}

// CleanCache evicts cache files that are not part of the queue
func (d *Downloader) CleanCache(ctx context.Context) (int, error) {
	if d.deps.Cleaner == nil {
		return 0, nil
	}

	protected := make(map[string]struct{})
	d.mu.Lock()
	for _, list := range [][]*trackfile.TrackFile{d.main, d.background, {d.current, d.playing}} {
		for _, f := range list {
			if f == nil {
				continue
			}
			for _, p := range f.Paths() {
				protected[p] = struct{}{}
			}
		}
	}
	d.mu.Unlock()

	res, err := d.deps.Cleaner.Clean(ctx, protected)
	if err != nil {
		return 0, err
	}
	return res.Evicted, nil
}

func updateQueueMetrics(main, background int, revision int64) {
	monitoring.UpdateQueueSize(main, background, revision)
}

func isCancelled(err error) bool {
	return apperrors.IsCancelled(err) || errors.Is(err, context.Canceled)
}
