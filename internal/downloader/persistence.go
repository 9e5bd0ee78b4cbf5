package downloader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/store"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

const snapshotTimeout = 10 * time.Second

// requestSnapshot writes the queue in the background. A request made while
// a write is in flight is dropped; Stop writes the final state.
func (d *Downloader) requestSnapshot() {
	if d.deps.Snapshots == nil || !d.loaded.Load() {
		return
	}
	if !d.saveMu.TryLock() {
		monitoring.RecordSnapshotWrite("dropped")
		return
	}

	state := d.snapshotState()
	go func() {
		defer d.saveMu.Unlock()
		d.writeSnapshot(state)
	}()
}

// flushSnapshot waits for an in-flight write and saves the latest state
func (d *Downloader) flushSnapshot() {
	if d.deps.Snapshots == nil || !d.loaded.Load() {
		return
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	d.writeSnapshot(d.snapshotState())
}

func (d *Downloader) writeSnapshot(state store.PlaybackState) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := d.deps.Snapshots.Save(ctx, state); err != nil {
		monitoring.RecordSnapshotWrite("error")
		d.logger.Warn("failed to save queue snapshot", zap.Error(err))
		return
	}
	monitoring.RecordSnapshotWrite("ok")
}

func (d *Downloader) snapshotState() store.PlaybackState {
	d.mu.Lock()
	defer d.mu.Unlock()

	tracks := make([]catalog.Track, len(d.main))
	for i, f := range d.main {
		tracks[i] = f.Track()
	}
	return store.PlaybackState{
		Tracks:       tracks,
		CurrentIndex: d.indexLocked(d.playing),
		PositionMs:   d.positionMs.Load(),
		SavedAt:      time.Now(),
	}
}

// restore loads the persisted queue once. A missing or unreadable snapshot
// leaves the queue empty.
func (d *Downloader) restore(ctx context.Context) {
	if d.deps.Snapshots == nil {
		return
	}

	state, err := d.deps.Snapshots.Load(ctx)
	if err != nil {
		d.logger.Warn("discarding unreadable queue snapshot", zap.Error(err))
		return
	}
	if state == nil || len(state.Tracks) == 0 {
		return
	}

	d.mu.Lock()
	d.main = make([]*trackfile.TrackFile, 0, len(state.Tracks))
	for _, track := range state.Tracks {
		d.main = append(d.main, d.fileForLocked(track))
	}
	d.revision.Add(1)
	var f *trackfile.TrackFile
	if state.CurrentIndex >= 0 && state.CurrentIndex < len(d.main) {
		f = d.main[state.CurrentIndex]
		d.playing = f
	}
	mainLen, bgLen := len(d.main), len(d.background)
	d.mu.Unlock()

	d.positionMs.Store(state.PositionMs)
	if f != nil {
		f.SetPlaying(true)
		d.notifyCursor(f, state.CurrentIndex, state.PositionMs, false)
	}
	updateQueueMetrics(mainLen, bgLen, d.revision.Load())
	d.deps.Notifier.NotifyQueueChanged(d.revision.Load())

	d.logger.Info("queue restored",
		zap.Int("tracks", len(state.Tracks)),
		zap.Int("current_index", state.CurrentIndex),
		zap.Int64("position_ms", state.PositionMs))
}
