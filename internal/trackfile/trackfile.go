// Package trackfile manages the on-disk state of one queued track: the
// partial, complete and pinned files, resumable transfers into them, and
// renames that must wait until the player lets go of the file.
package trackfile

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	"github.com/ultrasonic/ultrasonic-sub000/internal/device"
)

// DeferredRename is a rename postponed because the file was playing
type DeferredRename int

const (
	Idle DeferredRename = iota
	// PendingRenameToPinned moves the partial (or, failing that, the
	// complete) file to the pinned location.
	PendingRenameToPinned
	// PendingRenameToComplete moves the partial file to the complete location.
	PendingRenameToComplete
)

func (d DeferredRename) String() string {
	switch d {
	case PendingRenameToPinned:
		return "pending_pinned"
	case PendingRenameToComplete:
		return "pending_complete"
	default:
		return "idle"
	}
}

// Fetcher opens a media stream at a byte offset. partial reports whether the
// stream starts at offset; otherwise it starts at byte 0.
type Fetcher interface {
	Fetch(ctx context.Context, track catalog.Track, offset int64, maxBitRate int) (body io.ReadCloser, partial bool, err error)
}

// CoverArtFetcher downloads album covers
type CoverArtFetcher interface {
	CoverArt(ctx context.Context, id string, size int) ([]byte, error)
}

// Registry records pinned files as permanent
type Registry interface {
	Register(ctx context.Context, trackID, path string) error
	Unregister(ctx context.Context, path string) error
}

// Observer is told about transfer progress. Calls come from the transfer
// goroutine and must not block.
type Observer interface {
	TransferStarted(f *TrackFile)
	TransferProgress(f *TrackFile, bytes int64)
	TransferFinished(f *TrackFile, err error)
}

// Deps are the collaborators of a TrackFile. Only CacheDir and Fetcher are
// required.
type Deps struct {
	CacheDir     string
	Fetcher      Fetcher
	CoverArt     CoverArtFetcher
	CoverArtSize int
	// BitRate returns the maximum bit-rate for new transfers (0 = original).
	BitRate  func() int
	Registry Registry
	Locks    device.Locks
	Limiter  *rate.Limiter
	Logger   *zap.Logger
	Observer Observer
}

// TrackFile is the file state machine of one track
type TrackFile struct {
	track        catalog.Track
	deps         Deps
	logger       *zap.Logger
	partialPath  string
	completePath string
	pinnedPath   string

	mu       sync.Mutex
	pin      bool
	playing  bool
	failed   bool
	deferred DeferredRename
	bitRate  int
	cancel   context.CancelFunc
	done     chan struct{}

	progress atomic.Int64
}

// New creates the TrackFile of track. pin requests a permanent copy.
func New(track catalog.Track, pin bool, deps Deps) *TrackFile {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	base := cacheBase(deps.CacheDir, track)
	ext := track.Extension()

	return &TrackFile{
		track:        track,
		deps:         deps,
		logger:       deps.Logger.Named("trackfile").With(zap.String("track_id", track.ID)),
		partialPath:  base + ".partial." + ext,
		completePath: base + ".complete." + ext,
		pinnedPath:   base + "." + ext,
		pin:          pin,
	}
}

// Track returns the track this file belongs to
func (f *TrackFile) Track() catalog.Track {
	return f.track
}

// PartialFilePath returns where an unfinished transfer is written
func (f *TrackFile) PartialFilePath() string {
	return f.partialPath
}

// CompleteFilePath returns the location of an evictable finished copy
func (f *TrackFile) CompleteFilePath() string {
	return f.completePath
}

// PinnedFilePath returns the location of a permanent copy
func (f *TrackFile) PinnedFilePath() string {
	return f.pinnedPath
}

// AuthoritativeFilePath returns the pinned file if it exists, else the
// complete file location.
func (f *TrackFile) AuthoritativeFilePath() string {
	if fileExists(f.pinnedPath) {
		return f.pinnedPath
	}
	return f.completePath
}

// Paths returns all three file locations
func (f *TrackFile) Paths() []string {
	return []string{f.partialPath, f.completePath, f.pinnedPath}
}

// BitRate returns the bit-rate of the current or last transfer, or the
// configured one if nothing was transferred yet.
func (f *TrackFile) BitRate() int {
	f.mu.Lock()
	br := f.bitRate
	f.mu.Unlock()

	if br > 0 || f.deps.BitRate == nil {
		return br
	}
	return f.deps.BitRate()
}

// Progress returns the number of bytes in the partial file of the running
// or last transfer.
func (f *TrackFile) Progress() int64 {
	return f.progress.Load()
}

// ShouldSave reports whether a pinned copy was requested
func (f *TrackFile) ShouldSave() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pin
}

// IsSaved reports whether the pinned file exists
func (f *TrackFile) IsSaved() bool {
	return fileExists(f.pinnedPath)
}

// IsCompleteFileAvailable reports whether a finished copy exists
func (f *TrackFile) IsCompleteFileAvailable() bool {
	return fileExists(f.pinnedPath) || fileExists(f.completePath)
}

// IsDone reports whether the track can be played from a finished file, or
// will be once the pending rename happens.
func (f *TrackFile) IsDone() bool {
	f.mu.Lock()
	deferred := f.deferred
	f.mu.Unlock()
	return deferred != Idle || f.IsCompleteFileAvailable()
}

// IsWorkDone reports whether no further transfer is needed: the pinned file
// exists, an unpinned complete file exists, or a rename is pending.
func (f *TrackFile) IsWorkDone() bool {
	f.mu.Lock()
	pin, deferred := f.pin, f.deferred
	f.mu.Unlock()

	if deferred != Idle || fileExists(f.pinnedPath) {
		return true
	}
	return !pin && fileExists(f.completePath)
}

// IsFailed reports whether the last transfer failed
func (f *TrackFile) IsFailed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

// IsDownloading reports whether a transfer goroutine is running
func (f *TrackFile) IsDownloading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done != nil
}

// IsPlaying reports whether the player holds the file
func (f *TrackFile) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

// Deferred returns the pending rename, if any
func (f *TrackFile) Deferred() DeferredRename {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deferred
}

// SetPlaying marks the file as held by the player. Releasing it resolves a
// pending rename exactly once.
func (f *TrackFile) SetPlaying(playing bool) {
	f.mu.Lock()
	f.playing = playing
	if playing || f.deferred == Idle {
		f.mu.Unlock()
		return
	}

	toPinned := f.deferred == PendingRenameToPinned
	f.deferred = Idle
	err := f.promoteLocked(toPinned)
	f.mu.Unlock()

	if err != nil {
		f.logger.Error("deferred rename failed", zap.Error(err))
		return
	}
	if toPinned {
		f.register()
	}
}

// SetPin changes whether a pinned copy is wanted. A pending rename follows
// the new choice.
func (f *TrackFile) SetPin(pin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pin = pin
	switch {
	case pin && f.deferred == PendingRenameToComplete:
		f.deferred = PendingRenameToPinned
	case !pin && f.deferred == PendingRenameToPinned:
		f.deferred = PendingRenameToComplete
	}
}

// CancelDownload stops a running transfer at the next chunk boundary.
// Finished files are never touched.
func (f *TrackFile) CancelDownload() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the running transfer, if any, has exited.
func (f *TrackFile) Wait() {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Cleanup removes files made redundant by a finished one: the partial when
// a complete or pinned file exists, the complete when a pinned one exists.
// It reports whether every redundant file is gone. Nothing is touched while
// a transfer runs or a rename is pending.
func (f *TrackFile) Cleanup() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil || f.deferred != Idle {
		return false
	}

	ok := true
	pinned := fileExists(f.pinnedPath)
	if pinned || fileExists(f.completePath) {
		ok = removeFile(f.partialPath)
	}
	if pinned {
		ok = removeFile(f.completePath) && ok
	}
	return ok
}

// Delete cancels any transfer and removes all three files.
func (f *TrackFile) Delete() {
	f.CancelDownload()
	f.Wait()

	f.mu.Lock()
	f.deferred = Idle
	f.failed = false
	for _, p := range f.Paths() {
		if !removeFile(p) {
			f.logger.Warn("failed to delete file", zap.String("path", p))
		}
	}
	f.progress.Store(0)
	f.mu.Unlock()

	f.unregister()
}

// Unpin turns a pinned copy back into an evictable complete file.
func (f *TrackFile) Unpin() {
	f.mu.Lock()
	f.pin = false
	if f.deferred == PendingRenameToPinned {
		f.deferred = PendingRenameToComplete
	}

	wasPinned := fileExists(f.pinnedPath)
	var err error
	if wasPinned {
		removeFile(f.completePath)
		err = moveFile(f.pinnedPath, f.completePath)
	}
	f.mu.Unlock()

	if err != nil {
		f.logger.Error("failed to unpin file", zap.Error(err))
		return
	}
	if wasPinned {
		f.unregister()
	}
}

// promoteLocked renames the finished transfer to its final location. The
// source is the partial file, or the complete file when promoting an
// already finished copy to pinned. Callers hold f.mu.
func (f *TrackFile) promoteLocked(toPinned bool) error {
	dst := f.completePath
	if toPinned {
		dst = f.pinnedPath
	}

	src := f.partialPath
	if !fileExists(src) {
		src = f.completePath
	}
	if src == dst || !fileExists(src) {
		return nil
	}

	if err := moveFile(src, dst); err != nil {
		return err
	}
	if toPinned {
		removeFile(f.completePath)
	}
	return nil
}

func (f *TrackFile) register() {
	if f.deps.Registry == nil {
		return
	}
	if err := f.deps.Registry.Register(context.Background(), f.track.ID, f.pinnedPath); err != nil {
		f.logger.Warn("failed to register pinned file", zap.Error(err))
	}
}

func (f *TrackFile) unregister() {
	if f.deps.Registry == nil {
		return
	}
	if err := f.deps.Registry.Unregister(context.Background(), f.pinnedPath); err != nil {
		f.logger.Warn("failed to unregister pinned file", zap.Error(err))
	}
}
