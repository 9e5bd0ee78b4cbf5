// Package downloader owns the play queue: the main and background lists,
// the play cursor, and the scheduler that decides which single track is
// transferred next.
package downloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/cache"
	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	"github.com/ultrasonic/ultrasonic-sub000/internal/device"
	"github.com/ultrasonic/ultrasonic-sub000/internal/events"
	"github.com/ultrasonic/ultrasonic-sub000/internal/store"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

// RepeatMode controls what Next does at the end of the list
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatSingle
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatSingle:
		return "single"
	default:
		return "off"
	}
}

// List selects the main or the background list
type List int

const (
	MainList List = iota
	BackgroundList
)

// NextState is the readiness of the track after the cursor
type NextState int

const (
	NextIdle NextState = iota
	NextDownloading
	NextReady
)

// Player receives hints about the next track so gapless playback can be
// prepared.
type Player interface {
	SetNextPlayerState(state NextState)
}

// CursorListener is told when the play cursor moves. f is nil when the
// cursor was cleared. start is false when only the position was restored
// or synchronised and playback should not be (re)started.
type CursorListener interface {
	CurrentChanged(f *trackfile.TrackFile, index int, positionMs int64, start bool)
}

// JukeboxPublisher receives the main list whenever it changes while
// jukebox mode is on.
type JukeboxPublisher interface {
	UpdatePlaylist(ids []string)
}

// RandomSource supplies tracks for shuffle play
type RandomSource interface {
	RandomSongs(ctx context.Context, n int) ([]catalog.Track, error)
}

// SnapshotStore persists the play queue
type SnapshotStore interface {
	Save(ctx context.Context, state store.PlaybackState) error
	Load(ctx context.Context) (*store.PlaybackState, error)
}

// CacheCleaner evicts cache files not in the protected set
type CacheCleaner interface {
	Clean(ctx context.Context, protected map[string]struct{}) (cache.Result, error)
}

// Config holds the scheduler settings
type Config struct {
	PreloadCount           int
	ScheduleInterval       time.Duration
	ShuffleListSize        int
	ShuffleBufferCapacity  int
	ShuffleRefillThreshold int
	ShuffleRefillInterval  time.Duration
	FileCacheSize          int
	// RetryDelay is the wait before a failed transfer is tried again. It
	// doubles with every consecutive failure up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultConfig returns the default scheduler settings
func DefaultConfig() Config {
	return Config{
		PreloadCount:           3,
		ScheduleInterval:       5 * time.Second,
		ShuffleListSize:        20,
		ShuffleBufferCapacity:  50,
		ShuffleRefillThreshold: 40,
		ShuffleRefillInterval:  10 * time.Second,
		FileCacheSize:          100,
		RetryDelay:             5 * time.Second,
		MaxRetryDelay:          5 * time.Minute,
	}
}

// Deps are the collaborators of a Downloader. Files is the template every
// TrackFile is built from; its Observer is replaced by the Downloader.
type Deps struct {
	Files     trackfile.Deps
	Network   device.Network
	Storage   device.Storage
	Player    Player
	Cursor    CursorListener
	Jukebox   JukeboxPublisher
	Random    RandomSource
	Snapshots SnapshotStore
	Cleaner   CacheCleaner
	Notifier  *events.Notifier
	Logger    *zap.Logger
}

// Downloader is the download queue and scheduler
type Downloader struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu             sync.Mutex
	main           []*trackfile.TrackFile
	background     []*trackfile.TrackFile
	current        *trackfile.TrackFile
	playing        *trackfile.TrackFile
	repeat         RepeatMode
	cleanup        map[*trackfile.TrackFile]struct{}
	retries        map[*trackfile.TrackFile]retryState
	jukeboxEnabled bool
	shufflePlay    bool
	started        bool

	files        *lru.Cache[string, *trackfile.TrackFile]
	shuffle      *ShuffleBuffer
	revision     atomic.Int64
	preloadCount atomic.Int32
	positionMs   atomic.Int64
	cleanCache   atomic.Bool
	loaded       atomic.Bool
	now          func() time.Time

	schedMu sync.Mutex
	trigger chan struct{}
	saveMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Downloader. It does nothing until Start.
func New(cfg Config, deps Deps) (*Downloader, error) {
	defaults := DefaultConfig()
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = defaults.ScheduleInterval
	}
	if cfg.FileCacheSize <= 0 {
		cfg.FileCacheSize = defaults.FileCacheSize
	}
	if cfg.ShuffleListSize <= 0 {
		cfg.ShuffleListSize = defaults.ShuffleListSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = max(defaults.MaxRetryDelay, cfg.RetryDelay)
	}
	if cfg.PreloadCount < 0 {
		return nil, fmt.Errorf("preload count must be non-negative, got %d", cfg.PreloadCount)
	}
	if deps.Files.Fetcher == nil {
		return nil, fmt.Errorf("a fetcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = events.NewNotifier(16)
	}

	files, err := lru.New[string, *trackfile.TrackFile](cfg.FileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create file cache: %w", err)
	}

	d := &Downloader{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.Named("downloader"),
		cleanup: make(map[*trackfile.TrackFile]struct{}),
		retries: make(map[*trackfile.TrackFile]retryState),
		files:   files,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	d.deps.Files.Observer = d
	if d.deps.Files.Logger == nil {
		d.deps.Files.Logger = deps.Logger
	}
	d.preloadCount.Store(int32(cfg.PreloadCount))
	if deps.Random != nil {
		d.shuffle = NewShuffleBuffer(deps.Random, cfg.ShuffleBufferCapacity, cfg.ShuffleRefillThreshold, d.logger)
	}
	return d, nil
}

// Start restores the persisted queue and starts the scheduler loop.
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("downloader already started")
	}
	d.started = true
	d.mu.Unlock()

	d.restore(ctx)
	d.loaded.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.loop(loopCtx)

	if d.shuffle != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.shuffle.Run(loopCtx, d.cfg.ShuffleRefillInterval)
		}()
	}

	d.Trigger()
	d.logger.Info("downloader started",
		zap.Int("preload_count", d.PreloadCount()),
		zap.Duration("interval", d.cfg.ScheduleInterval))
	return nil
}

// Stop halts scheduling, cancels the running transfer and writes a final
// snapshot.
func (d *Downloader) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if current := d.CurrentlyTransferring(); current != nil {
		current.CancelDownload()
		current.Wait()
	}

	d.flushSnapshot()
	d.logger.Info("downloader stopped")
}

func (d *Downloader) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}
		d.checkDownloads(ctx)
	}
}

// Trigger asks for a scheduling pass as soon as possible. Calls coalesce.
func (d *Downloader) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// SetPreloadCount changes how many tracks ahead of the cursor are fetched
func (d *Downloader) SetPreloadCount(n int) {
	if n < 0 {
		n = 0
	}
	d.preloadCount.Store(int32(n))
	d.Trigger()
}

// PreloadCount returns the current preload count
func (d *Downloader) PreloadCount() int {
	return int(d.preloadCount.Load())
}

// SetJukeboxEnabled switches between local transfers and publishing the
// queue to the server jukebox. Enabling cancels the running transfer.
func (d *Downloader) SetJukeboxEnabled(enabled bool) {
	d.mu.Lock()
	d.jukeboxEnabled = enabled
	current := d.current
	if enabled {
		d.current = nil
	}
	d.mu.Unlock()

	if enabled && current != nil {
		current.CancelDownload()
	}
	d.Trigger()
}

// IsJukeboxEnabled reports whether jukebox mode is on
func (d *Downloader) IsJukeboxEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jukeboxEnabled
}

// Revision returns a counter that grows whenever the lists change
func (d *Downloader) Revision() int64 {
	return d.revision.Load()
}

// MainList returns a copy of the main list
func (d *Downloader) MainList() []*trackfile.TrackFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*trackfile.TrackFile(nil), d.main...)
}

// MainTrackIDs returns the track ids of the main list in order
func (d *Downloader) MainTrackIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return trackIDs(d.main)
}

// BackgroundList returns a copy of the background list
func (d *Downloader) BackgroundList() []*trackfile.TrackFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*trackfile.TrackFile(nil), d.background...)
}

// CurrentlyTransferring returns the active transfer target, if any
func (d *Downloader) CurrentlyTransferring() *trackfile.TrackFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Stats summarises the queue for health reporting
type Stats struct {
	Main         int
	Background   int
	Transferring bool
	Failed       int
	Revision     int64
	Jukebox      bool
}

// Stats returns queue statistics
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	all := append(append([]*trackfile.TrackFile(nil), d.main...), d.background...)
	s := Stats{
		Main:         len(d.main),
		Background:   len(d.background),
		Transferring: d.current != nil,
		Revision:     d.revision.Load(),
		Jukebox:      d.jukeboxEnabled,
	}
	d.mu.Unlock()

	for _, f := range all {
		if f.IsFailed() {
			s.Failed++
		}
	}
	return s
}

// TrackFileFor returns the TrackFile of track: the one in the main or
// background list, a recently used one, or a new one.
func (d *Downloader) TrackFileFor(track catalog.Track) *trackfile.TrackFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileForLocked(track)
}

func (d *Downloader) fileForLocked(track catalog.Track) *trackfile.TrackFile {
	for _, list := range [][]*trackfile.TrackFile{d.main, d.background} {
		for _, f := range list {
			if f.Track().ID == track.ID {
				return f
			}
		}
	}
	if f, ok := d.files.Get(track.ID); ok {
		return f
	}
	f := trackfile.New(track, false, d.deps.Files)
	d.files.Add(track.ID, f)
	return f
}

// TransferStarted implements trackfile.Observer
func (d *Downloader) TransferStarted(f *trackfile.TrackFile) {
	d.deps.Notifier.NotifyStarted(f.Track().ID, f.Track().Size)
}

// TransferProgress implements trackfile.Observer
func (d *Downloader) TransferProgress(f *trackfile.TrackFile, bytes int64) {
	d.deps.Notifier.NotifyProgress(f.Track().ID, bytes, f.Track().Size)
}

// TransferFinished implements trackfile.Observer
func (d *Downloader) TransferFinished(f *trackfile.TrackFile, err error) {
	d.recordOutcome(f, err)

	switch {
	case err == nil:
		d.deps.Notifier.NotifyCompleted(f.Track().ID)
		d.cleanCache.Store(true)
		if d.deps.Player != nil && d.isNext(f) {
			d.deps.Player.SetNextPlayerState(NextReady)
		}
	case !isCancelled(err):
		d.deps.Notifier.NotifyFailed(f.Track().ID, err)
	}
	d.Trigger()
}

// isNext reports whether f directly follows the cursor.
func (d *Downloader) isNext(f *trackfile.TrackFile) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.main)
	if n == 0 {
		return false
	}
	idx := d.indexLocked(d.playing)
	if idx < 0 {
		return false
	}
	return d.main[(idx+1)%n] == f
}

// changed publishes a structural change: metrics, events, snapshot,
// jukebox playlist and a scheduling pass.
func (d *Downloader) changed() {
	d.mu.Lock()
	mainLen, bgLen := len(d.main), len(d.background)
	jukebox := d.jukeboxEnabled
	ids := trackIDs(d.main)
	d.mu.Unlock()

	rev := d.revision.Load()
	updateQueueMetrics(mainLen, bgLen, rev)
	d.deps.Notifier.NotifyQueueChanged(rev)
	d.requestSnapshot()
	if jukebox && d.deps.Jukebox != nil {
		d.deps.Jukebox.UpdatePlaylist(ids)
	}
	d.Trigger()
}

func trackIDs(files []*trackfile.TrackFile) []string {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.Track().ID
	}
	return ids
}
