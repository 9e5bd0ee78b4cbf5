// Package engine assembles the download queue, the jukebox controller and
// their collaborators into one object with an explicit lifecycle.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ultrasonic/ultrasonic-sub000/internal/cache"
	"github.com/ultrasonic/ultrasonic-sub000/internal/config"
	"github.com/ultrasonic/ultrasonic-sub000/internal/device"
	"github.com/ultrasonic/ultrasonic-sub000/internal/downloader"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/events"
	"github.com/ultrasonic/ultrasonic-sub000/internal/jukebox"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/network"
	"github.com/ultrasonic/ultrasonic-sub000/internal/offline"
	"github.com/ultrasonic/ultrasonic-sub000/internal/security"
	"github.com/ultrasonic/ultrasonic-sub000/internal/store"
	"github.com/ultrasonic/ultrasonic-sub000/internal/subsonic"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

// Catalog is the source of media, covers and random tracks
type Catalog interface {
	trackfile.Fetcher
	trackfile.CoverArtFetcher
	downloader.RandomSource
	Ping(ctx context.Context) error
}

// Player plays files locally
type Player interface {
	downloader.Player
	Play(f *trackfile.TrackFile, positionMs int64)
	Stop()
}

// Options overrides collaborators that are otherwise built from the config
type Options struct {
	Version string
	Player  Player
	Network device.Network
	Catalog Catalog
	Jukebox jukebox.Remote
}

// Engine owns every long-lived component
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *sql.DB
	catalog    Catalog
	offline    *offline.Service
	player     Player
	network    device.Network
	limiter    *rate.Limiter
	notifier   *events.Notifier
	health     *monitoring.HealthChecker
	downloader *downloader.Downloader
	jukebox    *jukebox.Controller

	mu      sync.Mutex
	running bool
}

// New builds an engine from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid configuration: %v", err))
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		player:   opts.Player,
		network:  opts.Network,
		notifier: events.NewNotifier(64),
	}
	if e.player == nil {
		e.player = NewLogPlayer(logger)
	}

	catalog, remote, err := e.buildCatalog(opts)
	if err != nil {
		return nil, err
	}
	e.catalog = catalog

	if e.network == nil {
		if cfg.Server.Offline {
			e.network = device.NewStaticNetwork(true, false)
		} else {
			e.network = device.NewInterfaceNetwork(false)
		}
	}
	e.limiter = network.NewBandwidthLimiter(cfg.Network.BandwidthLimit)

	db, err := store.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	e.health = monitoring.NewHealthChecker(opts.Version, db)

	pins := store.NewPinRegistry(db)
	minFree := uint64(cfg.Download.MinFreeMB) << 20

	e.jukebox = jukebox.New(remote, jukebox.Config{
		PollInterval: cfg.Jukebox.PollInterval(),
		GainStep:     cfg.Jukebox.GainStep,
	}, jukebox.Deps{
		Listener: e,
		Fallback: e.fallbackToLocal,
		Notifier: e.notifier,
		Logger:   logger,
	})

	dl, err := downloader.New(downloader.Config{
		PreloadCount:           cfg.Download.PreloadCount,
		ScheduleInterval:       cfg.Download.ScheduleInterval(),
		ShuffleListSize:        cfg.Shuffle.ListSize,
		ShuffleBufferCapacity:  cfg.Shuffle.BufferCapacity,
		ShuffleRefillThreshold: cfg.Shuffle.RefillThreshold,
	}, downloader.Deps{
		Files: trackfile.Deps{
			CacheDir:     cfg.Download.CacheDir,
			Fetcher:      catalog,
			CoverArt:     catalog,
			CoverArtSize: cfg.Download.CoverArtSize,
			BitRate:      e.maxBitRate,
			Registry:     pins,
			Locks:        &device.CountingLocks{},
			Limiter:      e.limiter,
			Logger:       logger,
		},
		Network:   e.network,
		Storage:   device.NewDirStorage(cfg.Download.CacheDir, minFree),
		Player:    e.player,
		Cursor:    e,
		Jukebox:   e,
		Random:    catalog,
		Snapshots: store.NewSnapshotStore(db, logger),
		Cleaner:   cache.NewCleaner(cfg.Download.CacheDir, int64(cfg.Download.CacheSizeMB)<<20, minFree, pins, logger),
		Notifier:  e.notifier,
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	e.downloader = dl

	return e, nil
}

func (e *Engine) buildCatalog(opts Options) (Catalog, jukebox.Remote, error) {
	if opts.Catalog != nil {
		remote := opts.Jukebox
		if remote == nil {
			remote = offline.Jukebox{}
		}
		return opts.Catalog, remote, nil
	}

	if e.cfg.Server.Offline {
		root := e.cfg.Server.OfflineDir
		if root == "" {
			root = e.cfg.Download.CacheDir
		}
		e.offline = offline.New(root, e.logger)
		return e.offline, e.offline.Jukebox(), nil
	}

	password := e.cfg.Server.Password
	if security.IsEncrypted(password) {
		decrypted, err := security.NewPasswordEncryptor(config.GetDataDir()).DecryptPassword(password)
		if err != nil {
			return nil, nil, apperrors.NewAuthError("failed to decrypt server password", err)
		}
		password = decrypted
	}

	client, err := subsonic.NewClient(subsonic.Config{
		URL:        e.cfg.Server.URL,
		Username:   e.cfg.Server.Username,
		Password:   password,
		ClientName: e.cfg.Server.ClientName,
		APIVersion: e.cfg.Server.APIVersion,
		Timeout:    time.Duration(e.cfg.Network.Timeout) * time.Second,
	}, e.logger)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Jukebox(), nil
}

// Start brings the engine up. A server that cannot be reached is logged;
// transfers start once it answers.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.notifier.Start()

	if e.offline != nil {
		n, err := e.offline.Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan offline library: %w", err)
		}
		e.logger.Info("offline library scanned", zap.Int("tracks", n))
	} else {
		retry := apperrors.DefaultRetryConfig()
		retry.MaxRetries = e.cfg.Network.MaxRetries
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			e.logger.Debug("ping failed, retrying", zap.Int("attempt", attempt),
				zap.Duration("wait", wait), zap.Error(err))
		}
		err := apperrors.RetryWithBackoff(ctx, retry, func() error {
			return e.catalog.Ping(ctx)
		})
		if err != nil {
			e.logger.Warn("server not reachable", zap.Error(err))
			monitoring.RecordError(string(apperrors.GetErrorType(err)))
		}
	}

	e.jukebox.Start(ctx)
	if err := e.downloader.Start(ctx); err != nil {
		return err
	}

	e.logger.Info("engine started",
		zap.Bool("offline", e.cfg.Server.Offline),
		zap.String("cache_dir", e.cfg.Download.CacheDir))
	return nil
}

// Stop shuts every component down and closes the database
func (e *Engine) Stop() {
	e.mu.Lock()
	running := e.running
	e.running = false
	e.mu.Unlock()

	if running {
		e.downloader.Stop()
		e.jukebox.Shutdown()
		e.player.Stop()
		e.notifier.Stop()
	}
	if err := e.db.Close(); err != nil {
		e.logger.Warn("failed to close database", zap.Error(err))
	}
	e.logger.Info("engine stopped")
}

// Downloader returns the download queue
func (e *Engine) Downloader() *downloader.Downloader { return e.downloader }

// Jukebox returns the jukebox controller
func (e *Engine) Jukebox() *jukebox.Controller { return e.jukebox }

// Notifier returns the event notifier
func (e *Engine) Notifier() *events.Notifier { return e.notifier }

// SetJukeboxEnabled moves playback between this device and the server
func (e *Engine) SetJukeboxEnabled(enabled bool) {
	d := e.downloader
	if enabled == d.IsJukeboxEnabled() {
		return
	}

	index := d.CurrentPlayingIndex()
	position := d.PlayerPosition()
	d.SetJukeboxEnabled(enabled)

	if enabled {
		e.player.Stop()
		e.jukebox.SetEnabled(true, d.MainTrackIDs())
		if index >= 0 {
			e.jukebox.Skip(index, int(position/1000))
		}
		return
	}

	e.jukebox.SetEnabled(false, nil)
	e.resumeLocal(int64(e.jukebox.PositionSeconds()) * 1000)
}

// fallbackToLocal runs when the server turned out unable to act as a
// jukebox.
func (e *Engine) fallbackToLocal(err error) {
	e.logger.Warn("jukebox unavailable, resuming local playback", zap.Error(err))
	e.downloader.SetJukeboxEnabled(false)
	e.resumeLocal(e.downloader.PlayerPosition())
}

func (e *Engine) resumeLocal(positionMs int64) {
	if f := e.downloader.CurrentPlaying(); f != nil {
		e.player.Play(f, positionMs)
	}
}

// CurrentChanged implements downloader.CursorListener
func (e *Engine) CurrentChanged(f *trackfile.TrackFile, index int, positionMs int64, start bool) {
	jukeboxMode := e.downloader.IsJukeboxEnabled()
	switch {
	case f == nil:
		if !jukeboxMode {
			e.player.Stop()
		}
	case !start:
	case jukeboxMode:
		e.jukebox.Skip(index, int(positionMs/1000))
	default:
		e.player.Play(f, positionMs)
	}
}

// UpdatePlaylist implements downloader.JukeboxPublisher
func (e *Engine) UpdatePlaylist(ids []string) {
	e.jukebox.UpdatePlaylist(ids)
}

// SyncCurrentIndex implements jukebox.IndexListener
func (e *Engine) SyncCurrentIndex(index int) {
	e.downloader.SyncCurrentIndex(index)
}

// maxBitRate picks the bit-rate cap for new transfers from the network kind
func (e *Engine) maxBitRate() int {
	metered := e.network.Metered()

	e.mu.Lock()
	defer e.mu.Unlock()
	if metered {
		return e.cfg.Download.MaxBitRateMobile
	}
	return e.cfg.Download.MaxBitRateWifi
}

// ApplyConfig takes over the settings that can change at runtime
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.downloader.SetPreloadCount(cfg.Download.PreloadCount)
	network.UpdateBandwidthLimit(e.limiter, cfg.Network.BandwidthLimit)

	e.mu.Lock()
	e.cfg.Download.MaxBitRateWifi = cfg.Download.MaxBitRateWifi
	e.cfg.Download.MaxBitRateMobile = cfg.Download.MaxBitRateMobile
	e.mu.Unlock()

	e.logger.Info("configuration reloaded",
		zap.Int("preload_count", cfg.Download.PreloadCount),
		zap.Int("bandwidth_limit", cfg.Network.BandwidthLimit))
}

// Stats returns the queue figures used by the health check
func (e *Engine) Stats() monitoring.EngineStats {
	s := e.downloader.Stats()
	return monitoring.EngineStats{
		MainQueue:       s.Main,
		BackgroundQueue: s.Background,
		Transferring:    s.Transferring,
		FailedTracks:    s.Failed,
		JukeboxEnabled:  s.Jukebox,
	}
}

// HealthHandler serves the health check
func (e *Engine) HealthHandler() http.Handler {
	return e.health.Handler(e.Stats)
}
