package jukebox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/events"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
)

// State is the controller's view of the jukebox
type State int

const (
	StateDisabled State = iota
	StateIdle
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "disabled"
	}
}

// Status is the last jukebox status reported by the server
type Status struct {
	catalog.JukeboxStatus
	ReceivedAt time.Time
}

// IndexListener is told when the server moved to another playlist entry
type IndexListener interface {
	SyncCurrentIndex(index int)
}

// Config holds the controller settings
type Config struct {
	PollInterval time.Duration
	GainStep     float64
}

// Deps are the optional collaborators of a Controller
type Deps struct {
	Listener IndexListener
	// Fallback is called once the server turned out unable to act as a
	// jukebox, so playback can continue locally.
	Fallback func(err error)
	Notifier *events.Notifier
	Logger   *zap.Logger
}

// Controller serialises jukebox commands and tracks the remote status
type Controller struct {
	remote Remote
	cfg    Config
	deps   Deps
	logger *zap.Logger
	queue  *commandQueue
	now    func() time.Time

	mu          sync.Mutex
	enabled     bool
	state       State
	status      Status
	hasStatus   bool
	gain        float64
	noticeShown bool
	baseCtx     context.Context
	pollCancel  context.CancelFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a disabled Controller
func New(remote Remote, cfg Config, deps Deps) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.GainStep <= 0 {
		cfg.GainStep = 0.05
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{
		remote: remote,
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("jukebox"),
		queue:  newCommandQueue(),
		now:    time.Now,
		gain:   0.5,
	}
}

// Start runs the command worker until ctx is done or Stop is called
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.baseCtx = ctx
	c.cancel = cancel
	enabled := c.enabled
	c.mu.Unlock()

	c.wg.Add(1)
	go c.worker(ctx)

	if enabled {
		c.startPolling()
	}
}

// Shutdown stops the worker and the status poll
func (c *Controller) Shutdown() {
	c.stopPolling()

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.baseCtx = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// SetEnabled switches jukebox mode. Enabling publishes ids as the server
// playlist; disabling stops server playback.
func (c *Controller) SetEnabled(enabled bool, ids []string) {
	c.mu.Lock()
	c.enabled = enabled
	if enabled {
		c.state = StateIdle
		c.noticeShown = false
	} else {
		c.state = StateDisabled
	}
	c.mu.Unlock()

	c.queue.Clear()
	if enabled {
		c.queue.Push(setPlaylistCommand(ids))
		c.startPolling()
	} else {
		c.stopPolling()
		c.queue.Push(newCommand(TagStop))
	}
	c.logger.Info("jukebox mode changed", zap.Bool("enabled", enabled))
}

// IsEnabled reports whether jukebox mode is on
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UpdatePlaylist replaces the server playlist
func (c *Controller) UpdatePlaylist(ids []string) {
	c.push(setPlaylistCommand(ids), StateIdle)
}

// Skip jumps to index and starts playing at offsetSeconds
func (c *Controller) Skip(index, offsetSeconds int) {
	c.push(skipCommand(index, offsetSeconds), StatePlaying)
}

// Start resumes server playback
func (c *Controller) Start() {
	c.push(newCommand(TagStart), StatePlaying)
}

// Stop pauses server playback
func (c *Controller) Stop() {
	c.push(newCommand(TagStop), StatePaused)
}

// SetGain sets the server volume, clamped to [0, 1]
func (c *Controller) SetGain(gain float64) {
	gain = clampGain(gain)

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.gain = gain
	c.mu.Unlock()

	c.queue.Push(setGainCommand(gain))
}

// AdjustVolume raises or lowers the server volume by one step
func (c *Controller) AdjustVolume(up bool) {
	step := c.cfg.GainStep
	if !up {
		step = -step
	}
	c.SetGain(c.Gain() + step)
}

// Gain returns the requested server volume
func (c *Controller) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Status returns the last reported status and whether one was received
func (c *Controller) Status() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.hasStatus
}

// PositionSeconds returns the server position, extrapolated from the last
// report while playing.
func (c *Controller) PositionSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasStatus {
		return 0
	}
	pos := c.status.PositionSeconds
	if c.status.Playing {
		pos += int(c.now().Sub(c.status.ReceivedAt).Seconds())
	}
	return pos
}

// Pending returns the tags of the queued commands in order
func (c *Controller) Pending() []Tag {
	return c.queue.Tags()
}

func (c *Controller) push(cmd Command, next State) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	c.queue.Push(cmd)
}

func (c *Controller) worker(ctx context.Context) {
	defer c.wg.Done()

	for {
		cmd, err := c.queue.Take(ctx)
		if err != nil {
			return
		}
		c.run(ctx, cmd)
	}
}

func (c *Controller) run(ctx context.Context, cmd Command) {
	status, err := cmd.execute(ctx, c.remote)
	monitoring.RecordJukeboxCommand(cmd.Tag.String(), err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.handleError(cmd, err)
		return
	}

	c.logger.Debug("jukebox command done",
		zap.String("command", cmd.Tag.String()),
		zap.String("command_id", cmd.ID.String()))
	c.updateStatus(status)
}

// handleError ends the jukebox session when the server cannot serve it.
// A failing Stop is never terminal.
func (c *Controller) handleError(cmd Command, err error) {
	if !apperrors.IsTerminalJukebox(err) || cmd.Tag == TagStop {
		c.logger.Warn("jukebox command failed",
			zap.String("command", cmd.Tag.String()),
			zap.String("command_id", cmd.ID.String()),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	wasEnabled := c.enabled
	c.enabled = false
	c.state = StateDisabled
	notice := !c.noticeShown
	c.noticeShown = true
	c.mu.Unlock()

	c.queue.Clear()
	c.stopPolling()

	c.logger.Error("jukebox unavailable, falling back to local playback",
		zap.String("command", cmd.Tag.String()),
		zap.String("error_type", string(apperrors.GetErrorType(err))),
		zap.Error(err))

	if notice && c.deps.Notifier != nil {
		c.deps.Notifier.NotifyJukebox("jukebox unavailable, playing locally", err)
	}
	if wasEnabled && c.deps.Fallback != nil {
		c.deps.Fallback(err)
	}
}

func (c *Controller) updateStatus(st *catalog.JukeboxStatus) {
	if st == nil {
		return
	}

	c.mu.Lock()
	moved := !c.hasStatus || c.status.CurrentIndex != st.CurrentIndex
	c.status = Status{JukeboxStatus: *st, ReceivedAt: c.now()}
	c.hasStatus = true
	enabled := c.enabled
	if enabled {
		if st.Playing {
			c.state = StatePlaying
		} else {
			c.state = StatePaused
		}
		if !c.queue.Has(TagSetGain) {
			c.gain = clampGain(st.Gain)
		}
	}
	c.mu.Unlock()

	if enabled && moved && st.CurrentIndex >= 0 && c.deps.Listener != nil {
		c.deps.Listener.SyncCurrentIndex(st.CurrentIndex)
	}
}

func (c *Controller) startPolling() {
	c.mu.Lock()
	if c.pollCancel != nil || c.baseCtx == nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.pollCancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.queue.Push(newCommand(TagGetStatus))
			}
		}
	}()
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func clampGain(gain float64) float64 {
	return max(0, min(1, gain))
}
