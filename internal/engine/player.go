package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/downloader"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

// LogPlayer is a Player without audio output. It records what would be
// played, which is all a headless engine needs.
type LogPlayer struct {
	logger *zap.Logger

	mu       sync.Mutex
	current  *trackfile.TrackFile
	position int64
	next     downloader.NextState
}

// NewLogPlayer creates a LogPlayer
func NewLogPlayer(logger *zap.Logger) *LogPlayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPlayer{logger: logger.Named("player")}
}

// Play starts playing f at positionMs
func (p *LogPlayer) Play(f *trackfile.TrackFile, positionMs int64) {
	p.mu.Lock()
	p.current = f
	p.position = positionMs
	p.next = downloader.NextIdle
	p.mu.Unlock()

	p.logger.Info("playing",
		zap.String("track_id", f.Track().ID),
		zap.String("title", f.Track().Title),
		zap.String("file", f.AuthoritativeFilePath()),
		zap.Int64("position_ms", positionMs))
}

// Stop stops playback
func (p *LogPlayer) Stop() {
	p.mu.Lock()
	wasPlaying := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if wasPlaying {
		p.logger.Info("stopped")
	}
}

// SetNextPlayerState records the readiness of the next track
func (p *LogPlayer) SetNextPlayerState(state downloader.NextState) {
	p.mu.Lock()
	p.next = state
	p.mu.Unlock()
}

// Current returns the playing file and its start position
func (p *LogPlayer) Current() (*trackfile.TrackFile, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.position
}

// NextState returns the last readiness hint
func (p *LogPlayer) NextState() downloader.NextState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
