package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	"github.com/ultrasonic/ultrasonic-sub000/internal/config"
	"github.com/ultrasonic/ultrasonic-sub000/internal/device"
	"github.com/ultrasonic/ultrasonic-sub000/internal/downloader"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

type fakeCatalog struct{}

func (fakeCatalog) Fetch(context.Context, catalog.Track, int64, int) (io.ReadCloser, bool, error) {
	return io.NopCloser(bytes.NewReader([]byte("audio"))), false, nil
}

func (fakeCatalog) CoverArt(context.Context, string, int) ([]byte, error) {
	return nil, nil
}

func (fakeCatalog) RandomSongs(_ context.Context, n int) ([]catalog.Track, error) {
	return nil, nil
}

func (fakeCatalog) Ping(context.Context) error { return nil }

type recordingPlayer struct {
	mu    sync.Mutex
	plays []string
	stops int
}

func (p *recordingPlayer) Play(f *trackfile.TrackFile, _ int64) {
	p.mu.Lock()
	p.plays = append(p.plays, f.Track().ID)
	p.mu.Unlock()
}

func (p *recordingPlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *recordingPlayer) SetNextPlayerState(downloader.NextState) {}

func (p *recordingPlayer) Plays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.plays...)
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{ClientName: "test"},
		Download: config.DownloadConfig{
			CacheDir:                filepath.Join(dir, "cache"),
			PreloadCount:            1,
			MaxBitRateWifi:          0,
			MaxBitRateMobile:        96,
			ScheduleIntervalSeconds: 3600,
		},
		Shuffle:  config.ShuffleConfig{ListSize: 5, BufferCapacity: 10, RefillThreshold: 8},
		Jukebox:  config.JukeboxConfig{PollIntervalSeconds: 3600, GainStep: 0.05},
		Network:  config.NetworkConfig{Timeout: 5},
		Logging:  config.LoggingConfig{Level: "info", Format: "json", Output: "console", MaxSizeMB: 1},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "engine.db")},
	}
}

func newTestEngine(t *testing.T, player *recordingPlayer, net device.Network) *Engine {
	t.Helper()
	e, err := New(testConfig(t), zap.NewNop(), Options{
		Version: "test",
		Player:  player,
		Network: net,
		Catalog: fakeCatalog{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func tracks(ids ...string) []catalog.Track {
	out := make([]catalog.Track, len(ids))
	for i, id := range ids {
		out[i] = catalog.Track{ID: id, Title: id, Artist: "Artist", Album: "Album", Suffix: "mp3"}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Download.CacheDir = ""

	if _, err := New(cfg, nil, Options{Catalog: fakeCatalog{}}); err == nil {
		t.Error("New() error = nil, want error")
	}
}

func TestAutoplayStartsLocalPlayback(t *testing.T) {
	player := &recordingPlayer{}
	e := newTestEngine(t, player, device.NewStaticNetwork(true, false))

	e.Downloader().Enqueue(tracks("a", "b"), downloader.EnqueueOptions{Autoplay: true})

	if got := player.Plays(); len(got) != 1 || got[0] != "a" {
		t.Errorf("plays = %v, want [a]", got)
	}
	waitFor(t, func() bool { return e.Downloader().MainList()[0].IsWorkDone() })
}

func TestJukeboxFallsBackToLocalPlayback(t *testing.T) {
	player := &recordingPlayer{}
	e := newTestEngine(t, player, device.NewStaticNetwork(true, false))
	e.Downloader().Enqueue(tracks("a"), downloader.EnqueueOptions{Autoplay: true})

	// The default remote cannot act as a jukebox.
	e.SetJukeboxEnabled(true)

	waitFor(t, func() bool { return len(player.Plays()) == 2 })
	if e.Downloader().IsJukeboxEnabled() {
		t.Error("jukebox mode still on after fallback")
	}
	if e.Jukebox().IsEnabled() {
		t.Error("jukebox controller still enabled after fallback")
	}
	if got := player.Plays()[1]; got != "a" {
		t.Errorf("resumed track = %s, want a", got)
	}
}

func TestMaxBitRateFollowsNetwork(t *testing.T) {
	net := device.NewStaticNetwork(true, false)
	e := newTestEngine(t, &recordingPlayer{}, net)

	if got := e.maxBitRate(); got != 0 {
		t.Errorf("maxBitRate() on unmetered = %d, want 0", got)
	}
	net.SetMetered(true)
	if got := e.maxBitRate(); got != 96 {
		t.Errorf("maxBitRate() on metered = %d, want 96", got)
	}

	cfg := testConfig(t)
	cfg.Download.MaxBitRateMobile = 64
	e.ApplyConfig(cfg)
	if got := e.maxBitRate(); got != 64 {
		t.Errorf("maxBitRate() after reload = %d, want 64", got)
	}
}

func TestHealthHandler(t *testing.T) {
	e := newTestEngine(t, &recordingPlayer{}, device.NewStaticNetwork(true, false))

	rec := httptest.NewRecorder()
	e.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"database_status":"connected"`)) {
		t.Errorf("body = %s, want a connected database", rec.Body.String())
	}
}
