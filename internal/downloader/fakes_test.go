package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/store"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

// countingFetcher serves data immediately and records how many streams
// were open at the same time. With gate set, bodies block until the gate
// is closed or the transfer is cancelled.
type countingFetcher struct {
	data []byte
	gate chan struct{}

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{data: []byte("0123456789")}
}

func (f *countingFetcher) Fetch(ctx context.Context, _ catalog.Track, _ int64, _ int) (io.ReadCloser, bool, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	return &countedBody{ctx: ctx, r: bytes.NewReader(f.data), gate: f.gate, owner: f}, false, nil
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *countingFetcher) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type countedBody struct {
	ctx   context.Context
	r     io.Reader
	gate  chan struct{}
	owner *countingFetcher
	once  sync.Once
}

func (b *countedBody) Read(p []byte) (int, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	return b.r.Read(p)
}

func (b *countedBody) Close() error {
	b.once.Do(func() {
		b.owner.mu.Lock()
		b.owner.active--
		b.owner.mu.Unlock()
	})
	return nil
}

// flakyFetcher fails the first fetches of selected tracks with a network
// error and serves them normally afterwards.
type flakyFetcher struct {
	*countingFetcher

	failMu   sync.Mutex
	failures map[string]int
	attempts map[string]int
}

func newFlakyFetcher(failures map[string]int) *flakyFetcher {
	return &flakyFetcher{
		countingFetcher: newCountingFetcher(),
		failures:        failures,
		attempts:        make(map[string]int),
	}
}

func (f *flakyFetcher) Fetch(ctx context.Context, track catalog.Track, offset int64, maxBitRate int) (io.ReadCloser, bool, error) {
	f.failMu.Lock()
	f.attempts[track.ID]++
	fail := f.failures[track.ID] > 0
	if fail {
		f.failures[track.ID]--
	}
	f.failMu.Unlock()

	if fail {
		return nil, false, apperrors.NewNetworkError("connection reset", nil)
	}
	return f.countingFetcher.Fetch(ctx, track, offset, maxBitRate)
}

func (f *flakyFetcher) Attempts(id string) int {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	return f.attempts[id]
}

// fakeClock replaces the Downloader clock so retry delays can be crossed
// without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSnapshots struct {
	mu    sync.Mutex
	state *store.PlaybackState
	saves int
}

func (s *fakeSnapshots) Save(_ context.Context, state store.PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	s.saves++
	return nil
}

func (s *fakeSnapshots) Load(context.Context) (*store.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *fakeSnapshots) State() *store.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type fakeRandom struct {
	mu   sync.Mutex
	next int
}

func (r *fakeRandom) RandomSongs(_ context.Context, n int) ([]catalog.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracks := make([]catalog.Track, n)
	for i := range tracks {
		r.next++
		tracks[i] = testTrack(fmt.Sprintf("r%d", r.next))
	}
	return tracks, nil
}

type fakePublisher struct {
	mu  sync.Mutex
	ids [][]string
}

func (p *fakePublisher) UpdatePlaylist(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, ids)
}

func (p *fakePublisher) Last() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return nil
	}
	return p.ids[len(p.ids)-1]
}

type cursorEvent struct {
	id    string
	index int
	start bool
}

type fakeCursor struct {
	mu     sync.Mutex
	events []cursorEvent
}

func (c *fakeCursor) CurrentChanged(f *trackfile.TrackFile, index int, _ int64, start bool) {
	id := ""
	if f != nil {
		id = f.Track().ID
	}
	c.mu.Lock()
	c.events = append(c.events, cursorEvent{id: id, index: index, start: start})
	c.mu.Unlock()
}

func (c *fakeCursor) Events() []cursorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cursorEvent(nil), c.events...)
}

type fakePlayer struct {
	mu     sync.Mutex
	states []NextState
}

func (p *fakePlayer) SetNextPlayerState(state NextState) {
	p.mu.Lock()
	p.states = append(p.states, state)
	p.mu.Unlock()
}

func (p *fakePlayer) States() []NextState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]NextState(nil), p.states...)
}

func testTrack(id string) catalog.Track {
	return catalog.Track{ID: id, Title: "Title " + id, Artist: "Artist", Album: "Album", Suffix: "mp3"}
}

func testTracks(ids ...string) []catalog.Track {
	tracks := make([]catalog.Track, len(ids))
	for i, id := range ids {
		tracks[i] = testTrack(id)
	}
	return tracks
}

func newTestDownloader(t *testing.T, fetcher trackfile.Fetcher, configure func(*Config, *Deps)) *Downloader {
	t.Helper()

	cfg := DefaultConfig()
	deps := Deps{
		Files: trackfile.Deps{
			CacheDir: t.TempDir(),
			Fetcher:  fetcher,
			BitRate:  func() int { return 0 },
		},
		Logger: zap.NewNop(),
	}
	if configure != nil {
		configure(&cfg, &deps)
	}

	d, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if f := d.CurrentlyTransferring(); f != nil {
			f.CancelDownload()
			f.Wait()
		}
	})
	return d
}

// settle runs scheduling passes until no new transfer is started.
func settle(t *testing.T, d *Downloader, passes int) {
	t.Helper()
	for i := 0; i < passes; i++ {
		d.checkDownloads(context.Background())
		if f := d.CurrentlyTransferring(); f != nil {
			f.Wait()
		}
	}
}

func mainIDs(d *Downloader) []string {
	return d.MainTrackIDs()
}

func trackfileDeps(t *testing.T) trackfile.Deps {
	return trackfile.Deps{CacheDir: t.TempDir(), Fetcher: newCountingFetcher()}
}

func zapNop() *zap.Logger {
	return zap.NewNop()
}
