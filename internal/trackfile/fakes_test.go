package trackfile

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
)

type fetchCall struct {
	offset  int64
	bitRate int
}

// fakeFetcher serves data, honouring ranges unless ignoreRange is set. With
// block set, the body stops after head bytes until block is closed or the
// transfer is cancelled.
type fakeFetcher struct {
	data        []byte
	ignoreRange bool
	err         error
	block       chan struct{}
	head        int
	fetched     chan struct{}

	mu    sync.Mutex
	calls []fetchCall
}

func newFakeFetcher(data string) *fakeFetcher {
	return &fakeFetcher{data: []byte(data), fetched: make(chan struct{}, 16)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, track catalog.Track, offset int64, maxBitRate int) (io.ReadCloser, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{offset: offset, bitRate: maxBitRate})
	f.mu.Unlock()
	f.fetched <- struct{}{}

	if f.err != nil {
		return nil, false, f.err
	}

	data, partial := f.data, false
	if offset > 0 && !f.ignoreRange {
		data, partial = f.data[offset:], true
	}
	if f.block == nil {
		return io.NopCloser(bytes.NewReader(data)), partial, nil
	}
	head := min(f.head, len(data))
	return &blockingBody{ctx: ctx, head: data[:head], rest: bytes.NewReader(data[head:]), release: f.block}, partial, nil
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type blockingBody struct {
	ctx     context.Context
	head    []byte
	rest    io.Reader
	release chan struct{}
}

func (b *blockingBody) Read(p []byte) (int, error) {
	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	select {
	case <-b.release:
		return b.rest.Read(p)
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	}
}

func (b *blockingBody) Close() error { return nil }

type fakeRegistry struct {
	mu    sync.Mutex
	paths map[string]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{paths: make(map[string]string)}
}

func (r *fakeRegistry) Register(_ context.Context, trackID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = trackID
	return nil
}

func (r *fakeRegistry) Unregister(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
	return nil
}

func (r *fakeRegistry) Has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paths[path]
	return ok
}

type recorder struct {
	mu       sync.Mutex
	started  int
	finished []error
}

func (r *recorder) TransferStarted(*TrackFile) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recorder) TransferProgress(*TrackFile, int64) {}

func (r *recorder) TransferFinished(_ *TrackFile, err error) {
	r.mu.Lock()
	r.finished = append(r.finished, err)
	r.mu.Unlock()
}

func (r *recorder) Finished() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.finished...)
}

type fakeCover struct {
	mu    sync.Mutex
	calls int
	data  []byte
}

func (c *fakeCover) CoverArt(context.Context, string, int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.data, nil
}

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testTrack(id string) catalog.Track {
	return catalog.Track{
		ID:     id,
		Title:  "Song " + id,
		Artist: "Artist",
		Album:  "Album",
		Suffix: "mp3",
	}
}

func testDeps(t *testing.T, fetcher Fetcher) Deps {
	t.Helper()
	return Deps{
		CacheDir: t.TempDir(),
		Fetcher:  fetcher,
		BitRate:  func() int { return 128 },
		Registry: newFakeRegistry(),
		Logger:   zap.NewNop(),
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// atMostOneAuthoritative checks the resting invariant of a TrackFile.
func atMostOneAuthoritative(t *testing.T, f *TrackFile) {
	t.Helper()
	if fileExists(f.PinnedFilePath()) && fileExists(f.CompleteFilePath()) {
		t.Error("pinned and complete files exist at the same time")
	}
}
