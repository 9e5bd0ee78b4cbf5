package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

type fakePins map[string]bool

func (p fakePins) IsRegistered(_ context.Context, path string) (bool, error) {
	return p[path], nil
}

type failingPins struct{}

func (failingPins) IsRegistered(context.Context, string) (bool, error) {
	return false, errors.New("database locked")
}

// writeAged creates a file of size bytes modified age ago.
func writeAged(t *testing.T, path string, size int, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"01-song.complete.mp3", true},
		{"01-song.partial.flac", true},
		{"01-song.mp3", false},
		{"cover.jpg", false},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.name); got != tt.want {
			t.Errorf("IsTransient(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCleanEvictsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	oldest := filepath.Join(dir, "A", "X", "01-a.complete.mp3")
	middle := filepath.Join(dir, "A", "X", "02-b.complete.mp3")
	newest := filepath.Join(dir, "A", "Y", "01-c.complete.mp3")
	pinned := filepath.Join(dir, "A", "Y", "02-d.mp3")

	writeAged(t, oldest, 100, 3*time.Hour)
	writeAged(t, middle, 100, 2*time.Hour)
	writeAged(t, newest, 100, time.Hour)
	writeAged(t, pinned, 100, 4*time.Hour)

	c := NewCleaner(dir, 250, 0, nil, nil)
	res, err := c.Clean(context.Background(), nil)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	if res.Evicted != 2 {
		t.Errorf("Evicted = %d, want 2", res.Evicted)
	}
	if res.FreedBytes != 200 {
		t.Errorf("FreedBytes = %d, want 200", res.FreedBytes)
	}
	if exists(oldest) || exists(middle) {
		t.Error("oldest complete files should be evicted")
	}
	if !exists(newest) {
		t.Error("newest complete file should survive")
	}
	if !exists(pinned) {
		t.Error("pinned file must never be evicted")
	}
	if exists(filepath.Dir(oldest)) {
		t.Error("empty album directory should be removed")
	}
}

func TestCleanKeepsProtectedAndRegistered(t *testing.T) {
	dir := t.TempDir()
	queued := filepath.Join(dir, "01-a.complete.mp3")
	registered := filepath.Join(dir, "02-b.complete.mp3")
	free := filepath.Join(dir, "03-c.partial.mp3")

	writeAged(t, queued, 100, 3*time.Hour)
	writeAged(t, registered, 100, 2*time.Hour)
	writeAged(t, free, 100, time.Hour)

	c := NewCleaner(dir, 1, 0, fakePins{registered: true}, nil)
	res, err := c.Clean(context.Background(), map[string]struct{}{queued: {}})
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	if res.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", res.Evicted)
	}
	if !exists(queued) || !exists(registered) {
		t.Error("protected and registered files must survive")
	}
	if exists(free) {
		t.Error("unprotected partial should be evicted")
	}
}

func TestCleanKeepsFilesWhenPinLookupFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "01-a.complete.mp3")
	writeAged(t, path, 100, time.Hour)

	c := NewCleaner(dir, 1, 0, failingPins{}, nil)
	if _, err := c.Clean(context.Background(), nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if !exists(path) {
		t.Error("file should be kept when pin state is unknown")
	}
}

func TestCleanWithinBudget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "01-a.complete.mp3")
	writeAged(t, path, 100, time.Hour)

	c := NewCleaner(dir, 1000, 0, nil, nil)
	res, err := c.Clean(context.Background(), nil)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if res.Evicted != 0 || res.Scanned != 1 || res.TotalBytes != 100 {
		t.Errorf("Result = %+v", res)
	}
}

func TestCleanFreeSpaceFloor(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "01-a.complete.mp3")
	second := filepath.Join(dir, "02-b.complete.mp3")
	writeAged(t, first, 100, 2*time.Hour)
	writeAged(t, second, 100, time.Hour)

	c := NewCleaner(dir, 0, 150, nil, nil)
	c.usage = func(string) (*disk.UsageStat, error) {
		// Free space grows as files disappear.
		free := uint64(100)
		if !exists(first) {
			free += 100
		}
		return &disk.UsageStat{Free: free}, nil
	}

	res, err := c.Clean(context.Background(), nil)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if res.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", res.Evicted)
	}
	if exists(first) || !exists(second) {
		t.Error("only the oldest file should go to restore free space")
	}
}

func TestCleanRemovesCoverOnlyDirs(t *testing.T) {
	dir := t.TempDir()
	song := filepath.Join(dir, "Artist", "Album", "01-a.complete.mp3")
	cover := filepath.Join(dir, "Artist", "Album", "cover.jpg")
	writeAged(t, song, 100, time.Hour)
	writeAged(t, cover, 10, time.Hour)

	c := NewCleaner(dir, 50, 0, nil, nil)
	if _, err := c.Clean(context.Background(), nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if exists(filepath.Join(dir, "Artist")) {
		t.Error("artist directory holding only a cover should be removed")
	}
	if !exists(dir) {
		t.Error("cache root must survive")
	}
}

func TestCleanMissingDir(t *testing.T) {
	c := NewCleaner(filepath.Join(t.TempDir(), "missing"), 10, 0, nil, nil)
	if _, err := c.Clean(context.Background(), nil); err != nil {
		t.Errorf("Clean on missing dir = %v, want nil", err)
	}
}
