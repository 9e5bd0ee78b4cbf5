package offline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func setupLibrary(t *testing.T) (string, *Service) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Artist", "Album", "01-One.ogg"), []byte("0123456789"))
	writeFile(t, filepath.Join(root, "Artist", "Album", "02-Two.complete.ogg"), []byte("two"))
	writeFile(t, filepath.Join(root, "Artist", "Album", "03-Three.partial.ogg"), []byte("th"))
	writeFile(t, filepath.Join(root, "Artist", "Album", "notes.txt"), []byte("x"))

	s := New(root, nil)
	n, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Scan found %d tracks, want 2", n)
	}
	return root, s
}

func TestScanIndexesCompleteUnderPinnedName(t *testing.T) {
	_, s := setupLibrary(t)

	tracks := s.Tracks()
	if tracks[0].ID != "Artist/Album/01-One.ogg" {
		t.Errorf("tracks[0].ID = %q", tracks[0].ID)
	}
	if tracks[1].Path != "Artist/Album/02-Two.ogg" {
		t.Errorf("tracks[1].Path = %q, want Artist/Album/02-Two.ogg", tracks[1].Path)
	}

	got := tracks[0]
	if got.Title != "01-One" || got.Album != "Album" || got.Artist != "Artist" || got.Suffix != "ogg" {
		t.Errorf("track = %+v", got)
	}
	if got.Size != 10 {
		t.Errorf("Size = %d, want 10", got.Size)
	}
}

func TestScanPrefersPinnedCopy(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "01-x.complete.ogg"), []byte("stale"))
	writeFile(t, filepath.Join(root, "A", "01-x.ogg"), []byte("pinned"))

	s := New(root, nil)
	if n, err := s.Scan(context.Background()); err != nil || n != 1 {
		t.Fatalf("Scan = (%d, %v), want (1, nil)", n, err)
	}

	body, _, err := s.Fetch(context.Background(), catalog.Track{ID: "A/01-x.ogg"}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "pinned" {
		t.Errorf("body = %q, want pinned", data)
	}
}

func TestFetchHonoursOffset(t *testing.T) {
	_, s := setupLibrary(t)
	track := catalog.Track{ID: "Artist/Album/01-One.ogg"}

	tests := []struct {
		offset      int64
		wantPartial bool
		wantBody    string
	}{
		{0, false, "0123456789"},
		{4, true, "456789"},
		{10, true, ""},
	}

	for _, tt := range tests {
		body, partial, err := s.Fetch(context.Background(), track, tt.offset, 320)
		if err != nil {
			t.Fatalf("Fetch(%d) failed: %v", tt.offset, err)
		}
		data, _ := io.ReadAll(body)
		body.Close()
		if partial != tt.wantPartial {
			t.Errorf("Fetch(%d) partial = %v, want %v", tt.offset, partial, tt.wantPartial)
		}
		if string(data) != tt.wantBody {
			t.Errorf("Fetch(%d) body = %q, want %q", tt.offset, data, tt.wantBody)
		}
	}
}

func TestFetchUnknownTrack(t *testing.T) {
	_, s := setupLibrary(t)

	_, _, err := s.Fetch(context.Background(), catalog.Track{ID: "nope"}, 0, 0)
	if apperrors.GetErrorType(err) != apperrors.ErrTypeNotFound {
		t.Errorf("Fetch error = %v, want not_found", err)
	}
}

func TestRandomSongs(t *testing.T) {
	_, s := setupLibrary(t)

	songs, err := s.RandomSongs(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 2 {
		t.Errorf("len(songs) = %d, want 2", len(songs))
	}

	songs, _ = s.RandomSongs(context.Background(), 1)
	if len(songs) != 1 {
		t.Errorf("len(songs) = %d, want 1", len(songs))
	}
}

func TestCoverArt(t *testing.T) {
	root, s := setupLibrary(t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 40))); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "Artist", "Album", "cover.jpg"), buf.Bytes())
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	id := s.Tracks()[0].CoverArtID
	if id != "Artist/Album" {
		t.Fatalf("CoverArtID = %q, want Artist/Album", id)
	}
	data, err := s.CoverArt(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("CoverArt failed: %v", err)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Error("unexpected cover bytes")
	}

	if _, err := s.CoverArt(context.Background(), "../../etc", 0); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := s.CoverArt(context.Background(), "Other", 0); apperrors.GetErrorType(err) != apperrors.ErrTypeNotFound {
		t.Errorf("CoverArt error = %v, want not_found", err)
	}
}

func TestJukeboxIsOffline(t *testing.T) {
	j := New(t.TempDir(), nil).Jukebox()

	_, err := j.Start(context.Background())
	if apperrors.GetErrorType(err) != apperrors.ErrTypeOffline {
		t.Fatalf("Start error = %v, want offline", err)
	}
	if !apperrors.IsTerminalJukebox(err) {
		t.Error("offline jukebox errors must be terminal")
	}
}
