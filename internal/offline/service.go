// Package offline serves the catalog from files already in the cache
// directory when no server is reachable or configured.
package offline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/cache"
	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/metadata"
	"github.com/ultrasonic/ultrasonic-sub000/internal/security"
)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
}

// Service indexes the cache directory and answers catalog requests from it
type Service struct {
	root   string
	logger *zap.Logger

	mu     sync.RWMutex
	tracks []catalog.Track
	files  map[string]string // track id -> absolute file
}

// New creates an offline service over root. Call Scan before use.
func New(root string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		root:   root,
		logger: logger.Named("offline"),
		files:  make(map[string]string),
	}
}

// Scan rebuilds the index from disk and returns the number of tracks found.
// Partial files are ignored; complete and pinned files are indexed under
// their pinned name so the cache layout resolves them again.
func (s *Service) Scan(ctx context.Context) (int, error) {
	var tracks []catalog.Track
	files := make(map[string]string)

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".partial.") {
			return nil
		}
		if !audioExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		rel = strings.Replace(filepath.ToSlash(rel), ".complete.", ".", 1)
		if _, dup := files[rel]; dup {
			// The pinned copy wins over a stale complete one.
			if cache.IsTransient(d.Name()) {
				return nil
			}
		} else {
			tracks = append(tracks, s.describe(rel, p))
		}
		files[rel] = p
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan offline library: %w", err)
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })

	s.mu.Lock()
	s.tracks = tracks
	s.files = files
	s.mu.Unlock()

	s.logger.Info("offline library scanned", zap.Int("tracks", len(tracks)))
	return len(tracks), nil
}

// describe builds a track from tags, falling back to the directory layout
// Artist/Album/NN-Title.ext.
func (s *Service) describe(rel, abs string) catalog.Track {
	ext := path.Ext(rel)
	dir := path.Dir(rel)
	t := catalog.Track{
		ID:     rel,
		Path:   rel,
		Suffix: strings.TrimPrefix(strings.ToLower(ext), "."),
		Title:  strings.TrimSuffix(path.Base(rel), ext),
	}
	if dir != "." {
		t.ParentID = dir
		t.Album = path.Base(dir)
		if artistDir := path.Dir(dir); artistDir != "." {
			t.Artist = path.Base(artistDir)
		}
	}
	if info, err := os.Stat(abs); err == nil {
		t.Size = info.Size()
	}
	if metadata.FileExists(metadata.CoverArtPath(filepath.Dir(abs))) {
		t.CoverArtID = dir
	}

	md, err := metadata.ReadTags(abs)
	if err != nil {
		s.logger.Debug("could not read tags", zap.String("path", rel), zap.Error(err))
		return t
	}
	if md.Title != "" {
		t.Title = md.Title
	}
	if md.Artist != "" {
		t.Artist = md.Artist
	}
	if md.Album != "" {
		t.Album = md.Album
	}
	t.Track = md.TrackNumber
	t.DiscNumber = md.DiscNumber
	t.Year = md.Year
	return t
}

// Tracks returns the indexed tracks
func (s *Service) Tracks() []catalog.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.Track(nil), s.tracks...)
}

// Ping always succeeds: the library is local.
func (s *Service) Ping(ctx context.Context) error {
	return nil
}

// Fetch opens the cached file of track at offset. Any offset is honoured,
// so the stream is always partial when offset > 0. maxBitRate is ignored.
func (s *Service) Fetch(ctx context.Context, track catalog.Track, offset int64, maxBitRate int) (io.ReadCloser, bool, error) {
	s.mu.RLock()
	p, ok := s.files[track.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, apperrors.NewNotFoundError(fmt.Sprintf("track %s is not in the offline library", track.ID))
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, false, apperrors.NewFileSystemError("failed to open offline file", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, false, apperrors.NewFileSystemError("failed to seek offline file", err)
		}
	}
	return f, offset > 0, nil
}

// CoverArt returns the album cover stored next to the tracks of directory id.
func (s *Service) CoverArt(ctx context.Context, id string, size int) ([]byte, error) {
	dir, err := security.ValidateFilePath(s.root, filepath.FromSlash(id))
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	data, err := os.ReadFile(metadata.CoverArtPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("no cover art for " + id)
		}
		return nil, apperrors.NewFileSystemError("failed to read cover art", err)
	}
	if size <= 0 {
		return data, nil
	}
	return metadata.ResizeImage(data, size)
}

// RandomSongs picks up to n tracks from the index
func (s *Service) RandomSongs(ctx context.Context, n int) ([]catalog.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Samples(s.tracks, n), nil
}

// Jukebox returns a jukebox that refuses every command
func (s *Service) Jukebox() *Jukebox {
	return &Jukebox{}
}

// Jukebox rejects jukebox control: there is no server to play on.
type Jukebox struct{}

func (Jukebox) SetPlaylist(context.Context, []string) (*catalog.JukeboxStatus, error) {
	return nil, apperrors.NewOfflineError("jukebox")
}

func (Jukebox) Skip(context.Context, int, int) (*catalog.JukeboxStatus, error) {
	return nil, apperrors.NewOfflineError("jukebox")
}

func (Jukebox) Stop(context.Context) (*catalog.JukeboxStatus, error) {
	return nil, apperrors.NewOfflineError("jukebox")
}

func (Jukebox) Start(context.Context) (*catalog.JukeboxStatus, error) {
	return nil, apperrors.NewOfflineError("jukebox")
}

func (Jukebox) SetGain(context.Context, float64) (*catalog.JukeboxStatus, error) {
	return nil, apperrors.NewOfflineError("jukebox")
}

func (Jukebox) GetStatus(context.Context) (*catalog.JukeboxStatus, error) {
	return nil, apperrors.NewOfflineError("jukebox")
}
