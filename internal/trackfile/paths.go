package trackfile

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	"github.com/ultrasonic/ultrasonic-sub000/internal/security"
)

// cacheBase returns the cache location of track without extension. The
// server path is used when present; otherwise Artist/Album/NN-Title.
func cacheBase(cacheDir string, track catalog.Track) string {
	if track.Path != "" {
		parts := strings.Split(strings.ReplaceAll(track.Path, "\\", "/"), "/")
		last := parts[len(parts)-1]
		parts[len(parts)-1] = strings.TrimSuffix(last, path.Ext(last))

		clean := make([]string, 0, len(parts))
		for _, p := range parts {
			if p == "" {
				continue
			}
			clean = append(clean, security.SanitizePathComponent(p))
		}
		if len(clean) > 0 {
			if full, err := security.ValidateFilePath(cacheDir, filepath.Join(clean...)); err == nil {
				return full
			}
		}
	}

	title := track.Title
	if title == "" {
		title = track.ID
	}
	name := title
	if track.Track > 0 {
		name = fmt.Sprintf("%02d-%s", track.Track, title)
	}
	return filepath.Join(cacheDir,
		security.SanitizePathComponent(track.Artist),
		security.SanitizePathComponent(track.Album),
		security.SanitizePathComponent(name))
}
