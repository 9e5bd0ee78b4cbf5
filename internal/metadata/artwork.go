package metadata

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
)

// CoverArtFileName is the per-directory album cover written next to cached tracks.
const CoverArtFileName = "cover.jpg"

// ResizeImage scales an image so its longest side is at most maxSize and
// re-encodes it as JPEG. Smaller images are only re-encoded.
func ResizeImage(imageData []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSize > 0 && (width > maxSize || height > maxSize) {
		if width > height {
			img = resize.Resize(uint(maxSize), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(maxSize), img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// CoverArtPath returns where the cover for tracks in dir is stored.
func CoverArtPath(dir string) string {
	return filepath.Join(dir, CoverArtFileName)
}

// SaveCoverArt resizes imageData and writes it to dir/cover.jpg.
func SaveCoverArt(dir string, imageData []byte, maxSize int) (string, error) {
	data, err := ResizeImage(imageData, maxSize)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cover directory: %w", err)
	}

	path := CoverArtPath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write cover art: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store cover art: %w", err)
	}
	return path, nil
}
