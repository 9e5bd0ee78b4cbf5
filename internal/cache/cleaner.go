// Package cache evicts transient cache entries when the cache grows past its
// size budget or the disk runs low.
package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/metadata"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
)

// PinChecker reports files registered as permanent
type PinChecker interface {
	IsRegistered(ctx context.Context, path string) (bool, error)
}

// Result describes one cleaning pass
type Result struct {
	Scanned    int
	Evicted    int
	FreedBytes int64
	TotalBytes int64
}

// Cleaner removes least recently modified complete and partial files.
// Pinned files are never candidates.
type Cleaner struct {
	dir          string
	maxBytes     int64
	minFreeBytes uint64
	pins         PinChecker
	logger       *zap.Logger
	usage        func(path string) (*disk.UsageStat, error)
}

// NewCleaner creates a cleaner for dir. maxBytes <= 0 disables the size
// budget; minFreeBytes == 0 disables the free space floor.
func NewCleaner(dir string, maxBytes int64, minFreeBytes uint64, pins PinChecker, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		dir:          dir,
		maxBytes:     maxBytes,
		minFreeBytes: minFreeBytes,
		pins:         pins,
		logger:       logger.Named("cache"),
		usage:        disk.Usage,
	}
}

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// IsTransient reports whether name is a complete or partial cache file.
func IsTransient(name string) bool {
	return strings.Contains(name, ".complete.") || strings.Contains(name, ".partial.")
}

// Clean evicts files until the cache is within budget. Paths in protected
// (queued tracks) are kept regardless of age.
func (c *Cleaner) Clean(ctx context.Context, protected map[string]struct{}) (Result, error) {
	var res Result
	var candidates []entry

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		res.Scanned++
		res.TotalBytes += info.Size()

		if !IsTransient(d.Name()) {
			return nil
		}
		if _, ok := protected[path]; ok {
			return nil
		}
		candidates = append(candidates, entry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return res, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	for _, e := range candidates {
		if !c.overBudget(res.TotalBytes) {
			break
		}
		if c.pinned(ctx, e.path) {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			c.logger.Warn("failed to evict cache file", zap.String("path", e.path), zap.Error(err))
			continue
		}
		res.Evicted++
		res.FreedBytes += e.size
		res.TotalBytes -= e.size
		monitoring.RecordCacheEviction(e.size)
		c.logger.Debug("evicted cache file",
			zap.String("path", e.path),
			zap.String("size", humanize.Bytes(uint64(e.size))))
	}

	removeEmptyDirs(c.dir)

	if res.Evicted > 0 {
		c.logger.Info("cache cleaned",
			zap.Int("evicted", res.Evicted),
			zap.String("freed", humanize.Bytes(uint64(res.FreedBytes))),
			zap.String("total", humanize.Bytes(uint64(res.TotalBytes))))
	}
	return res, nil
}

// overBudget reports whether more files must go.
func (c *Cleaner) overBudget(total int64) bool {
	if c.maxBytes > 0 && total > c.maxBytes {
		return true
	}
	if c.minFreeBytes == 0 {
		return false
	}
	u, err := c.usage(c.dir)
	if err != nil {
		return false
	}
	return u.Free < c.minFreeBytes
}

func (c *Cleaner) pinned(ctx context.Context, path string) bool {
	if c.pins == nil {
		return false
	}
	ok, err := c.pins.IsRegistered(ctx, path)
	if err != nil {
		c.logger.Warn("pin lookup failed, keeping file", zap.String("path", path), zap.Error(err))
		return true
	}
	return ok
}

// removeEmptyDirs deletes directories below root that hold nothing but an
// album cover, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			continue
		}
		if len(entries) == 1 && !entries[0].IsDir() && entries[0].Name() == metadata.CoverArtFileName {
			os.Remove(filepath.Join(dirs[i], entries[0].Name()))
			entries = nil
		}
		if len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
}
