package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PinnedFile is a cache file the user asked to keep permanently.
type PinnedFile struct {
	Path         string
	TrackID      string
	RegisteredAt time.Time
}

// PinRegistry records pinned files so cache eviction and offline scans can
// tell them apart from ordinary cached files.
type PinRegistry struct {
	db *sql.DB
}

// NewPinRegistry creates a new PinRegistry
func NewPinRegistry(db *sql.DB) *PinRegistry {
	return &PinRegistry{db: db}
}

// Register marks path as pinned for trackID
func (r *PinRegistry) Register(ctx context.Context, trackID, path string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pinned_files (path, track_id, registered_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET track_id = excluded.track_id, registered_at = excluded.registered_at
	`, path, trackID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to register pinned file: %w", err)
	}
	return nil
}

// Unregister forgets path. Unknown paths are not an error.
func (r *PinRegistry) Unregister(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM pinned_files WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to unregister pinned file: %w", err)
	}
	return nil
}

// IsRegistered reports whether path is pinned
func (r *PinRegistry) IsRegistered(ctx context.Context, path string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM pinned_files WHERE path = ?", path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query pinned file: %w", err)
	}
	return true, nil
}

// List returns all pinned files, oldest first
func (r *PinRegistry) List(ctx context.Context) ([]PinnedFile, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT path, track_id, registered_at FROM pinned_files ORDER BY registered_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list pinned files: %w", err)
	}
	defer rows.Close()

	var files []PinnedFile
	for rows.Next() {
		var f PinnedFile
		if err := rows.Scan(&f.Path, &f.TrackID, &f.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan pinned file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
