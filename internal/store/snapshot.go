package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
)

// PlaybackState is the persisted shape of the play queue.
type PlaybackState struct {
	Tracks       []catalog.Track
	CurrentIndex int
	PositionMs   int64
	SavedAt      time.Time
}

// SnapshotStore keeps the latest PlaybackState in sqlite. Only one snapshot
// exists at a time; Save replaces it.
type SnapshotStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSnapshotStore creates a new SnapshotStore
func NewSnapshotStore(db *sql.DB, logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{db: db, logger: logger}
}

// Save replaces the stored snapshot
func (s *SnapshotStore) Save(ctx context.Context, state PlaybackState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM playback_tracks"); err != nil {
		return fmt.Errorf("failed to clear tracks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO playback_tracks (position, track_json) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, track := range state.Tracks {
		data, err := json.Marshal(track)
		if err != nil {
			return fmt.Errorf("failed to encode track %s: %w", track.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, string(data)); err != nil {
			return fmt.Errorf("failed to insert track %s: %w", track.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO playback_state (id, current_index, position_ms, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_index = excluded.current_index,
			position_ms = excluded.position_ms,
			saved_at = excluded.saved_at
	`, state.CurrentIndex, state.PositionMs, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save playback state: %w", err)
	}

	return tx.Commit()
}

// Load returns the stored snapshot. A missing snapshot is an empty queue
// with no current track. Rows that no longer decode are dropped, and the
// current index is moved so it keeps pointing at the same track.
func (s *SnapshotStore) Load(ctx context.Context) (*PlaybackState, error) {
	state := &PlaybackState{CurrentIndex: -1}

	var savedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT current_index, position_ms, saved_at FROM playback_state WHERE id = 1",
	).Scan(&state.CurrentIndex, &state.PositionMs, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load playback state: %w", err)
	}
	state.SavedAt = savedAt.Time

	rows, err := s.db.QueryContext(ctx, "SELECT position, track_json FROM playback_tracks ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to load tracks: %w", err)
	}
	defer rows.Close()

	storedIndex := state.CurrentIndex
	state.CurrentIndex = -1
	for rows.Next() {
		var position int
		var data string
		if err := rows.Scan(&position, &data); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		var track catalog.Track
		if err := json.Unmarshal([]byte(data), &track); err != nil || track.ID == "" {
			s.logger.Warn("Discarding unreadable snapshot entry", zap.Int("position", position), zap.Error(err))
			continue
		}
		if position == storedIndex {
			state.CurrentIndex = len(state.Tracks)
		}
		state.Tracks = append(state.Tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tracks: %w", err)
	}

	if state.CurrentIndex < 0 {
		state.PositionMs = 0
	}
	return state, nil
}

// Clear removes the stored snapshot
func (s *SnapshotStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM playback_tracks"); err != nil {
		return fmt.Errorf("failed to clear tracks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM playback_state"); err != nil {
		return fmt.Errorf("failed to clear playback state: %w", err)
	}
	return nil
}
