package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLMarkerStore implements MarkerStore over database/sql.
type SQLMarkerStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteMarkerStore creates and migrates a sqlite-backed store.
func NewSQLiteMarkerStore(db *sql.DB) (*SQLMarkerStore, error) {
	s := &SQLMarkerStore{db: db, dialect: DialectSQLite}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresMarkerStore creates and migrates a postgres-backed store.
func NewPostgresMarkerStore(db *sql.DB) (*SQLMarkerStore, error) {
	s := &SQLMarkerStore{db: db, dialect: DialectPostgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLMarkerStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS followup_markers (
		referee_id TEXT PRIMARY KEY,
		marked_at BIGINT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS group_bonus_awards (
		group_id TEXT PRIMARY KEY,
		awarded_at BIGINT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS nudge_stamps (
		contract_id TEXT PRIMARY KEY,
		nudged_at BIGINT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// TryMarkFollowUp implements MarkerStore. A marker younger than ttl
// blocks the write; an expired one is refreshed in place.
func (s *SQLMarkerStore) TryMarkFollowUp(ctx context.Context, refereeID string, now time.Time, ttl time.Duration) (bool, error) {
	cutoff := toMs(now.Add(-ttl))

	// Refresh an expired marker first.
	update := rebind(s.dialect, `UPDATE followup_markers SET marked_at = ?
		WHERE referee_id = ? AND marked_at < ?`)
	res, err := s.db.ExecContext(ctx, update, toMs(now), refereeID, cutoff)
	if err != nil {
		return false, fmt.Errorf("refresh follow-up marker: %w", err)
	}
	if won, err := affectedOne(res); err != nil {
		return false, err
	} else if won {
		return true, nil
	}

	insert := rebind(s.dialect, `INSERT INTO followup_markers (referee_id, marked_at) VALUES (?, ?)`)
	if _, err := s.db.ExecContext(ctx, insert, refereeID, toMs(now)); err != nil {
		if isUniqueViolation(err) {
			// Live marker already present.
			return false, nil
		}
		return false, fmt.Errorf("insert follow-up marker: %w", err)
	}
	return true, nil
}

// TryAwardGroupBonus implements MarkerStore.
func (s *SQLMarkerStore) TryAwardGroupBonus(ctx context.Context, groupID string, now time.Time) (bool, error) {
	query := rebind(s.dialect, `INSERT INTO group_bonus_awards (group_id, awarded_at) VALUES (?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, groupID, toMs(now)); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("award group bonus: %w", err)
	}
	return true, nil
}

// LastNudgeAt implements MarkerStore.
func (s *SQLMarkerStore) LastNudgeAt(ctx context.Context, contractID string) (*time.Time, error) {
	query := rebind(s.dialect, `SELECT nudged_at FROM nudge_stamps WHERE contract_id = ?`)
	var ms int64
	err := s.db.QueryRowContext(ctx, query, contractID).Scan(&ms)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last nudge: %w", err)
	}
	t := fromMs(ms)
	return &t, nil
}

// StampNudge implements MarkerStore.
func (s *SQLMarkerStore) StampNudge(ctx context.Context, contractID string, at time.Time) error {
	var query string
	if s.dialect == DialectPostgres {
		query = rebind(s.dialect, `INSERT INTO nudge_stamps (contract_id, nudged_at) VALUES (?, ?)
			ON CONFLICT (contract_id) DO UPDATE SET nudged_at = EXCLUDED.nudged_at`)
	} else {
		query = `INSERT INTO nudge_stamps (contract_id, nudged_at) VALUES (?, ?)
			ON CONFLICT (contract_id) DO UPDATE SET nudged_at = excluded.nudged_at`
	}
	if _, err := s.db.ExecContext(ctx, query, contractID, toMs(at)); err != nil {
		return fmt.Errorf("stamp nudge: %w", err)
	}
	return nil
}
