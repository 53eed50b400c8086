// Package sqlitestore is a single-node actor.Backend on an embedded SQLite
// file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/courtres/internal/actor"
)

const schema = `
CREATE TABLE IF NOT EXISTS actor_kv (
    actor_id   TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (actor_id, key)
);
CREATE TABLE IF NOT EXISTS actor_alarms (
    actor_id   TEXT PRIMARY KEY,
    wake_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actor_alarms_wake ON actor_alarms(wake_at_ms);
`

type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// one writer; claims rely on serialized deletes
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`, schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: init: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Storage(id string) actor.Storage { return &storage{db: s.db, id: id} }

func (s *Store) DueAlarms(ctx context.Context, now time.Time, limit int) ([]actor.Alarm, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor_id, wake_at_ms FROM actor_alarms WHERE wake_at_ms <= ? ORDER BY wake_at_ms, actor_id LIMIT ?`,
		now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: due alarms: %w", err)
	}
	defer rows.Close()

	var out []actor.Alarm
	for rows.Next() {
		var (
			id string
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out = append(out, actor.Alarm{ID: id, At: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}

func (s *Store) ClaimAlarm(ctx context.Context, a actor.Alarm, until time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actor_alarms SET wake_at_ms = ? WHERE actor_id = ? AND wake_at_ms = ?`,
		until.UnixMilli(), a.ID, a.At.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("sqlitestore: claim alarm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type storage struct {
	db *sql.DB
	id string
}

func (s *storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM actor_kv WHERE actor_id = ? AND key = ?`, s.id, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *storage) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO actor_kv (actor_id, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (actor_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.id, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlitestore: put %s: %w", key, err)
	}
	return nil
}

func (s *storage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actor_kv WHERE actor_id = ? AND key = ?`, s.id, key); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", key, err)
	}
	return nil
}

func (s *storage) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actor_kv WHERE actor_id = ?`, s.id); err != nil {
		return fmt.Errorf("sqlitestore: delete all: %w", err)
	}
	return nil
}

func (s *storage) GetAlarm(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT wake_at_ms FROM actor_alarms WHERE actor_id = ?`, s.id).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlitestore: get alarm: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *storage) SetAlarm(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO actor_alarms (actor_id, wake_at_ms) VALUES (?, ?)
ON CONFLICT (actor_id) DO UPDATE SET wake_at_ms = excluded.wake_at_ms`, s.id, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlitestore: set alarm: %w", err)
	}
	return nil
}

func (s *storage) DeleteAlarm(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actor_alarms WHERE actor_id = ?`, s.id); err != nil {
		return fmt.Errorf("sqlitestore: delete alarm: %w", err)
	}
	return nil
}
