// Package store is the local session cache: a SQLite database holding one JSON
// snapshot per rater, plus dataset fingerprints and deployment metadata.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/rater/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		saves INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dataset_fingerprints (
		dataset_key TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		hash TEXT NOT NULL,
		cases INTEGER NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rater_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SessionInfo summarizes one cached snapshot.
type SessionInfo struct {
	UserID    string
	Saves     int
	Size      int
	UpdatedAt time.Time
}

// Get returns the snapshot stored for userID, or model.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// Put replaces the snapshot for userID.
func (s *Store) Put(ctx context.Context, userID string, data []byte) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, data, saves, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data = ?, saves = saves + 1, updated_at = ?`,
		userID, string(data), now, string(data), now,
	)
	if err != nil {
		slog.Error("failed to cache session", "user", userID, "error", err)
	}
	return err
}

// Delete removes the snapshot for userID. Deleting a missing user is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

// ListSessions returns every cached snapshot, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, saves, length(data), updated_at FROM sessions ORDER BY updated_at DESC, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.UserID, &info.Saves, &info.Size, &info.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// SessionCount returns the number of cached snapshots.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}
