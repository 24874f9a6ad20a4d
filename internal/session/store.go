// Package session persists MTProto authorization data in a SQLite file, one
// row per session name, so a restart does not require logging in again.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tgsession "github.com/gotd/td/session"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the gotd session.Storage interface.
type SQLiteStorage struct {
	db     *sql.DB
	name   string
	logger *slog.Logger
}

var _ tgsession.Storage = (*SQLiteStorage)(nil)

// Open opens (or creates) the session database at dbPath. Rows are keyed by
// name so several sessions can share one file.
func Open(dbPath, name string, logger *slog.Logger) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create session directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open session database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db, name: name, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS mtproto_sessions (
		name        TEXT PRIMARY KEY,
		data        BLOB NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

// LoadSession returns the stored session or tgsession.ErrNotFound.
func (s *SQLiteStorage) LoadSession(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM mtproto_sessions WHERE name = ?`, s.name,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, tgsession.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", s.name, err)
	}
	return data, nil
}

// StoreSession upserts the session row.
func (s *SQLiteStorage) StoreSession(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mtproto_sessions (name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.name, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store session %s: %w", s.name, err)
	}
	s.logger.Debug("session stored", "session", s.name, "bytes", len(data))
	return nil
}

// Delete removes the stored session, forcing a fresh login on next start.
func (s *SQLiteStorage) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mtproto_sessions WHERE name = ?`, s.name)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
