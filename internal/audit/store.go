// Package audit persists every fired notification to a SQLite-backed
// append log (SPEC_FULL.md §4.9). The store is write-behind: callers
// invoke Record after their own notification handling completes, and a
// failure to persist is logged, never returned to the caller that fired
// the notification.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Kind distinguishes the two notification kinds recorded to the audit log.
type Kind string

const (
	KindLimitReached Kind = "limit_reached"
	KindSessionEnd   Kind = "session_end"
)

// Record is one row of the audit log: a single Notifier invocation.
type Record struct {
	ID            string
	Kind          Kind
	UID           int32
	UserID        int32
	ObserverID    int32
	TimeLimitMs   uint64
	TimeElapsedMs uint64
	FiredAt       time.Time
	Callback      json.RawMessage
}

// Store is a SQLite-backed append log of fired notifications.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or reuses) the SQLite file at path and migrates it to the
// latest audit schema. Mirrors the teacher's WAL-mode, owner-only-file-perm
// SQLite setup, scoped down to this store's single table.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("audit store path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit store: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set audit store file permissions", "path", path, "error", err)
	}

	logger.Info("audit store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Record appends a single audit row. Errors are the caller's to log or
// discard per the write-behind contract described in the package doc.
func (s *Store) Record(ctx context.Context, r Record) error {
	if s.db == nil {
		return fmt.Errorf("audit store is closed")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	callback := r.Callback
	if callback == nil {
		callback = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_records (
    id, kind, uid, user_id, observer_id, time_limit_ms, time_elapsed_ms, fired_at, callback
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		r.ID, string(r.Kind), r.UID, r.UserID, r.ObserverID,
		r.TimeLimitMs, r.TimeElapsedMs, r.FiredAt.UnixMilli(), string(callback),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListByUser returns the most recent audit rows for userID, newest first,
// bounded by limit. Backs the API façade's audit query endpoint.
func (s *Store) ListByUser(ctx context.Context, userID int32, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, uid, user_id, observer_id, time_limit_ms, time_elapsed_ms, fired_at, callback
FROM audit_records
WHERE user_id = ?
ORDER BY fired_at DESC
LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kind, callback string
		var firedAt int64
		if err := rows.Scan(&r.ID, &kind, &r.UID, &r.UserID, &r.ObserverID,
			&r.TimeLimitMs, &r.TimeElapsedMs, &firedAt, &callback); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Kind = Kind(kind)
		r.FiredAt = time.UnixMilli(firedAt)
		r.Callback = json.RawMessage(callback)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle. Idempotent.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
