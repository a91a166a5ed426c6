// Package journal keeps a local SQLite record of final submissions that could
// not be delivered, so they can be replayed once the backend recovers.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"

	_ "modernc.org/sqlite"
)

const createFailedSubmissionsTable = `
CREATE TABLE IF NOT EXISTS failed_submissions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     TEXT    NOT NULL,
    student_id     INTEGER NOT NULL,
    submit_trigger TEXT    NOT NULL,
    snapshot       TEXT    NOT NULL,
    last_error     TEXT    NOT NULL,
    attempts       INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    resolved_at    INTEGER
)`

const createPendingIndex = `
CREATE INDEX IF NOT EXISTS idx_failed_submissions_pending
    ON failed_submissions (resolved_at, created_at)`

// Journal implements the engine failure recorder on SQLite.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the journal at path and creates its schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createFailedSubmissionsTable,
		createPendingIndex,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordFailedSubmission appends an undelivered submission.
func (j *Journal) RecordFailedSubmission(ctx context.Context, rec model.FailedSubmission) error {
	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = j.now()
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO failed_submissions (session_id, student_id, submit_trigger, snapshot, last_error, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.StudentID, rec.Trigger, string(snap), rec.LastError, rec.Attempts, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert failed submission: %w", err)
	}
	return nil
}

// ResolveSession marks every pending entry of a session as resolved.
func (j *Journal) ResolveSession(ctx context.Context, sessionID string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE failed_submissions SET resolved_at = ? WHERE session_id = ? AND resolved_at IS NULL`,
		j.now().UnixMilli(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	return nil
}

// Pending returns the newest unresolved entry of each session that has had
// fewer than maxAttempts replays, oldest first.
func (j *Journal) Pending(ctx context.Context, limit, maxAttempts int) ([]model.FailedSubmission, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT f.id, f.session_id, f.student_id, f.submit_trigger, f.snapshot, f.last_error, f.attempts, f.created_at
		 FROM failed_submissions f
		 WHERE f.resolved_at IS NULL AND f.attempts < ?
		   AND f.id = (SELECT MAX(id) FROM failed_submissions g
		               WHERE g.session_id = f.session_id AND g.resolved_at IS NULL)
		 ORDER BY f.created_at
		 LIMIT ?`, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []model.FailedSubmission
	for rows.Next() {
		var (
			rec     model.FailedSubmission
			snap    string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Trigger, &snap, &rec.LastError, &rec.Attempts, &created); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		if err := json.Unmarshal([]byte(snap), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %d: %w", rec.ID, err)
		}
		rec.CreatedAt = time.UnixMilli(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkAttempt records a failed replay.
func (j *Journal) MarkAttempt(ctx context.Context, id int64, lastErr string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE failed_submissions SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("mark attempt: %w", err)
	}
	return nil
}
