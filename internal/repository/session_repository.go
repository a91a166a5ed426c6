package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// OverdueSession is an in-progress session whose deadline has passed.
type OverdueSession struct {
	ID        uuid.UUID
	ExamID    uuid.UUID
	StudentID int
	Deadline  time.Time
}

// SessionRepository handles exam session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, student_id, duration_seconds, status, started_at, finished_at, created_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	if err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.DurationSeconds, &s.Status, &s.StartedAt, &s.FinishedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// GetForStudent retrieves a session owned by the given student.
func (r *SessionRepository) GetForStudent(ctx context.Context, id uuid.UUID, studentID int) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE id = $1 AND student_id = $2`, id, studentID,
	))
}

// Start moves a session to IN_PROGRESS and stamps started_at exactly once.
// Calling it on an already running session returns it unchanged; terminal
// sessions are returned as-is so the caller can reject them.
func (r *SessionRepository) Start(ctx context.Context, id uuid.UUID, studentID int, now time.Time) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $3, started_at = COALESCE(started_at, $4)
		 WHERE id = $1 AND student_id = $2 AND status IN ($5, $3)
		 RETURNING `+sessionColumns,
		id, studentID, model.SessionStatusInProgress, now, model.SessionStatusNotStarted,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or terminal. Refetch to tell them apart.
		return r.GetForStudent(ctx, id, studentID)
	}
	return s, err
}

// Cancel marks a running session as cancelled.
func (r *SessionRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $2, finished_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.SessionStatusCancelled, now, model.SessionStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListOverdue returns running sessions whose deadline passed before now.
func (r *SessionRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]OverdueSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, started_at + make_interval(secs => duration_seconds) AS deadline
		 FROM exam_sessions
		 WHERE status = $1
		   AND started_at IS NOT NULL
		   AND started_at + make_interval(secs => duration_seconds) <= $2
		 ORDER BY deadline
		 LIMIT $3`,
		model.SessionStatusInProgress, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue sessions: %w", err)
	}
	defer rows.Close()

	var out []OverdueSession
	for rows.Next() {
		var o OverdueSession
		if err := rows.Scan(&o.ID, &o.ExamID, &o.StudentID, &o.Deadline); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
