package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ProgressRepository persists progress snapshots to session_progress.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Get returns the stored snapshot for a session.
func (r *ProgressRepository) Get(ctx context.Context, sessionID uuid.UUID) (*model.ProgressSnapshot, error) {
	var (
		answers, history []byte
		durationUsed     *string
		snap             model.ProgressSnapshot
	)
	err := r.pool.QueryRow(ctx,
		`SELECT answers, remaining_time, current_question_index, tab_switch_count,
		        tab_switch_history, duration_used, last_saved_at
		 FROM session_progress WHERE session_id = $1`, sessionID,
	).Scan(&answers, &snap.RemainingTime, &snap.CurrentQuestionIndex, &snap.TabSwitchCount,
		&history, &durationUsed, &snap.LastSavedAt)
	if err != nil {
		return nil, err
	}

	snap.SessionID = sessionID.String()
	if err := json.Unmarshal(answers, &snap.QuestionAnswers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if err := json.Unmarshal(history, &snap.TabSwitchHistory); err != nil {
		return nil, fmt.Errorf("decode tab history: %w", err)
	}
	if durationUsed != nil {
		snap.DurationUsed = *durationUsed
	}
	return &snap, nil
}

// Upsert writes a full snapshot. A SUBMITTED row is never overwritten by an
// in-progress snapshot that arrives late.
func (r *ProgressRepository) Upsert(ctx context.Context, snap model.ProgressSnapshot, status model.ProgressStatus) error {
	return upsertProgress(ctx, r.pool, snap, status)
}

// SubmitFinal stores the final snapshot and closes the session in one transaction.
func (r *ProgressRepository) SubmitFinal(ctx context.Context, snap model.ProgressSnapshot, finishedAt time.Time) error {
	id, err := uuid.Parse(snap.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := upsertProgress(ctx, tx, snap, model.ProgressStatusSubmitted); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $2, finished_at = COALESCE(finished_at, $3)
		 WHERE id = $1 AND status <> $4`,
		id, model.SessionStatusSubmitted, finishedAt, model.SessionStatusCancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

func upsertProgress(ctx context.Context, db execer, snap model.ProgressSnapshot, status model.ProgressStatus) error {
	id, err := uuid.Parse(snap.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	answers, err := json.Marshal(snap.QuestionAnswers)
	if err != nil {
		return err
	}
	history := snap.TabSwitchHistory
	if history == nil {
		history = []model.TabSwitchRecord{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}
	var durationUsed *string
	if snap.DurationUsed != "" {
		durationUsed = &snap.DurationUsed
	}

	_, err = db.Exec(ctx,
		`INSERT INTO session_progress
		   (session_id, answers, remaining_time, current_question_index, tab_switch_count,
		    tab_switch_history, duration_used, status, last_saved_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (session_id) DO UPDATE
		 SET answers = EXCLUDED.answers,
		     remaining_time = EXCLUDED.remaining_time,
		     current_question_index = EXCLUDED.current_question_index,
		     tab_switch_count = EXCLUDED.tab_switch_count,
		     tab_switch_history = EXCLUDED.tab_switch_history,
		     duration_used = COALESCE(EXCLUDED.duration_used, session_progress.duration_used),
		     status = EXCLUDED.status,
		     last_saved_at = EXCLUDED.last_saved_at,
		     updated_at = NOW()
		 WHERE session_progress.status <> 'SUBMITTED' OR EXCLUDED.status = 'SUBMITTED'`,
		id, answers, snap.RemainingTime, snap.CurrentQuestionIndex, snap.TabSwitchCount,
		historyJSON, durationUsed, status, snap.LastSavedAt,
	)
	return err
}
