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

// CheatRepository writes anti-cheat audit entries.
type CheatRepository struct {
	pool *pgxpool.Pool
}

func NewCheatRepository(pool *pgxpool.Pool) *CheatRepository {
	return &CheatRepository{pool: pool}
}

// ErrInvalidRow marks an entry that can never be inserted.
var ErrInvalidRow = errors.New("invalid cheat event")

var cheatColumns = []string{"session_id", "student_id", "event_type", "tab_switch_count", "details", "occurred_at"}

// CopyEvents bulk inserts a batch. Any invalid row fails the whole batch so
// the caller can fall back to InsertEvent.
func (r *CheatRepository) CopyEvents(ctx context.Context, batch []model.CheatEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, ev := range batch {
		sessionID, err := uuid.Parse(ev.SessionID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}
		rows = append(rows, []any{
			sessionID, ev.StudentID, string(ev.EventType), ev.TabSwitchCount, ev.Details, time.UnixMilli(ev.OccurredAt),
		})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"session_cheat_events"},
		cheatColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertEvent inserts a single entry.
func (r *CheatRepository) InsertEvent(ctx context.Context, ev model.CheatEvent) error {
	sessionID, err := uuid.Parse(ev.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRow, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO session_cheat_events (session_id, student_id, event_type, tab_switch_count, details, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, ev.StudentID, string(ev.EventType), ev.TabSwitchCount, ev.Details, time.UnixMilli(ev.OccurredAt),
	)
	return err
}
