package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// MonitorRepository provides the read side of the proctor monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListStudents returns every session of an exam with its persisted progress
// counters. Answered counts come from the last flushed snapshot.
func (r *MonitorRepository) ListStudents(ctx context.Context, examID uuid.UUID) ([]model.MonitorStudent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.student_id, s.status, s.started_at,
		        COALESCE((SELECT COUNT(*) FROM jsonb_array_elements(p.answers) a
		                  WHERE a->>'chosenOption' <> 'X'), 0),
		        COALESCE(p.tab_switch_count, 0),
		        p.last_saved_at
		 FROM exam_sessions s
		 LEFT JOIN session_progress p ON p.session_id = s.id
		 WHERE s.exam_id = $1
		 ORDER BY s.student_id`,
		examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list monitor students: %w", err)
	}
	defer rows.Close()

	var out []model.MonitorStudent
	for rows.Next() {
		var m model.MonitorStudent
		if err := rows.Scan(&m.SessionID, &m.StudentID, &m.Status, &m.StartedAt,
			&m.AnsweredCount, &m.TabSwitchCount, &m.LastSavedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CheatCounts returns the number of anti-cheat events recorded per session
// of the given exam.
func (r *MonitorRepository) CheatCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.session_id, COUNT(*)
		 FROM session_cheat_events e
		 JOIN exam_sessions s ON s.id = e.session_id
		 WHERE s.exam_id = $1
		 GROUP BY e.session_id`,
		examID,
	)
	if err != nil {
		return nil, fmt.Errorf("count cheat events: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
