package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// MonitorStore is the read side used by the proctor monitor.
type MonitorStore interface {
	ListStudents(ctx context.Context, examID uuid.UUID) ([]model.MonitorStudent, error)
	CheatCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
}

// MonitorService builds the proctor's view of an exam.
type MonitorService struct {
	store MonitorStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store MonitorStore) *MonitorService {
	return &MonitorService{store: store}
}

// Snapshot returns every session of an exam with aggregate counters. The two
// reads run concurrently; cheat counts are best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*model.MonitorSnapshot, error) {
	var (
		students    []model.MonitorStudent
		cheatCounts map[uuid.UUID]int64
		studentsErr error
		cheatErr    error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		students, studentsErr = s.store.ListStudents(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		cheatCounts, cheatErr = s.store.CheatCounts(ctx, examID)
	}()
	wg.Wait()

	if studentsErr != nil {
		return nil, studentsErr
	}

	snap := &model.MonitorSnapshot{
		ExamID:   examID,
		Students: make([]model.MonitorStudent, 0, len(students)),
	}
	for _, st := range students {
		if cheatErr == nil {
			st.CheatCount = cheatCounts[st.SessionID]
		}
		snap.Stats.TotalCheats += st.CheatCount
		snap.Stats.TotalSessions++
		switch st.Status {
		case model.SessionStatusNotStarted:
			snap.Stats.TotalNotStarted++
		case model.SessionStatusInProgress:
			snap.Stats.TotalInProgress++
		case model.SessionStatusSubmitted:
			snap.Stats.TotalSubmitted++
		case model.SessionStatusCancelled:
			snap.Stats.TotalCancelled++
		}
		snap.Students = append(snap.Students, st)
	}
	return snap, nil
}
