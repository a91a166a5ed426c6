package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

const (
	DefaultSweepInterval = 15 * time.Second
	sweepBatch           = 100
)

type OverdueLister interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]repository.OverdueSession, error)
}

type OverdueFinalizer interface {
	FinalizeOverdue(ctx context.Context, sessionID, examID uuid.UUID, studentID int) error
}

// SweepWorker auto-submits running sessions whose deadline passed while no
// engine was watching them, such as after the student closed the page or
// the server restarted.
type SweepWorker struct {
	sessions  OverdueLister
	finalizer OverdueFinalizer
	clock     clockwork.Clock
	interval  time.Duration
	log       zerolog.Logger
}

func NewSweepWorker(sessions OverdueLister, finalizer OverdueFinalizer, clock clockwork.Clock, interval time.Duration, log zerolog.Logger) *SweepWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SweepWorker{
		sessions:  sessions,
		finalizer: finalizer,
		clock:     clock,
		interval:  interval,
		log:       log.With().Str("component", "sweep_worker").Logger(),
	}
}

func (w *SweepWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.Chan():
			w.RunOnce(ctx)
		}
	}
}

// RunOnce finalizes one batch of overdue sessions.
func (w *SweepWorker) RunOnce(ctx context.Context) int {
	overdue, err := w.sessions.ListOverdue(ctx, w.clock.Now(), sweepBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to list overdue sessions")
		return 0
	}

	finalized := 0
	for _, s := range overdue {
		err := w.finalizer.FinalizeOverdue(ctx, s.ID, s.ExamID, s.StudentID)
		metrics.QueueItemsTotal.WithLabelValues("sweep", metrics.Outcome(err)).Inc()
		if err != nil {
			w.log.Error().Err(err).Str("session_id", s.ID.String()).Time("deadline", s.Deadline).Msg("Failed to finalize overdue session")
			continue
		}
		finalized++
	}
	if finalized > 0 {
		w.log.Info().Int("count", finalized).Msg("Finalized overdue sessions")
	}
	return finalized
}
