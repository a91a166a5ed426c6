package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	DefaultReconcileInterval = 30 * time.Second
	DefaultReconcileTries    = 20
	reconcileBatch           = 50
)

// SubmissionJournal is the local record of undelivered final submissions.
type SubmissionJournal interface {
	Pending(ctx context.Context, limit, maxAttempts int) ([]model.FailedSubmission, error)
	MarkAttempt(ctx context.Context, id int64, lastErr string) error
	ResolveSession(ctx context.Context, sessionID string) error
}

// FinalWriter writes a final submission.
type FinalWriter interface {
	SubmitFinal(ctx context.Context, snap model.ProgressSnapshot, finishedAt time.Time) error
}

// LiveSessions reports sessions whose engine is still running. A failed
// manual submission of a live session stays with its engine for retry.
type LiveSessions interface {
	IsLive(sessionID string) bool
}

// ReconcileWorker replays journaled submissions that never reached the
// database.
type ReconcileWorker struct {
	journal     SubmissionJournal
	writer      FinalWriter
	live        LiveSessions
	clock       clockwork.Clock
	interval    time.Duration
	maxAttempts int
	log         zerolog.Logger
}

func NewReconcileWorker(journal SubmissionJournal, writer FinalWriter, live LiveSessions, clock clockwork.Clock, interval time.Duration, maxAttempts int, log zerolog.Logger) *ReconcileWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultReconcileTries
	}
	return &ReconcileWorker{
		journal:     journal,
		writer:      writer,
		live:        live,
		clock:       clock,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "reconcile_worker").Logger(),
	}
}

func (w *ReconcileWorker) Start(ctx context.Context) {
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

// RunOnce replays one batch and returns how many submissions were delivered.
func (w *ReconcileWorker) RunOnce(ctx context.Context) int {
	pending, err := w.journal.Pending(ctx, reconcileBatch, w.maxAttempts)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to read journal")
		return 0
	}

	delivered := 0
	for _, rec := range pending {
		if w.live != nil && w.live.IsLive(rec.SessionID) {
			continue
		}
		log := w.log.With().Str("session_id", rec.SessionID).Int64("entry", rec.ID).Logger()

		if err := w.writer.SubmitFinal(ctx, rec.Snapshot, rec.CreatedAt); err != nil {
			log.Warn().Err(err).Int("attempts", rec.Attempts+1).Msg("Replay failed")
			metrics.QueueItemsTotal.WithLabelValues("reconcile", "error").Inc()
			if err := w.journal.MarkAttempt(ctx, rec.ID, err.Error()); err != nil {
				log.Error().Err(err).Msg("Failed to record replay attempt")
			}
			if rec.Attempts+1 >= w.maxAttempts {
				log.Error().Msg("Giving up on journaled submission")
			}
			continue
		}

		if err := w.journal.ResolveSession(ctx, rec.SessionID); err != nil {
			log.Error().Err(err).Msg("Failed to resolve journal entry")
		}
		metrics.QueueItemsTotal.WithLabelValues("reconcile", "ok").Inc()
		log.Info().Str("trigger", rec.Trigger).Msg("Journaled submission delivered")
		delivered++
	}
	return delivered
}
