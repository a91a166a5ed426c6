package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const pollTimeout = time.Second // BLPop needs at least one second

// ProgressWriter upserts in-progress snapshots.
type ProgressWriter interface {
	Upsert(ctx context.Context, snap model.ProgressSnapshot, status model.ProgressStatus) error
}

// ProgressWorker consumes persist_progress_queue and upserts snapshots into
// PostgreSQL.
type ProgressWorker struct {
	writer     ProgressWriter
	rdb        *redis.Client
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(writer ProgressWriter, rdb *redis.Client, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		writer:     writer,
		rdb:        rdb,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "progress_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ProgressWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, pollTimeout, config.WorkerKey.PersistProgressQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleep(ctx, w.retryDelay)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, requeueing")
		if err := w.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, result[1]).Err(); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: failed to requeue progress snapshot")
		}
		sleep(ctx, w.retryDelay)
	}
}

// handle persists one queue entry. Malformed entries are dropped.
func (w *ProgressWorker) handle(ctx context.Context, raw string) error {
	var job model.ProgressJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed progress job")
		metrics.QueueItemsTotal.WithLabelValues("progress", "discarded").Inc()
		return nil
	}
	status := job.Status
	if status == "" {
		status = model.ProgressStatusInProgress
	}
	err := w.writer.Upsert(ctx, job.Snapshot, status)
	metrics.QueueItemsTotal.WithLabelValues("progress", metrics.Outcome(err)).Inc()
	return err
}

// drain persists what is left in the queue before shutdown.
func (w *ProgressWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistProgressQueue).Result()
		if err != nil {
			break
		}
		if err := w.handle(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
