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
	"github.com/stemsi/exstem-attempt/internal/repository"
)

const (
	DefaultCheatBatchSize = 50
	DefaultCheatFlush     = 2 * time.Second
)

// CheatWriter persists anti-cheat audit entries.
type CheatWriter interface {
	CopyEvents(ctx context.Context, batch []model.CheatEvent) error
	InsertEvent(ctx context.Context, ev model.CheatEvent) error
}

// CheatWorker batches persist_cheats_queue into PostgreSQL.
type CheatWorker struct {
	writer     CheatWriter
	rdb        *redis.Client
	batchSize  int
	flushEvery time.Duration
	backoff    time.Duration
	log        zerolog.Logger
}

func NewCheatWorker(writer CheatWriter, rdb *redis.Client, batchSize int, flushEvery time.Duration, log zerolog.Logger) *CheatWorker {
	if batchSize <= 0 {
		batchSize = DefaultCheatBatchSize
	}
	if flushEvery <= 0 {
		flushEvery = DefaultCheatFlush
	}
	return &CheatWorker{
		writer:     writer,
		rdb:        rdb,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		backoff:    2 * time.Second,
		log:        log.With().Str("component", "cheat_worker").Logger(),
	}
}

func (w *CheatWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("Worker started")

	buffer := make([]model.CheatEvent, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		// Flush on size or age.
		if len(buffer) > 0 && (len(buffer) >= w.batchSize || time.Since(lastFlush) >= w.flushEvery) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, pollTimeout, config.WorkerKey.PersistCheatsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.CheatEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			// Malformed entries cannot be retried.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed cheat event")
			metrics.QueueItemsTotal.WithLabelValues("cheat", "discarded").Inc()
			continue
		}
		buffer = append(buffer, ev)
	}
}

// flushSafe tries a bulk copy, then row-by-row inserts, then requeues.
func (w *CheatWorker) flushSafe(ctx context.Context, batch []model.CheatEvent) {
	err := w.writer.CopyEvents(ctx, batch)
	if err == nil {
		metrics.QueueItemsTotal.WithLabelValues("cheat", "ok").Add(float64(len(batch)))
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	w.fallbackInsert(ctx, batch)
}

func (w *CheatWorker) fallbackInsert(ctx context.Context, batch []model.CheatEvent) {
	var requeue []model.CheatEvent
	for _, ev := range batch {
		err := w.writer.InsertEvent(ctx, ev)
		switch {
		case err == nil:
			metrics.QueueItemsTotal.WithLabelValues("cheat", "ok").Inc()
		case errors.Is(err, repository.ErrInvalidRow):
			w.log.Error().Err(err).Str("session_id", ev.SessionID).Msg("Dropping invalid cheat event")
			metrics.QueueItemsTotal.WithLabelValues("cheat", "discarded").Inc()
		default:
			w.log.Error().Err(err).Int("student_id", ev.StudentID).Msg("Insert failed, requeueing")
			requeue = append(requeue, ev)
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *CheatWorker) requeue(ctx context.Context, items []model.CheatEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistCheatsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue cheat events, data lost")
		metrics.QueueItemsTotal.WithLabelValues("cheat", "lost").Add(float64(len(items)))
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	metrics.QueueItemsTotal.WithLabelValues("cheat", "requeued").Add(float64(len(items)))
	sleep(ctx, w.backoff)
}

func (w *CheatWorker) shutdown(buffer []model.CheatEvent) {
	w.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
}
