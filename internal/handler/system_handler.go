package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveCounter reports how many session engines run in this process.
type LiveCounter interface {
	Live() int
}

// SystemHandler reports process health and queue backlog.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	live      LiveCounter
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(db Pinger, rdb *redis.Client, live LiveCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		live:      live,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status       string `json:"status"`
	Postgres     string `json:"postgres"`
	Redis        string `json:"redis"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
	Goroutines   int    `json:"goroutines"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	LiveSessions int    `json:"live_sessions"`

	// Worker Queues
	QueueProgress int64 `json:"queue_progress"`
	QueueCheats   int64 `json:"queue_cheats"`
}

// Health godoc
// GET /health
// Answers 503 when PostgreSQL or Redis is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	report := h.collect(c.Request.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}

func (h *SystemHandler) collect(parent context.Context) healthReport {
	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	r := healthReport{
		Status:       "ok",
		Postgres:     "ok",
		Redis:        "ok",
		Uptime:       formatDuration(time.Since(h.startTime)),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
		LiveSessions: h.live.Live(),
	}

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
		r.Postgres, r.Status = "unreachable", "degraded"
	}

	// ── Worker Queues (pipelined LLEN) ──
	pipe := h.rdb.Pipeline()
	progressCmd := pipe.LLen(ctx, config.WorkerKey.PersistProgressQueue)
	cheatsCmd := pipe.LLen(ctx, config.WorkerKey.PersistCheatsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		r.Redis, r.Status = "unreachable", "degraded"
	} else {
		r.QueueProgress, _ = progressCmd.Result()
		r.QueueCheats, _ = cheatsCmd.Result()
	}
	return r
}

func formatDuration(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
