package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// SessionStore is the PostgreSQL view of exam sessions.
type SessionStore interface {
	GetForStudent(ctx context.Context, id uuid.UUID, studentID int) (*model.Session, error)
	Start(ctx context.Context, id uuid.UUID, studentID int, now time.Time) (*model.Session, error)
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]repository.OverdueSession, error)
}

type QuestionStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error)
}

type ProgressRepo interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*model.ProgressSnapshot, error)
	SubmitFinal(ctx context.Context, snap model.ProgressSnapshot, finishedAt time.Time) error
}

// HotCache is the Redis hot path.
type HotCache interface {
	SaveSnapshot(ctx context.Context, snap model.ProgressSnapshot) error
	Snapshot(ctx context.Context, sessionID string) (*model.ProgressSnapshot, error)
	EnqueueProgress(ctx context.Context, job model.ProgressJob) error
	EnqueueCheat(ctx context.Context, ev model.CheatEvent) error
	StartTime(ctx context.Context, sessionID string) (time.Time, bool, error)
	SetStartTime(ctx context.Context, sessionID string, at time.Time) error
	Questions(ctx context.Context, sessionID string) ([]model.Question, bool, error)
	SetQuestions(ctx context.Context, sessionID string, qs []model.Question) error
	PublishMonitor(ctx context.Context, examID string, payload any) error
	Forget(ctx context.Context, sessionID string) error
}

// Gateway adapts Redis and PostgreSQL to the engine collaborators. In-progress
// saves go to Redis and a persist queue; final submissions are written to
// PostgreSQL synchronously.
type Gateway struct {
	sessions      SessionStore
	questions     QuestionStore
	progress      ProgressRepo
	cache         HotCache
	clock         clockwork.Clock
	beaconTimeout time.Duration
	log           zerolog.Logger
}

func NewGateway(sessions SessionStore, questions QuestionStore, progress ProgressRepo, cache HotCache, clock clockwork.Clock, log zerolog.Logger) *Gateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gateway{
		sessions:      sessions,
		questions:     questions,
		progress:      progress,
		cache:         cache,
		clock:         clock,
		beaconTimeout: 3 * time.Second,
		log:           log.With().Str("component", "gateway").Logger(),
	}
}

var (
	_ engine.ProgressStore  = (*Gateway)(nil)
	_ engine.ProgressLoader = (*Gateway)(nil)
	_ engine.QuestionSource = (*Gateway)(nil)
	_ engine.ConfigSource   = (*Gateway)(nil)
	_ engine.BeaconSender   = (*Gateway)(nil)
)

// SaveProgress upserts a snapshot. Repeated calls with the same snapshot are
// harmless on both paths.
func (g *Gateway) SaveProgress(ctx context.Context, creds model.Credentials, snap model.ProgressSnapshot, status model.ProgressStatus) error {
	if status == model.ProgressStatusSubmitted {
		if err := g.progress.SubmitFinal(ctx, snap, g.clock.Now()); err != nil {
			return fmt.Errorf("submit final progress: %w", err)
		}
		if err := g.cache.SaveSnapshot(ctx, snap); err != nil {
			g.log.Warn().Err(err).Str("session_id", snap.SessionID).Msg("Failed to cache final snapshot")
		}
		return nil
	}
	return g.stage(ctx, creds, snap, status)
}

func (g *Gateway) stage(ctx context.Context, creds model.Credentials, snap model.ProgressSnapshot, status model.ProgressStatus) error {
	cacheErr := g.cache.SaveSnapshot(ctx, snap)
	queueErr := g.cache.EnqueueProgress(ctx, model.ProgressJob{
		StudentID:  creds.StudentID,
		Status:     status,
		Snapshot:   snap,
		EnqueuedAt: g.clock.Now().UnixMilli(),
	})
	return errors.Join(cacheErr, queueErr)
}

// SendBeacon stages an unload snapshot with a short deadline of its own.
func (g *Gateway) SendBeacon(creds model.Credentials, snap model.ProgressSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), g.beaconTimeout)
	defer cancel()
	if err := g.stage(ctx, creds, snap, model.ProgressStatusInProgress); err != nil {
		g.log.Warn().Err(err).Str("session_id", snap.SessionID).Msg("Beacon delivery failed")
	}
}

// LoadProgress prefers the cached snapshot and falls back to PostgreSQL.
func (g *Gateway) LoadProgress(ctx context.Context, _ model.Credentials, sessionID string) (*model.ProgressSnapshot, error) {
	snap, err := g.cache.Snapshot(ctx, sessionID)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("Progress cache read failed, using database")
	}
	if snap != nil {
		return snap, nil
	}

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	snap, err = g.progress.Get(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return snap, nil
}

// ListQuestions returns the ordered questions of a session.
func (g *Gateway) ListQuestions(ctx context.Context, _ model.Credentials, sessionID string) ([]model.Question, error) {
	if qs, ok, err := g.cache.Questions(ctx, sessionID); err == nil && ok {
		return qs, nil
	}

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	qs, err := g.questions.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if err := g.cache.SetQuestions(ctx, sessionID, qs); err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to cache questions")
	}
	return qs, nil
}

// SessionConfig reports the authoritative remaining time as
// started_at + duration - now. The start time is read from Redis first and
// self-healed from PostgreSQL on a miss.
func (g *Gateway) SessionConfig(ctx context.Context, creds model.Credentials, sessionID string) (*model.SessionConfig, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	sess, err := g.sessions.GetForStudent(ctx, id, creds.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	cfg := &model.SessionConfig{
		Duration: sess.DurationSeconds,
		Status:   sess.Status,
	}
	if qs, err := g.ListQuestions(ctx, creds, sessionID); err == nil {
		cfg.TotalQuestionsCount = len(qs)
	}

	startedAt, ok, err := g.cache.StartTime(ctx, sessionID)
	if err != nil || !ok {
		if sess.StartedAt == nil {
			return cfg, nil
		}
		startedAt = *sess.StartedAt
		if err := g.cache.SetStartTime(ctx, sessionID, startedAt); err != nil {
			g.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to self-heal start time")
		}
	}

	remaining := startedAt.Add(sess.TotalDuration()).Sub(g.clock.Now())
	cfg.RemainingTime = engine.FormatHMS(remaining)
	return cfg, nil
}

// RecordCheat queues an anti-cheat entry for the cheat worker.
func (g *Gateway) RecordCheat(ctx context.Context, ev model.CheatEvent) {
	if err := g.cache.EnqueueCheat(ctx, ev); err != nil {
		g.log.Error().Err(err).Str("session_id", ev.SessionID).Msg("Failed to queue cheat event")
	}
}
