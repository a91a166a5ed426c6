package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/events"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"golang.org/x/sync/singleflight"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrForbidden       = errors.New("session belongs to another student")
	ErrNotStarted      = errors.New("session has not been started")
)

const (
	sideEffectTimeout = 5 * time.Second
	resyncTolerance   = 2 * time.Second
)

// StartResult is returned when a session is started or resumed.
type StartResult struct {
	State              *engine.State              `json:"state"`
	Questions          []model.QuestionForStudent `json:"questions"`
	FullscreenRequired bool                       `json:"fullscreen_required"`
	Config             *model.SessionConfig       `json:"config,omitempty"`
}

type liveSession struct {
	eng    *engine.Engine
	creds  model.Credentials
	examID string
	hub    *hub
	qs     []model.Question
	stop   chan struct{}
}

// AttemptService owns the session engines running in this process and
// routes student commands to them.
type AttemptService struct {
	sessions   SessionStore
	gateway    *Gateway
	cache      HotCache
	reconciler *engine.Reconciler
	failures   engine.FailureRecorder
	publisher  events.Publisher
	clock      clockwork.Clock
	cfg        engine.Config
	log        zerolog.Logger

	mu   sync.Mutex
	live map[string]*liveSession
	wg   sync.WaitGroup

	// launches collapses concurrent launches of one session into one engine.
	launches singleflight.Group
}

func NewAttemptService(
	sessions SessionStore,
	gateway *Gateway,
	cache HotCache,
	failures engine.FailureRecorder,
	publisher events.Publisher,
	clock clockwork.Clock,
	cfg engine.Config,
	log zerolog.Logger,
) *AttemptService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = events.NewNopPublisher(log)
	}
	return &AttemptService{
		sessions:   sessions,
		gateway:    gateway,
		cache:      cache,
		reconciler: engine.NewReconciler(gateway, gateway, gateway, log),
		failures:   failures,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		log:        log.With().Str("component", "attempt_service").Logger(),
		live:       make(map[string]*liveSession),
	}
}

// Start begins or resumes an attempt. Starting a session that already runs
// in this process returns its current state.
func (s *AttemptService) Start(ctx context.Context, creds model.Credentials, sessionID uuid.UUID, viewportWidth int) (*StartResult, error) {
	ls, err := s.ensure(ctx, creds, sessionID, true)
	if err != nil {
		return nil, err
	}
	cfg, err := s.gateway.SessionConfig(ctx, creds, sessionID.String())
	if err == nil {
		s.resync(ls, cfg)
	} else {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load session config")
		cfg = nil
	}
	st, err := ls.eng.View()
	if err != nil {
		return nil, err
	}
	out := &StartResult{
		State:              st,
		Questions:          make([]model.QuestionForStudent, 0, len(ls.qs)),
		FullscreenRequired: ls.eng.FullscreenRequired(viewportWidth),
		Config:             cfg,
	}
	for _, q := range ls.qs {
		out.Questions = append(out.Questions, q.ForStudent())
	}
	return out, nil
}

// resync moves a live engine's deadline to the server-reported remaining
// time when the two disagree by more than resyncTolerance.
func (s *AttemptService) resync(ls *liveSession, cfg *model.SessionConfig) {
	if cfg.Status != model.SessionStatusInProgress || cfg.RemainingTime == "" {
		return
	}
	authoritative, err := engine.ParseHMS(cfg.RemainingTime)
	if err != nil {
		return
	}
	drift := ls.eng.Remaining() - authoritative
	if drift < 0 {
		drift = -drift
	}
	if drift <= resyncTolerance {
		return
	}
	if err := ls.eng.Resync(authoritative); err != nil {
		s.log.Warn().Err(err).Str("session_id", ls.eng.ID()).Msg("Failed to resync deadline")
		return
	}
	s.log.Info().
		Str("session_id", ls.eng.ID()).
		Dur("drift", drift).
		Dur("remaining", authoritative).
		Msg("Deadline resynced")
}

// ensure returns the live engine for a session, launching it from stored
// state when this process has none. Only start may move a session out of
// NOT_STARTED.
func (s *AttemptService) ensure(ctx context.Context, creds model.Credentials, sessionID uuid.UUID, start bool) (*liveSession, error) {
	id := sessionID.String()
	if ls, err := s.lookup(creds, id); err == nil {
		return ls, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	// PostgreSQL keeps microseconds; truncating lets a fresh start be
	// recognised by comparing started_at with now.
	now := s.clock.Now().Truncate(time.Microsecond)
	var (
		sess *model.Session
		err  error
	)
	if start {
		sess, err = s.sessions.Start(ctx, sessionID, creds.StudentID, now)
	} else {
		sess, err = s.sessions.GetForStudent(ctx, sessionID, creds.StudentID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	switch {
	case sess.Status.Terminal():
		return nil, engine.ErrSessionClosed
	case sess.Status == model.SessionStatusNotStarted:
		return nil, ErrNotStarted
	}
	fresh := start && sess.StartedAt != nil && sess.StartedAt.Equal(now)
	if sess.StartedAt != nil {
		if err := s.cache.SetStartTime(ctx, id, *sess.StartedAt); err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to cache start time")
		}
	}

	ls, err := s.launch(ctx, creds, sess.ExamID.String(), id, sess.TotalDuration(), nil)
	if err != nil {
		return nil, err
	}
	if fresh {
		s.publish(ls, id, events.TypeSessionStarted, map[string]any{"exam_id": ls.examID})
	}
	return ls, nil
}

// launch reconciles stored state and registers a running engine. A
// non-nil remaining overrides the reconciled remaining time. Concurrent
// launches of the same session share one engine.
func (s *AttemptService) launch(ctx context.Context, creds model.Credentials, examID, id string, nominal time.Duration, remaining *time.Duration) (*liveSession, error) {
	v, err, _ := s.launches.Do(id, func() (any, error) {
		s.mu.Lock()
		existing, ok := s.live[id]
		s.mu.Unlock()
		if ok {
			return existing, nil
		}
		return s.startEngine(ctx, creds, examID, id, nominal, remaining)
	})
	if err != nil {
		return nil, err
	}
	return v.(*liveSession), nil
}

func (s *AttemptService) startEngine(ctx context.Context, creds model.Credentials, examID, id string, nominal time.Duration, remaining *time.Duration) (*liveSession, error) {
	plan, err := s.reconciler.Reconcile(ctx, creds, id, nominal)
	if err != nil {
		return nil, err
	}
	if remaining != nil {
		plan.Seed.Remaining = remaining
	}

	ls := &liveSession{
		creds:  creds,
		examID: examID,
		hub:    newHub(),
		qs:     plan.Questions,
		stop:   make(chan struct{}),
	}
	eng, err := engine.Start(engine.Options{
		SessionID:     id,
		Credentials:   creds,
		Questions:     plan.Questions,
		TotalDuration: plan.TotalDuration,
		Progress:      s.gateway,
		Beacon:        s.gateway,
		Failures:      s.failures,
		Clock:         s.clock,
		Config:        s.cfg,
		Logger:        s.log,
		OnEvent:       func(ev engine.Event) { s.handleEvent(ls, ev) },
	}, plan.Seed)
	if err != nil {
		return nil, err
	}
	ls.eng = eng

	s.mu.Lock()
	s.live[id] = ls
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.wg.Add(1)
	go s.watch(ls)
	return ls, nil
}

// watch retires an engine once its attempt reaches a terminal status.
func (s *AttemptService) watch(ls *liveSession) {
	defer s.wg.Done()
	select {
	case <-ls.eng.Completed():
	case <-ls.stop:
		return
	}

	id := ls.eng.ID()
	s.mu.Lock()
	if s.live[id] == ls {
		delete(s.live, id)
		metrics.ActiveSessions.Dec()
	}
	s.mu.Unlock()

	ls.eng.Dispose()
	ls.hub.close()

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.cache.Forget(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to clear session cache")
	}
}

func (s *AttemptService) lookup(creds model.Credentials, id string) (*liveSession, error) {
	s.mu.Lock()
	ls, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if ls.creds.StudentID != creds.StudentID {
		return nil, ErrForbidden
	}
	return ls, nil
}

// State returns the current view of a session, resuming it if needed.
func (s *AttemptService) State(ctx context.Context, creds model.Credentials, sessionID uuid.UUID) (*engine.State, error) {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return nil, err
	}
	return ls.eng.View()
}

func (s *AttemptService) Answer(ctx context.Context, creds model.Credentials, sessionID uuid.UUID, questionID string, option int) error {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return err
	}
	return ls.eng.Answer(questionID, option)
}

func (s *AttemptService) Navigate(ctx context.Context, creds model.Credentials, sessionID uuid.UUID, index int) error {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return err
	}
	return ls.eng.Navigate(index)
}

func (s *AttemptService) Visibility(ctx context.Context, creds model.Credentials, sessionID uuid.UUID, visible bool) error {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return err
	}
	return ls.eng.ReportVisibility(visible)
}

// Fullscreen records a fullscreen change or a failed fullscreen request.
func (s *AttemptService) Fullscreen(ctx context.Context, creds model.Credentials, sessionID uuid.UUID, req model.FullscreenRequest) error {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return err
	}
	if req.Failed {
		return ls.eng.ReportFullscreenFailure(req.ViewportWidth, req.Reason)
	}
	return ls.eng.ReportFullscreen(req.Active, req.ViewportWidth)
}

// Submit finalizes an attempt on explicit confirmation.
func (s *AttemptService) Submit(ctx context.Context, creds model.Credentials, sessionID uuid.UUID) (*engine.Result, error) {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return nil, err
	}
	return ls.eng.Submit(ctx)
}

// Beacon stages the latest snapshot of a live session when the page unloads.
// The engine keeps running so an absent student is still auto-submitted.
func (s *AttemptService) Beacon(creds model.Credentials, sessionID uuid.UUID) error {
	ls, err := s.lookup(creds, sessionID.String())
	if err != nil {
		return err
	}
	ls.eng.Unload()
	return nil
}

// Cancel abandons an attempt without submitting it.
func (s *AttemptService) Cancel(ctx context.Context, creds model.Credentials, sessionID uuid.UUID) error {
	ls, err := s.lookup(creds, sessionID.String())
	switch {
	case err == nil:
		if err := ls.eng.Cancel(); err != nil {
			return err
		}
	case errors.Is(err, ErrSessionNotFound):
		if _, err := s.sessions.GetForStudent(ctx, sessionID, creds.StudentID); errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		} else if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
	default:
		return err
	}

	if err := s.sessions.Cancel(ctx, sessionID, s.clock.Now()); errors.Is(err, pgx.ErrNoRows) {
		return engine.ErrSessionClosed
	} else if err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	return nil
}

// Subscribe attaches a stream listener to a live session. The returned
// channel is closed when the session ends or unsubscribe is called.
func (s *AttemptService) Subscribe(ctx context.Context, creds model.Credentials, sessionID uuid.UUID) (<-chan engine.Event, func(), error) {
	ls, err := s.ensure(ctx, creds, sessionID, false)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := ls.hub.subscribe()
	return ch, unsubscribe, nil
}

// FinalizeOverdue auto-submits a session whose deadline passed. Sessions
// not running here are relaunched with no time left, which makes the engine
// submit them immediately.
func (s *AttemptService) FinalizeOverdue(ctx context.Context, sessionID uuid.UUID, examID uuid.UUID, studentID int) error {
	id := sessionID.String()
	s.mu.Lock()
	ls, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		ls.eng.Expire()
		return nil
	}

	creds := model.Credentials{StudentID: studentID}
	sess, err := s.sessions.GetForStudent(ctx, sessionID, studentID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil
	}
	zero := time.Duration(0)
	_, err = s.launch(ctx, creds, examID.String(), id, sess.TotalDuration(), &zero)
	if errors.Is(err, engine.ErrSessionClosed) {
		return nil
	}
	return err
}

// IsLive reports whether an engine for the session runs in this process.
func (s *AttemptService) IsLive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[sessionID]
	return ok
}

// Live reports how many engines run in this process.
func (s *AttemptService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown stages the latest snapshot of every live session and stops
// their engines. In-flight side effects are awaited until ctx expires.
func (s *AttemptService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*liveSession, 0, len(s.live))
	for id, ls := range s.live {
		sessions = append(sessions, ls)
		delete(s.live, id)
		metrics.ActiveSessions.Dec()
	}
	s.mu.Unlock()

	for _, ls := range sessions {
		close(ls.stop)
		snap := ls.eng.Snapshot()
		ls.eng.Dispose()
		ls.hub.close()
		if err := s.gateway.stage(ctx, ls.creds, snap, model.ProgressStatusInProgress); err != nil {
			s.log.Error().Err(err).Str("session_id", ls.eng.ID()).Msg("Failed to stage snapshot on shutdown")
		}
	}
	s.log.Info().Int("sessions", len(sessions)).Msg("Session engines stopped")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleEvent runs on the engine goroutine. Anything that does I/O is
// pushed to a tracked goroutine.
func (s *AttemptService) handleEvent(ls *liveSession, ev engine.Event) {
	switch ev.Type {
	case engine.EventSaved:
		outcome := "ok"
		if ev.Err != "" {
			outcome = "error"
		}
		metrics.SavesTotal.WithLabelValues(string(ev.Lane), outcome).Inc()
	case engine.EventTabWarning:
		metrics.TabSwitchesTotal.Inc()
		s.recordCheat(ls, ev, model.CheatEventTabLeft, "")
		s.publish(ls, ev.SessionID, events.TypeTabSwitch, ev)
	case engine.EventTabReturned:
		s.recordCheat(ls, ev, model.CheatEventTabReturned, "")
	case engine.EventFullscreenBanner:
		kind := model.CheatEventFullscreenFailed
		if ev.Reason == "fullscreen_exited" {
			kind = model.CheatEventFullscreenExit
		}
		s.recordCheat(ls, ev, kind, ev.Reason)
		s.publish(ls, ev.SessionID, events.TypeFullscreen, ev)
	case engine.EventCompleted:
		if ev.Result != nil {
			metrics.SubmissionsTotal.WithLabelValues(string(ev.Result.Trigger), strconv.FormatBool(ev.Result.Delivered)).Inc()
		}
		s.publish(ls, ev.SessionID, events.TypeSessionSubmitted, ev.Result)
	case engine.EventCancelled:
		s.publish(ls, ev.SessionID, events.TypeSessionCancelled, nil)
	}
	ls.hub.broadcast(ev)
}

func (s *AttemptService) recordCheat(ls *liveSession, ev engine.Event, kind model.CheatEventType, details string) {
	cheat := model.CheatEvent{
		SessionID:      ev.SessionID,
		StudentID:      ls.creds.StudentID,
		EventType:      kind,
		TabSwitchCount: ev.TabCount,
		Details:        details,
		OccurredAt:     ev.At.UnixMilli(),
	}
	s.async(func(ctx context.Context) {
		s.gateway.RecordCheat(ctx, cheat)
	})
}

// publish sends a lifecycle or anti-cheat event to the event stream and to
// proctors watching the exam.
func (s *AttemptService) publish(ls *liveSession, sessionID, eventType string, payload any) {
	now := s.clock.Now()
	env, err := events.NewEnvelope(eventType, sessionID, ls.creds.StudentID, now, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", eventType).Msg("Failed to build event envelope")
		return
	}
	msg := model.MonitorMessage{
		Type:      eventType,
		SessionID: sessionID,
		StudentID: ls.creds.StudentID,
		At:        now,
		Data:      payload,
	}
	s.async(func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, env); err != nil {
			s.log.Warn().Err(err).Str("type", eventType).Str("session_id", sessionID).Msg("Failed to publish event")
		}
		if err := s.cache.PublishMonitor(ctx, ls.examID, msg); err != nil {
			s.log.Warn().Err(err).Str("exam_id", ls.examID).Msg("Failed to publish monitor event")
		}
	})
}

func (s *AttemptService) async(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
