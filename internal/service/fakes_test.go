package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeSessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[uuid.UUID]*model.Session)}
}

func (f *fakeSessions) add(s model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = &s
}

func (f *fakeSessions) status(id uuid.UUID) model.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

func (f *fakeSessions) GetForStudent(_ context.Context, id uuid.UUID, studentID int) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.StudentID != studentID {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Start(ctx context.Context, id uuid.UUID, studentID int, now time.Time) (*model.Session, error) {
	f.mu.Lock()
	if s, ok := f.rows[id]; ok && s.StudentID == studentID && s.Status == model.SessionStatusNotStarted {
		s.Status = model.SessionStatusInProgress
		at := now
		s.StartedAt = &at
	}
	f.mu.Unlock()
	return f.GetForStudent(ctx, id, studentID)
}

func (f *fakeSessions) Cancel(_ context.Context, id uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.Status != model.SessionStatusInProgress {
		return pgx.ErrNoRows
	}
	s.Status = model.SessionStatusCancelled
	s.FinishedAt = &now
	return nil
}

func (f *fakeSessions) ListOverdue(_ context.Context, now time.Time, limit int) ([]repository.OverdueSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.OverdueSession
	for _, s := range f.rows {
		if s.Status != model.SessionStatusInProgress || s.Deadline() == nil || s.Deadline().After(now) {
			continue
		}
		out = append(out, repository.OverdueSession{ID: s.ID, ExamID: s.ExamID, StudentID: s.StudentID, Deadline: *s.Deadline()})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeQuestions struct {
	qs []model.Question
}

func (f *fakeQuestions) ListBySession(context.Context, uuid.UUID) ([]model.Question, error) {
	return f.qs, nil
}

type fakeProgress struct {
	mu       sync.Mutex
	stored   map[uuid.UUID]model.ProgressSnapshot
	sessions *fakeSessions
	finals   chan model.ProgressSnapshot
	err      error
}

func newFakeProgress(sessions *fakeSessions) *fakeProgress {
	return &fakeProgress{
		stored:   make(map[uuid.UUID]model.ProgressSnapshot),
		sessions: sessions,
		finals:   make(chan model.ProgressSnapshot, 8),
	}
}

func (f *fakeProgress) Get(_ context.Context, id uuid.UUID) (*model.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.stored[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &snap, nil
}

func (f *fakeProgress) SubmitFinal(_ context.Context, snap model.ProgressSnapshot, finishedAt time.Time) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	id := uuid.MustParse(snap.SessionID)
	f.sessions.mu.Lock()
	if s, ok := f.sessions.rows[id]; ok {
		s.Status = model.SessionStatusSubmitted
		s.FinishedAt = &finishedAt
	}
	f.sessions.mu.Unlock()
	f.finals <- snap
	return nil
}

type nopJournal struct{}

func (nopJournal) RecordFailedSubmission(context.Context, model.FailedSubmission) error { return nil }
func (nopJournal) ResolveSession(context.Context, string) error                         { return nil }

type fixture struct {
	clock     *clockwork.FakeClock
	mr        *miniredis.Miniredis
	cache     *repository.SessionCache
	sessions  *fakeSessions
	questions *fakeQuestions
	progress  *fakeProgress
	gateway   *Gateway
	svc       *AttemptService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		clock:     clockwork.NewFakeClockAt(t0),
		mr:        mr,
		cache:     repository.NewSessionCache(rdb, time.Hour),
		sessions:  newFakeSessions(),
		questions: &fakeQuestions{qs: sampleQuestions()},
	}
	f.progress = newFakeProgress(f.sessions)
	f.gateway = NewGateway(f.sessions, f.questions, f.progress, f.cache, f.clock, zerolog.Nop())
	f.svc = NewAttemptService(f.sessions, f.gateway, f.cache, nopJournal{}, nil, f.clock, engine.DefaultConfig(), zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

func sampleQuestions() []model.Question {
	letters := []string{"A", "B", "C", "D"}
	opts := []string{"one", "two", "three", "four"}
	return []model.Question{
		{ID: "q1", Text: "first", Options: opts, OptionLetters: letters},
		{ID: "q2", Text: "second", Options: opts, OptionLetters: letters},
		{ID: "q3", Text: "third", Options: opts, OptionLetters: letters},
	}
}

func (f *fixture) newSession(studentID int, status model.SessionStatus, startedAt *time.Time) uuid.UUID {
	id := uuid.New()
	f.sessions.add(model.Session{
		ID:              id,
		ExamID:          uuid.New(),
		StudentID:       studentID,
		DurationSeconds: 3600,
		Status:          status,
		StartedAt:       startedAt,
		CreatedAt:       t0.Add(-24 * time.Hour),
	})
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitFinal(t *testing.T, p *fakeProgress) model.ProgressSnapshot {
	t.Helper()
	select {
	case snap := <-p.finals:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no final submission")
		return model.ProgressSnapshot{}
	}
}
