package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stemsi/exstem-attempt/internal/model"
)

type savedCall struct {
	snap   model.ProgressSnapshot
	status model.ProgressStatus
}

// fakeStore records every upsert and reports it on calls.
type fakeStore struct {
	mu        sync.Mutex
	saveErr   error
	submitErr error
	gate      chan struct{}
	submits   int
	calls     chan savedCall
	entered   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(chan savedCall, 256), entered: make(chan struct{}, 16)}
}

func (f *fakeStore) SaveProgress(_ context.Context, _ model.Credentials, snap model.ProgressSnapshot, status model.ProgressStatus) error {
	f.mu.Lock()
	err := f.saveErr
	gate := f.gate
	if status == model.ProgressStatusSubmitted {
		err = f.submitErr
		f.submits++
	}
	f.mu.Unlock()

	if status == model.ProgressStatusSubmitted {
		f.entered <- struct{}{}
		if gate != nil {
			<-gate
		}
	}
	f.calls <- savedCall{snap: snap, status: status}
	return err
}

func (f *fakeStore) setSubmitErr(err error) {
	f.mu.Lock()
	f.submitErr = err
	f.mu.Unlock()
}

func (f *fakeStore) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeJournal struct {
	mu       sync.Mutex
	records  []model.FailedSubmission
	resolved []string
}

func (j *fakeJournal) RecordFailedSubmission(_ context.Context, rec model.FailedSubmission) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *fakeJournal) ResolveSession(_ context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resolved = append(j.resolved, sessionID)
	return nil
}

func (j *fakeJournal) counts() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records), len(j.resolved)
}

type fakeBeacon struct {
	gate chan struct{}
	got  chan model.ProgressSnapshot
}

func (b *fakeBeacon) SendBeacon(_ model.Credentials, snap model.ProgressSnapshot) {
	if b.gate != nil {
		<-b.gate
	}
	b.got <- snap
}

// eventLog collects everything but countdown ticks.
type eventLog struct {
	ch chan Event
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan Event, 256)} }

func (l *eventLog) handle(ev Event) {
	if ev.Type == EventCountdown {
		return
	}
	select {
	case l.ch <- ev:
	default:
	}
}

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Subject:       "math",
			Options:       []string{"1", "2", "3", "4"},
			OptionLetters: []string{"A", "B", "C", "D"},
		}
	}
	return qs
}

type harness struct {
	eng     *Engine
	clock   *clockwork.FakeClock
	store   *fakeStore
	journal *fakeJournal
	events  *eventLog
}

func newHarness(t *testing.T, questions int, total time.Duration, cfg Config, seed Seed) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClock(),
		store:   newFakeStore(),
		journal: &fakeJournal{},
		events:  newEventLog(),
	}
	eng, err := Start(Options{
		SessionID:     "sess-1",
		Credentials:   model.Credentials{StudentID: 7, Token: "tok"},
		Questions:     makeQuestions(questions),
		TotalDuration: total,
		Progress:      h.store,
		Failures:      h.journal,
		Clock:         h.clock,
		Config:        cfg,
		OnEvent:       h.events.handle,
	}, seed)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(eng.Dispose)
	h.eng = eng
	return h
}

func (h *harness) answer(t *testing.T, qid string, option int) {
	t.Helper()
	if err := h.eng.Answer(qid, option); err != nil {
		t.Fatalf("Answer(%s, %d): %v", qid, option, err)
	}
}

func waitSave(t *testing.T, s *fakeStore) savedCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for save")
		return savedCall{}
	}
}

func assertNoSave(t *testing.T, s *fakeStore) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected save: status=%s answers=%v", c.status, c.snap.QuestionAnswers)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitEvent(t *testing.T, l *eventLog, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func waitCompleted(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Completed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func chosen(snap model.ProgressSnapshot) map[string]string {
	out := make(map[string]string, len(snap.QuestionAnswers))
	for _, a := range snap.QuestionAnswers {
		out[a.QuestionID] = a.ChosenOption
	}
	return out
}

var errNetwork = errors.New("network down")

// quietConfig keeps the periodic lane out of the way of lane-specific tests.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.PeriodicInterval = 24 * time.Hour
	return cfg
}

// hangingStore blocks until the caller's context expires for the statuses in
// hang and succeeds immediately otherwise.
type hangingStore struct {
	hang  map[model.ProgressStatus]bool
	calls chan model.ProgressStatus
}

func newHangingStore(statuses ...model.ProgressStatus) *hangingStore {
	s := &hangingStore{hang: make(map[model.ProgressStatus]bool), calls: make(chan model.ProgressStatus, 64)}
	for _, st := range statuses {
		s.hang[st] = true
	}
	return s
}

func (s *hangingStore) SaveProgress(ctx context.Context, _ model.Credentials, _ model.ProgressSnapshot, status model.ProgressStatus) error {
	s.calls <- status
	if !s.hang[status] {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}
