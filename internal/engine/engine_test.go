package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestDebounceFiresOncePerQuietWindow(t *testing.T) {
	h := newHarness(t, 3, 2*time.Hour, quietConfig(), Seed{})

	h.answer(t, "q1", 0)
	h.clock.Advance(30 * time.Second)
	h.answer(t, "q2", 3)
	h.clock.Advance(59 * time.Second)
	assertNoSave(t, h.store)

	h.clock.Advance(time.Second)
	got := waitSave(t, h.store)
	if got.status != model.ProgressStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", got.status)
	}
	answers := chosen(got.snap)
	if answers["q1"] != "A" || answers["q2"] != "D" || answers["q3"] != "X" {
		t.Errorf("answers = %v, want latest map at fire time", answers)
	}
	if ev := waitEvent(t, h.events, EventSaved); ev.Lane != LaneDebounce {
		t.Errorf("lane = %s, want debounce", ev.Lane)
	}

	h.clock.Advance(2 * time.Minute)
	assertNoSave(t, h.store)
}

func TestDebounceRearmsOnChangedAnswer(t *testing.T) {
	h := newHarness(t, 2, 2*time.Hour, quietConfig(), Seed{})

	h.answer(t, "q1", 0)
	h.clock.Advance(50 * time.Second)
	h.answer(t, "q1", 2)
	h.clock.Advance(50 * time.Second)
	assertNoSave(t, h.store)

	h.clock.Advance(10 * time.Second)
	if got := chosen(waitSave(t, h.store).snap); got["q1"] != "C" {
		t.Errorf("q1 = %s, want C", got["q1"])
	}
}

func TestSameOptionIsNoop(t *testing.T) {
	h := newHarness(t, 2, 2*time.Hour, quietConfig(), Seed{})

	h.answer(t, "q1", 1)
	h.clock.Advance(time.Minute)
	waitSave(t, h.store)

	h.answer(t, "q1", 1)
	h.clock.Advance(time.Minute)
	assertNoSave(t, h.store)
}

func TestThresholdSaveCountsOnlyNewAnswers(t *testing.T) {
	h := newHarness(t, 9, 2*time.Hour, quietConfig(), Seed{})

	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		h.answer(t, q, 0)
	}
	h.answer(t, "q1", 2) // re-answer
	assertNoSave(t, h.store)

	h.answer(t, "q5", 1)
	got := waitSave(t, h.store)
	if len(chosen(got.snap)) != 9 {
		t.Errorf("wire answers = %d, want every question", len(got.snap.QuestionAnswers))
	}
	if ev := waitEvent(t, h.events, EventSaved); ev.Lane != LaneThreshold {
		t.Errorf("lane = %s, want threshold", ev.Lane)
	}

	for _, q := range []string{"q6", "q7", "q8", "q9"} {
		h.answer(t, q, 0)
	}
	assertNoSave(t, h.store)
}

func TestThresholdSaveKeepsDebouncePending(t *testing.T) {
	h := newHarness(t, 5, 2*time.Hour, quietConfig(), Seed{})

	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		h.answer(t, q, 1)
	}
	waitSave(t, h.store)
	if ev := waitEvent(t, h.events, EventSaved); ev.Lane != LaneThreshold {
		t.Fatalf("lane = %s, want threshold", ev.Lane)
	}

	h.clock.Advance(59 * time.Second)
	assertNoSave(t, h.store)
	h.clock.Advance(time.Second)
	got := waitSave(t, h.store)
	if answers := chosen(got.snap); answers["q5"] != "B" {
		t.Errorf("debounce snapshot answers = %v", answers)
	}
	if ev := waitEvent(t, h.events, EventSaved); ev.Lane != LaneDebounce {
		t.Errorf("lane = %s, want debounce", ev.Lane)
	}
}

func TestPeriodicSaveIndependentOfActivity(t *testing.T) {
	h := newHarness(t, 2, 2*time.Hour, DefaultConfig(), Seed{})

	for i := 0; i < 3; i++ {
		h.clock.Advance(119 * time.Second)
		assertNoSave(t, h.store)
		h.clock.Advance(time.Second)
		waitSave(t, h.store)
		if ev := waitEvent(t, h.events, EventSaved); ev.Lane != LanePeriodic {
			t.Fatalf("lane = %s, want periodic", ev.Lane)
		}
	}
}

func TestPeriodicSaveResetsThresholdCounter(t *testing.T) {
	h := newHarness(t, 6, 2*time.Hour, DefaultConfig(), Seed{})

	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		h.answer(t, q, 0)
	}
	// debounce at 60s, periodic at 120s
	h.clock.Advance(2 * time.Minute)
	waitSave(t, h.store)
	waitSave(t, h.store)

	h.answer(t, "q5", 0)
	assertNoSave(t, h.store)
}

func TestSaveFailureDoesNotInterruptAttempt(t *testing.T) {
	h := newHarness(t, 2, 2*time.Hour, quietConfig(), Seed{})
	h.store.mu.Lock()
	h.store.saveErr = errNetwork
	h.store.mu.Unlock()

	h.answer(t, "q1", 0)
	h.clock.Advance(time.Minute)
	waitSave(t, h.store)
	if ev := waitEvent(t, h.events, EventSaved); ev.Err == "" {
		t.Error("saved event should carry the error")
	}

	h.answer(t, "q2", 1)
	st, err := h.eng.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if st.Status != model.SessionStatusInProgress || len(st.Answers) != 2 {
		t.Errorf("state = %+v, want in progress with 2 answers", st)
	}
}

func TestAnswerValidation(t *testing.T) {
	h := newHarness(t, 2, 2*time.Hour, quietConfig(), Seed{})

	if err := h.eng.Answer("nope", 0); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question: err = %v", err)
	}
	if err := h.eng.Answer("q1", 4); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("option 4: err = %v", err)
	}
	if err := h.eng.Answer("q1", -1); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("option -1: err = %v", err)
	}
	if err := h.eng.Navigate(2); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("navigate 2: err = %v", err)
	}
	if err := h.eng.Navigate(1); err != nil {
		t.Errorf("navigate 1: %v", err)
	}
}

func TestAutoSubmitExactlyOnce(t *testing.T) {
	h := newHarness(t, 3, 10*time.Second, quietConfig(), Seed{})
	h.answer(t, "q1", 0)

	h.clock.Advance(10 * time.Second)
	waitCompleted(t, h.eng)
	h.eng.Expire()
	h.eng.Expire()

	if n := h.store.submitCount(); n != 1 {
		t.Fatalf("submits = %d, want 1", n)
	}
	ev := waitEvent(t, h.events, EventCompleted)
	if ev.Result.Trigger != TriggerAuto || !ev.Result.Delivered {
		t.Errorf("result = %+v", ev.Result)
	}
	if ev.Result.DurationUsed != "00:00:10" {
		t.Errorf("duration used = %s, want 00:00:10", ev.Result.DurationUsed)
	}
	if err := h.eng.Answer("q2", 1); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("answer after submit: err = %v", err)
	}
}

func TestExpireBeforeDeadlineIsNoop(t *testing.T) {
	h := newHarness(t, 1, time.Minute, quietConfig(), Seed{})
	h.eng.Expire()
	if n := h.store.submitCount(); n != 0 {
		t.Errorf("submits = %d, want 0", n)
	}
}

func TestManualSubmitDurationUsed(t *testing.T) {
	h := newHarness(t, 3, 7200*time.Second, quietConfig(), Seed{})
	h.answer(t, "q1", 0)
	h.answer(t, "q2", 3)

	h.clock.Advance(7100 * time.Second)
	waitSave(t, h.store) // debounce

	res, err := h.eng.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.DurationUsed != "01:58:20" {
		t.Errorf("duration used = %s, want 01:58:20", res.DurationUsed)
	}
	if res.Status != model.SessionStatusSubmitted || res.Trigger != TriggerManual {
		t.Errorf("result = %+v", res)
	}

	final := waitSave(t, h.store)
	if final.status != model.ProgressStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", final.status)
	}
	want := []model.QuestionAnswer{
		{QuestionID: "q1", ChosenOption: "A"},
		{QuestionID: "q2", ChosenOption: "D"},
		{QuestionID: "q3", ChosenOption: "X"},
	}
	for i, a := range final.snap.QuestionAnswers {
		if a != want[i] {
			t.Errorf("answer[%d] = %+v, want %+v", i, a, want[i])
		}
	}

	again, err := h.eng.Submit(context.Background())
	if err != nil || again != res {
		t.Errorf("second submit = %v, %v; want same result", again, err)
	}
	if n := h.store.submitCount(); n != 1 {
		t.Errorf("submits = %d, want 1", n)
	}
}

func TestManualSubmitFailureIsRetryable(t *testing.T) {
	h := newHarness(t, 2, time.Hour, quietConfig(), Seed{})
	h.store.setSubmitErr(errNetwork)

	if _, err := h.eng.Submit(context.Background()); !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("err = %v, want ErrSubmitFailed", err)
	}
	st, _ := h.eng.View()
	if st.Status != model.SessionStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", st.Status)
	}
	if rec, _ := h.journal.counts(); rec != 1 {
		t.Errorf("journaled = %d, want 1", rec)
	}

	h.store.setSubmitErr(nil)
	res, err := h.eng.Submit(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Delivered {
		t.Error("retry should be delivered")
	}
	if _, resolved := h.journal.counts(); resolved != 1 {
		t.Errorf("resolved = %d, want 1", resolved)
	}
}

func TestAutoSubmitFailureStillCompletes(t *testing.T) {
	h := newHarness(t, 2, 5*time.Second, quietConfig(), Seed{})
	h.store.setSubmitErr(errNetwork)

	h.clock.Advance(5 * time.Second)
	waitCompleted(t, h.eng)

	st, err := h.eng.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if st.Status != model.SessionStatusSubmitted || st.Result.Delivered {
		t.Errorf("state = %+v, want submitted but undelivered", st)
	}
	if rec, _ := h.journal.counts(); rec != 1 {
		t.Errorf("journaled = %d, want 1", rec)
	}
}

func TestConcurrentFinalizeSubmitsOnce(t *testing.T) {
	h := newHarness(t, 2, time.Minute, quietConfig(), Seed{})
	gate := make(chan struct{})
	h.store.mu.Lock()
	h.store.gate = gate
	h.store.mu.Unlock()

	type outcome struct {
		res *Result
		err error
	}
	results := make(chan outcome, 2)
	submit := func() {
		res, err := h.eng.Submit(context.Background())
		results <- outcome{res, err}
	}
	go submit()
	<-h.store.entered

	go submit()
	h.clock.Advance(time.Minute)
	h.eng.Expire()
	if err := h.eng.Answer("q1", 0); !errors.Is(err, ErrSubmissionPending) {
		t.Errorf("answer while submitting: err = %v", err)
	}
	close(gate)

	first, second := <-results, <-results
	if first.err != nil || second.err != nil {
		t.Fatalf("errors: %v, %v", first.err, second.err)
	}
	if first.res != second.res {
		t.Error("joined submit should share the result")
	}
	if n := h.store.submitCount(); n != 1 {
		t.Errorf("submits = %d, want 1", n)
	}
}

func TestStartWithElapsedTimeSubmitsImmediately(t *testing.T) {
	zero := time.Duration(0)
	h := newHarness(t, 2, time.Hour, quietConfig(), Seed{Remaining: &zero})
	waitCompleted(t, h.eng)

	ev := waitEvent(t, h.events, EventCompleted)
	if ev.Result.Trigger != TriggerAuto || ev.Result.DurationUsed != "01:00:00" {
		t.Errorf("result = %+v", ev.Result)
	}
}

func TestSeedRestoresState(t *testing.T) {
	remaining := 30 * time.Minute
	h := newHarness(t, 4, time.Hour, quietConfig(), Seed{
		Answers:   model.AnswerMap{"q1": 1, "q3": 0, "ghost": 2},
		Pointer:   3,
		Remaining: &remaining,
		AntiCheat: &model.AntiCheatState{TabSwitchCount: 2, HasBeenVisibleOnce: true},
	})

	st, err := h.eng.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(st.Answers) != 2 || st.Pointer != 3 {
		t.Errorf("answers = %v pointer = %d", st.Answers, st.Pointer)
	}
	if st.Remaining != "00:30:00" {
		t.Errorf("remaining = %s, want 00:30:00", st.Remaining)
	}
	if st.AntiCheat.TabSwitchCount != 2 {
		t.Errorf("tab switches = %d, want 2", st.AntiCheat.TabSwitchCount)
	}
}

func TestResyncMovesDeadline(t *testing.T) {
	h := newHarness(t, 1, time.Hour, quietConfig(), Seed{})

	if err := h.eng.Resync(10 * time.Second); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	waitCompleted(t, h.eng)
	if n := h.store.submitCount(); n != 1 {
		t.Errorf("submits = %d, want 1", n)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, 2, time.Hour, DefaultConfig(), Seed{})
	h.answer(t, "q1", 0)

	if err := h.eng.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitCompleted(t, h.eng)

	h.clock.Advance(time.Hour)
	assertNoSave(t, h.store)
	if err := h.eng.Answer("q2", 0); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("answer after cancel: err = %v", err)
	}
	if _, err := h.eng.Submit(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("submit after cancel: err = %v", err)
	}
	if err := h.eng.Cancel(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second cancel: err = %v", err)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	h := newHarness(t, 2, time.Hour, DefaultConfig(), Seed{})
	h.answer(t, "q1", 0)

	h.eng.Dispose()
	h.eng.Dispose()

	h.clock.Advance(time.Hour)
	assertNoSave(t, h.store)
	if err := h.eng.Answer("q2", 0); !errors.Is(err, ErrDisposed) {
		t.Errorf("answer after dispose: err = %v", err)
	}
	if _, err := h.eng.View(); !errors.Is(err, ErrDisposed) {
		t.Errorf("view after dispose: err = %v", err)
	}
}

func TestUnloadDoesNotBlock(t *testing.T) {
	h := newHarness(t, 2, time.Hour, quietConfig(), Seed{})
	beacon := &fakeBeacon{gate: make(chan struct{}), got: make(chan model.ProgressSnapshot, 1)}
	h.eng.beacon = beacon
	h.answer(t, "q2", 1)

	done := make(chan struct{})
	go func() {
		h.eng.Unload()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unload blocked on the transport")
	}

	close(beacon.gate)
	snap := <-beacon.got
	if got := chosen(snap); got["q2"] != "B" || got["q1"] != "X" {
		t.Errorf("beacon answers = %v", got)
	}
}

func TestStartValidation(t *testing.T) {
	if _, err := Start(Options{Progress: newFakeStore()}, Seed{}); !errors.Is(err, ErrNoQuestions) {
		t.Errorf("no questions: err = %v", err)
	}
	if _, err := Start(Options{Questions: makeQuestions(1)}, Seed{}); !errors.Is(err, ErrMissingProgress) {
		t.Errorf("no progress: err = %v", err)
	}
}
