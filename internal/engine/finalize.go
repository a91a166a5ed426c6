package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Submit finalizes the attempt on explicit confirmation. A submission that is
// already in flight is joined rather than repeated, and a finished attempt
// returns its existing result.
//
// A failed manual submission leaves the attempt in progress and returns
// ErrSubmitFailed so the student can retry, unless time ran out meanwhile.
func (e *Engine) Submit(ctx context.Context) (*Result, error) {
	wait := make(chan submitOutcome, 1)
	err := e.call(func() error {
		if e.status == model.SessionStatusCancelled {
			return ErrSessionClosed
		}
		e.beginFinalize(TriggerManual, wait)
		return nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case out := <-wait:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrDisposed
	}
}

func (e *Engine) onExpired() {
	if e.status != model.SessionStatusInProgress || !e.sc.Expired() {
		return
	}
	e.beginFinalize(TriggerAuto, nil)
}

// beginFinalize starts the single network submission. The finalizing flag
// together with the status check guarantees at most one call.
func (e *Engine) beginFinalize(trigger Trigger, waiter chan submitOutcome) {
	if waiter != nil {
		e.waiters = append(e.waiters, waiter)
	}
	if e.status.Terminal() {
		e.notifyWaiters(e.result, nil)
		return
	}
	if e.finalizing {
		return
	}
	e.finalizing = true

	remaining := e.sc.Remaining()
	snap := e.snapshot(remaining)
	snap.DurationUsed = FormatHMS(DurationUsed(e.total, remaining))
	if e.debounceC != nil {
		stopAndDrainTimer(e.debounce)
		e.debounceC = nil
	}

	e.log.Info().
		Str("trigger", string(trigger)).
		Str("duration_used", snap.DurationUsed).
		Msg("Finalizing session")

	go e.deliver(trigger, snap)
}

// journalTimeout bounds journal writes, which must not inherit an expired
// submit deadline.
const journalTimeout = 5 * time.Second

func (e *Engine) deliver(trigger Trigger, snap model.ProgressSnapshot) {
	// An in-progress upsert landing after the final one would reopen it.
	e.saving.Wait()

	ctx, cancel := saveContext(e.cfg.SubmitTimeout)
	err := e.progress.SaveProgress(ctx, e.creds, snap, model.ProgressStatusSubmitted)
	cancel()

	jctx, jcancel := saveContext(journalTimeout)
	defer jcancel()
	if err == nil {
		if e.failures != nil {
			if rerr := e.failures.ResolveSession(jctx, e.id); rerr != nil {
				e.log.Warn().Err(rerr).Msg("Failed to resolve journaled submissions")
			}
		}
	} else if e.failures != nil {
		rec := model.FailedSubmission{
			SessionID: e.id,
			StudentID: e.creds.StudentID,
			Trigger:   string(trigger),
			Snapshot:  snap,
			LastError: err.Error(),
			CreatedAt: e.clock.Now(),
		}
		if jerr := e.failures.RecordFailedSubmission(jctx, rec); jerr != nil {
			e.log.Error().Err(jerr).Msg("Failed to journal undelivered submission")
		}
	}

	msg := finishMsg{trigger: trigger, snap: snap, submittedAt: e.clock.Now(), err: err}
	select {
	case e.finished <- msg:
	case <-e.quit:
	}
}

func (e *Engine) completeFinalize(msg finishMsg) {
	e.finalizing = false
	if e.status != model.SessionStatusInProgress {
		e.notifyWaiters(e.result, ErrSessionClosed)
		return
	}

	if msg.err != nil && msg.trigger == TriggerManual && !e.sc.Expired() {
		e.log.Error().Err(msg.err).Msg("Manual submission failed")
		e.notifyWaiters(nil, fmt.Errorf("%w: %w", ErrSubmitFailed, msg.err))
		return
	}
	if msg.err != nil {
		e.log.Error().Err(msg.err).Str("trigger", string(msg.trigger)).Msg("Submission undelivered, journaled for reconciliation")
	}

	e.status = model.SessionStatusSubmitted
	e.stopTimers()
	e.latest.Store(&msg.snap)
	e.result = &Result{
		SessionID:    e.id,
		Status:       e.status,
		Trigger:      msg.trigger,
		DurationUsed: msg.snap.DurationUsed,
		SubmittedAt:  msg.submittedAt,
		Delivered:    msg.err == nil,
		Answered:     len(e.answers),
		TabSwitches:  msg.snap.TabSwitchCount,
	}
	e.log.Info().
		Str("trigger", string(msg.trigger)).
		Bool("delivered", e.result.Delivered).
		Msg("Session submitted")
	e.emit(Event{Type: EventCompleted, Result: e.result})
	close(e.completed)
	e.notifyWaiters(e.result, nil)
}

func (e *Engine) notifyWaiters(res *Result, err error) {
	for _, w := range e.waiters {
		w <- submitOutcome{result: res, err: err}
	}
	e.waiters = nil
}
