package engine

import (
	"github.com/stemsi/exstem-attempt/internal/model"
)

// recordEdit re-arms the debounce timer and, for newly answered questions,
// advances the threshold counter. Reaching the threshold saves immediately
// without cancelling the pending debounce.
func (e *Engine) recordEdit(newlyAnswered bool) {
	e.armDebounce()
	if !newlyAnswered {
		return
	}
	e.newSinceSave++
	if e.newSinceSave >= e.cfg.NewAnswerThreshold {
		e.newSinceSave = 0
		e.save(LaneThreshold)
	}
}

func (e *Engine) armDebounce() {
	if e.debounce == nil {
		e.debounce = e.clock.NewTimer(e.cfg.DebounceDelay)
	} else {
		stopAndDrainTimer(e.debounce)
		e.debounce.Reset(e.cfg.DebounceDelay)
	}
	e.debounceC = e.debounce.Chan()
}

// save snapshots the attempt on the loop and upserts it in the background.
// The outcome comes back through completeSave; failures are logged only and
// the next trigger retries implicitly.
func (e *Engine) save(lane SaveLane) {
	if e.status != model.SessionStatusInProgress || e.finalizing {
		return
	}
	snap := e.snapshot(e.sc.Remaining())
	e.saving.Add(1)
	go func() {
		defer e.saving.Done()
		ctx, cancel := saveContext(e.cfg.SaveTimeout)
		err := e.progress.SaveProgress(ctx, e.creds, snap, model.ProgressStatusInProgress)
		cancel()
		select {
		case e.saved <- saveMsg{lane: lane, snap: snap, err: err}:
		case <-e.quit:
		}
	}()
}

func (e *Engine) completeSave(msg saveMsg) {
	ev := Event{Type: EventSaved, Lane: msg.lane, Remaining: msg.snap.RemainingTime}
	if msg.err != nil {
		e.log.Warn().Err(msg.err).Str("lane", string(msg.lane)).Msg("Autosave failed")
		ev.Err = msg.err.Error()
	} else {
		t := msg.snap.LastSavedAt
		if e.lastSavedAt == nil || t.After(*e.lastSavedAt) {
			e.lastSavedAt = &t
		}
		e.log.Debug().Str("lane", string(msg.lane)).Int("answered", len(msg.snap.QuestionAnswers)).Msg("Progress saved")
	}
	e.emit(ev)
}

// Unload sends the latest snapshot through the beacon transport. It returns
// immediately and never waits on the loop or the network.
func (e *Engine) Unload() {
	if e.beacon == nil {
		return
	}
	select {
	case <-e.completed:
		return
	default:
	}
	snap := e.Snapshot()
	go e.beacon.SendBeacon(e.creds, snap)
}
