package engine

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestMonitorIgnoresHideBeforeFirstVisible(t *testing.T) {
	m := NewMonitor(clockwork.NewFakeClock(), 0)

	if _, counted := m.Hidden(); counted {
		t.Fatal("first hide before any visible period must not count")
	}
	if s := m.State(); s.TabSwitchCount != 0 || len(s.History) != 0 {
		t.Fatalf("state = %+v, want untouched", s)
	}

	m.Visible()
	rec, counted := m.Hidden()
	if !counted || rec.Action != model.TabActionLeft {
		t.Fatalf("hide after visible: rec=%+v counted=%v", rec, counted)
	}
	if _, ok := m.Visible(); !ok {
		t.Fatal("show should be recorded")
	}

	s := m.State()
	if s.TabSwitchCount != 1 {
		t.Errorf("count = %d, want 1", s.TabSwitchCount)
	}
	want := []model.TabAction{model.TabActionReturned, model.TabActionLeft, model.TabActionReturned}
	if len(s.History) != len(want) {
		t.Fatalf("history = %+v", s.History)
	}
	for i, a := range want {
		if s.History[i].Action != a {
			t.Errorf("history[%d] = %s, want %s", i, s.History[i].Action, a)
		}
	}
}

func TestMonitorIgnoresRepeatedTransitions(t *testing.T) {
	m := NewMonitor(clockwork.NewFakeClock(), 0)
	m.Visible()
	m.Visible()
	m.Hidden()
	m.Hidden()
	if s := m.State(); s.TabSwitchCount != 1 || len(s.History) != 2 {
		t.Errorf("state = %+v", s)
	}
}

func TestMonitorStateIsCopy(t *testing.T) {
	m := NewMonitor(clockwork.NewFakeClock(), 0)
	m.Visible()
	s := m.State()
	s.History[0].Action = model.TabActionLeft
	if m.State().History[0].Action != model.TabActionReturned {
		t.Error("State must not alias internal history")
	}
}

func TestFullscreenRequired(t *testing.T) {
	m := NewMonitor(clockwork.NewFakeClock(), 0)
	if m.FullscreenRequired(390) {
		t.Error("mobile viewport should not require fullscreen")
	}
	if !m.FullscreenRequired(1024) {
		t.Error("desktop viewport should require fullscreen")
	}
}

func TestEngineTabWarningTravelsInSnapshot(t *testing.T) {
	h := newHarness(t, 2, time.Hour, quietConfig(), Seed{})

	if err := h.eng.ReportVisibility(false); err != nil {
		t.Fatalf("ReportVisibility: %v", err)
	}
	if err := h.eng.ReportVisibility(true); err != nil {
		t.Fatalf("ReportVisibility: %v", err)
	}
	if err := h.eng.ReportVisibility(false); err != nil {
		t.Fatalf("ReportVisibility: %v", err)
	}
	ev := waitEvent(t, h.events, EventTabWarning)
	if ev.TabCount != 1 {
		t.Errorf("warning count = %d, want 1", ev.TabCount)
	}

	h.answer(t, "q1", 0)
	h.clock.Advance(time.Minute)
	snap := waitSave(t, h.store).snap
	if snap.TabSwitchCount != 1 || len(snap.TabSwitchHistory) != 2 {
		t.Errorf("snapshot counters = %d / %d", snap.TabSwitchCount, len(snap.TabSwitchHistory))
	}
}

func TestEngineFullscreenBannerDesktopOnly(t *testing.T) {
	h := newHarness(t, 1, time.Hour, quietConfig(), Seed{})

	if err := h.eng.ReportFullscreenFailure(390, "denied"); err != nil {
		t.Fatalf("mobile failure: %v", err)
	}
	if err := h.eng.ReportFullscreenFailure(1440, "denied"); err != nil {
		t.Fatalf("desktop failure: %v", err)
	}
	ev := waitEvent(t, h.events, EventFullscreenBanner)
	if ev.Reason != "denied" {
		t.Errorf("reason = %q", ev.Reason)
	}
	select {
	case extra := <-h.events.ch:
		t.Errorf("unexpected event %s", extra.Type)
	default:
	}
}
