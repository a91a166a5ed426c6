package engine

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/stemsi/exstem-attempt/internal/model"
)

type visibility int

const (
	visibilityUnknown visibility = iota
	visibilityVisible
	visibilityHidden
)

// DefaultDesktopMinWidth is the narrowest viewport treated as desktop-class.
const DefaultDesktopMinWidth = 1024

// Monitor observes page visibility and fullscreen transitions. It never
// blocks submission; its counters only travel with snapshots.
type Monitor struct {
	clock           clockwork.Clock
	desktopMinWidth int

	mu         sync.Mutex
	state      model.AntiCheatState
	visibility visibility
}

func NewMonitor(clock clockwork.Clock, desktopMinWidth int) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if desktopMinWidth <= 0 {
		desktopMinWidth = DefaultDesktopMinWidth
	}
	return &Monitor{clock: clock, desktopMinWidth: desktopMinWidth}
}

// Restore seeds counters carried over from a previous page.
func (m *Monitor) Restore(s model.AntiCheatState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.state.History = append([]model.TabSwitchRecord(nil), s.History...)
}

// Hidden records a transition to hidden. It reports whether the switch was
// counted, which is also whether a warning should be raised. A hide before the
// page was ever visible is ignored.
func (m *Monitor) Hidden() (model.TabSwitchRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visibility == visibilityHidden {
		return model.TabSwitchRecord{}, false
	}
	m.visibility = visibilityHidden
	if !m.state.HasBeenVisibleOnce {
		return model.TabSwitchRecord{}, false
	}
	rec := model.TabSwitchRecord{Timestamp: m.clock.Now(), Action: model.TabActionLeft}
	m.state.TabSwitchCount++
	m.state.History = append(m.state.History, rec)
	return rec, true
}

// Visible records a transition to visible.
func (m *Monitor) Visible() (model.TabSwitchRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visibility == visibilityVisible {
		return model.TabSwitchRecord{}, false
	}
	m.visibility = visibilityVisible
	rec := model.TabSwitchRecord{Timestamp: m.clock.Now(), Action: model.TabActionReturned}
	m.state.History = append(m.state.History, rec)
	m.state.HasBeenVisibleOnce = true
	return rec, true
}

func (m *Monitor) SetFullScreen(active bool) {
	m.mu.Lock()
	m.state.IsFullScreen = active
	m.mu.Unlock()
}

// FullscreenRequired reports whether fullscreen is enforced for a viewport.
// Mobile browsers often restrict the Fullscreen API, so only desktop-class
// widths qualify.
func (m *Monitor) FullscreenRequired(viewportWidth int) bool {
	return viewportWidth >= m.desktopMinWidth
}

// State returns a copy of the counters.
func (m *Monitor) State() model.AntiCheatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.History = append([]model.TabSwitchRecord(nil), m.state.History...)
	return s
}
