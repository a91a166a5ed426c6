package engine

import (
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

type EventType string

const (
	EventCountdown        EventType = "countdown"
	EventSaved            EventType = "saved"
	EventTabWarning       EventType = "tab_warning"
	EventTabReturned      EventType = "tab_returned"
	EventFullscreenBanner EventType = "fullscreen_banner"
	EventCompleted        EventType = "completed"
	EventCancelled        EventType = "cancelled"
)

// SaveLane names the trigger that produced a save.
type SaveLane string

const (
	LaneDebounce  SaveLane = "debounce"
	LaneThreshold SaveLane = "threshold"
	LanePeriodic  SaveLane = "periodic"
	LaneBeacon    SaveLane = "beacon"
	LaneFinal     SaveLane = "final"
)

// Trigger names what started a finalization.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// Event is emitted on the engine goroutine. Handlers must return quickly and
// must not call back into the engine synchronously.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	At        time.Time              `json:"at"`
	Remaining string                 `json:"remaining,omitempty"`
	Lane      SaveLane               `json:"lane,omitempty"`
	Err       string                 `json:"error,omitempty"`
	Record    *model.TabSwitchRecord `json:"record,omitempty"`
	TabCount  int                    `json:"tab_switch_count,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Result    *Result                `json:"result,omitempty"`
}

// Result describes a finished attempt.
type Result struct {
	SessionID    string              `json:"session_id"`
	Status       model.SessionStatus `json:"status"`
	Trigger      Trigger             `json:"trigger"`
	DurationUsed string              `json:"duration_used"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	Delivered    bool                `json:"delivered"`
	Answered     int                 `json:"answered"`
	TabSwitches  int                 `json:"tab_switch_count"`
}

// State is a point-in-time view of an engine.
type State struct {
	SessionID   string               `json:"session_id"`
	Status      model.SessionStatus  `json:"status"`
	Deadline    time.Time            `json:"deadline"`
	Remaining   string               `json:"remaining_time"`
	Pointer     int                  `json:"current_question_index"`
	Answers     model.AnswerMap      `json:"answers"`
	AntiCheat   model.AntiCheatState `json:"anti_cheat"`
	Submitting  bool                 `json:"submitting"`
	Result      *Result              `json:"result,omitempty"`
	LastSavedAt *time.Time           `json:"last_saved_at,omitempty"`
}
