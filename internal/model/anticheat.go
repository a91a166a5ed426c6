package model

import "time"

// TabAction is the direction of a visibility transition.
type TabAction string

const (
	TabActionLeft     TabAction = "left"
	TabActionReturned TabAction = "returned"
)

// TabSwitchRecord is one entry of the ordered visibility history.
type TabSwitchRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Action    TabAction `json:"action"`
}

// AntiCheatState holds the counters that travel with every snapshot.
type AntiCheatState struct {
	TabSwitchCount     int               `json:"tab_switch_count"`
	History            []TabSwitchRecord `json:"history"`
	IsFullScreen       bool              `json:"is_full_screen"`
	HasBeenVisibleOnce bool              `json:"has_been_visible_once"`
}

// VisibilityRequest reports a page visibility transition.
type VisibilityRequest struct {
	State string `json:"state" binding:"required,oneof=visible hidden"`
}

// FullscreenRequest reports fullscreen changes or failed requests.
type FullscreenRequest struct {
	Active        bool   `json:"active"`
	Failed        bool   `json:"failed"`
	ViewportWidth int    `json:"viewport_width" binding:"omitempty,min=0,max=20000"`
	Reason        string `json:"reason" binding:"omitempty,max=255"`
}

// CheatEventType names an anti-cheat audit entry.
type CheatEventType string

const (
	CheatEventTabLeft          CheatEventType = "TAB_LEFT"
	CheatEventTabReturned      CheatEventType = "TAB_RETURNED"
	CheatEventFullscreenExit   CheatEventType = "FULLSCREEN_EXIT"
	CheatEventFullscreenFailed CheatEventType = "FULLSCREEN_FAILED"
)

// CheatEvent is one anti-cheat audit entry queued for batch persistence.
// OccurredAt is unix milliseconds.
type CheatEvent struct {
	SessionID      string         `json:"session_id"`
	StudentID      int            `json:"student_id"`
	EventType      CheatEventType `json:"event_type"`
	TabSwitchCount int            `json:"tab_switch_count"`
	Details        string         `json:"details,omitempty"`
	OccurredAt     int64          `json:"occurred_at"`
}
