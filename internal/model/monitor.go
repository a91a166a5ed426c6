package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorStudent is one row of the proctor's live view of an exam.
type MonitorStudent struct {
	SessionID      uuid.UUID     `json:"session_id"`
	StudentID      int           `json:"student_id"`
	Status         SessionStatus `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	AnsweredCount  int64         `json:"answered_count"`
	TabSwitchCount int           `json:"tab_switch_count"`
	CheatCount     int64         `json:"cheat_count"`
	LastSavedAt    *time.Time    `json:"last_saved_at,omitempty"`
}

// MonitorStats aggregates an exam's sessions by status.
type MonitorStats struct {
	TotalSessions   int   `json:"total_sessions"`
	TotalNotStarted int   `json:"total_not_started"`
	TotalInProgress int   `json:"total_in_progress"`
	TotalSubmitted  int   `json:"total_submitted"`
	TotalCancelled  int   `json:"total_cancelled"`
	TotalCheats     int64 `json:"total_cheats"`
}

// MonitorSnapshot is sent to a proctor when the monitor stream opens.
type MonitorSnapshot struct {
	ExamID   uuid.UUID        `json:"exam_id"`
	Stats    MonitorStats     `json:"stats"`
	Students []MonitorStudent `json:"students"`
}

// MonitorMessage is published on an exam's monitor channel and forwarded
// verbatim to connected proctors.
type MonitorMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	StudentID int       `json:"student_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}
