package model

import "time"

// FailedSubmission is a final submission that could not be delivered and
// awaits backend reconciliation.
type FailedSubmission struct {
	ID         int64            `json:"id"`
	SessionID  string           `json:"session_id"`
	StudentID  int              `json:"student_id"`
	Trigger    string           `json:"trigger"`
	Snapshot   ProgressSnapshot `json:"snapshot"`
	LastError  string           `json:"last_error"`
	Attempts   int              `json:"attempts"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}
