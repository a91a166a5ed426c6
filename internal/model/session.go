package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the lifecycle states of a timed attempt.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusCancelled
}

// CanTransitionTo reports whether the state machine permits s → next.
// InProgress → InProgress is the self-loop taken on every answer or navigation event.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusNotStarted:
		return next == SessionStatusInProgress
	case SessionStatusInProgress:
		return next == SessionStatusInProgress ||
			next == SessionStatusSubmitted ||
			next == SessionStatusCancelled
	default:
		return false
	}
}

// Session represents a student's timed attempt at an exam.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	StudentID       int           `json:"student_id"`
	DurationSeconds int           `json:"duration_seconds"`
	Status          SessionStatus `json:"status"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// TotalDuration returns the nominal duration of the attempt.
func (s *Session) TotalDuration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// Deadline returns started_at + duration, or nil before the attempt starts.
func (s *Session) Deadline() *time.Time {
	if s.StartedAt == nil {
		return nil
	}
	d := s.StartedAt.Add(s.TotalDuration())
	return &d
}

// SessionConfig is the authoritative configuration reported by the server
// for a session. RemainingTime is empty when the server has no opinion.
type SessionConfig struct {
	RemainingTime       string        `json:"remainingTime,omitempty"`
	Duration            int           `json:"duration"`
	TotalQuestionsCount int           `json:"totalQuestionsCount"`
	Status              SessionStatus `json:"status"`
}

// Credentials identify the caller on every collaborator call.
type Credentials struct {
	StudentID int    `json:"student_id"`
	Token     string `json:"-"`
}
