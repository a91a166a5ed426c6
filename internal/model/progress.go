package model

import "time"

// ProgressStatus is the status parameter sent with every progress upsert.
type ProgressStatus string

const (
	ProgressStatusInProgress ProgressStatus = "IN_PROGRESS"
	ProgressStatusSubmitted  ProgressStatus = "SUBMITTED"
)

// UnansweredOption is the wire sentinel for a question without an answer.
const UnansweredOption = "X"

// QuestionAnswer is one entry of the wire answer set.
type QuestionAnswer struct {
	QuestionID   string `json:"questionId"`
	ChosenOption string `json:"chosenOption"`
}

// ProgressPayload is the body accepted by the progress persistence collaborator.
type ProgressPayload struct {
	SessionID       string           `json:"sessionId"`
	QuestionAnswers []QuestionAnswer `json:"questionAnswers"`
	RemainingTime   string           `json:"remainingTime"`
}

// ProgressSnapshot is a full overwrite of an attempt's state.
type ProgressSnapshot struct {
	ProgressPayload
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	LastSavedAt          time.Time         `json:"lastSavedAt"`
	TabSwitchCount       int               `json:"tabSwitchCount"`
	TabSwitchHistory     []TabSwitchRecord `json:"tabSwitchHistory"`
	DurationUsed         string            `json:"durationUsed,omitempty"`
}

// AnswerRequest records a chosen option for a question.
type AnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,qid"`
	Option     *int   `json:"option" binding:"required,min=0,max=25"`
}

// NavigateRequest moves the current question pointer.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// StartSessionRequest carries client facts needed at start/resume.
type StartSessionRequest struct {
	ViewportWidth int `json:"viewport_width" binding:"omitempty,min=0,max=20000"`
}

// SubmitRequest must be confirmed explicitly by the student.
type SubmitRequest struct {
	Confirmed bool `json:"confirmed" binding:"required"`
}

// ProgressJob is queued by the hot path and drained into PostgreSQL by the
// progress worker.
type ProgressJob struct {
	StudentID  int              `json:"student_id"`
	Status     ProgressStatus   `json:"status"`
	Snapshot   ProgressSnapshot `json:"snapshot"`
	EnqueuedAt int64            `json:"enqueued_at"`
}
