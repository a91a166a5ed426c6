package engine

import "errors"

var (
	ErrNoQuestions       = errors.New("engine: session has no questions")
	ErrMissingProgress   = errors.New("engine: progress store is required")
	ErrSessionClosed     = errors.New("engine: session is not in progress")
	ErrUnknownQuestion   = errors.New("engine: unknown question")
	ErrInvalidOption     = errors.New("engine: option out of range")
	ErrInvalidIndex      = errors.New("engine: question index out of range")
	ErrSubmissionPending = errors.New("engine: submission already in flight")
	ErrSubmitFailed      = errors.New("engine: final submission failed")
	ErrDisposed          = errors.New("engine: disposed")
	ErrInvalidDuration   = errors.New("engine: invalid HH:MM:SS duration")
	ErrQuestionFetch     = errors.New("engine: cannot fetch questions")
)
