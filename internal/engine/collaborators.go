package engine

import (
	"context"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// ProgressStore persists snapshots. SaveProgress must be an idempotent upsert
// keyed by session id.
type ProgressStore interface {
	SaveProgress(ctx context.Context, creds model.Credentials, snap model.ProgressSnapshot, status model.ProgressStatus) error
}

// ProgressLoader returns previously stored progress, or nil when none exists.
type ProgressLoader interface {
	LoadProgress(ctx context.Context, creds model.Credentials, sessionID string) (*model.ProgressSnapshot, error)
}

type QuestionSource interface {
	ListQuestions(ctx context.Context, creds model.Credentials, sessionID string) ([]model.Question, error)
}

type ConfigSource interface {
	SessionConfig(ctx context.Context, creds model.Credentials, sessionID string) (*model.SessionConfig, error)
}

// BeaconSender delivers an unload-time snapshot. It is invoked on its own
// goroutine; implementations bound their own latency and swallow errors.
type BeaconSender interface {
	SendBeacon(creds model.Credentials, snap model.ProgressSnapshot)
}

// FailureRecorder journals final submissions that could not be delivered.
type FailureRecorder interface {
	RecordFailedSubmission(ctx context.Context, rec model.FailedSubmission) error
	ResolveSession(ctx context.Context, sessionID string) error
}
