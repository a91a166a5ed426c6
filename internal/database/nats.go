package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/events"
)

// NewEventPublisher connects to NATS JetStream when NATS_URL is set and
// falls back to a logging publisher otherwise.
func NewEventPublisher(ctx context.Context, cfg *config.Config, log zerolog.Logger) (events.Publisher, error) {
	if cfg.NatsURL == "" {
		log.Info().Msg("NATS_URL not set, session events are only logged")
		return events.NewNopPublisher(log), nil
	}

	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NatsURL
	jsCfg.StreamName = cfg.NatsStream
	jsCfg.SubjectPrefix = cfg.NatsSubject

	pub, err := events.NewJetStreamPublisher(ctx, jsCfg, log)
	if err != nil {
		return nil, fmt.Errorf("nats publisher: %w", err)
	}

	log.Info().
		Str("stream", jsCfg.StreamName).
		Str("subject_prefix", jsCfg.SubjectPrefix).
		Msg("NATS JetStream connected")

	return pub, nil
}
