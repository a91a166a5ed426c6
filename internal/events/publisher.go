// Package events publishes session lifecycle and anti-cheat events to NATS
// JetStream for downstream consumers such as proctoring and grading.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	TypeSessionStarted   = "session.started"
	TypeSessionSubmitted = "session.submitted"
	TypeSessionCancelled = "session.cancelled"
	TypeTabSwitch        = "anticheat.tab_switch"
	TypeFullscreen       = "anticheat.fullscreen"
)

// Envelope is the message body of every published event.
type Envelope struct {
	ID         uuid.UUID       `json:"eventId"`
	Type       string          `json:"eventType"`
	SessionID  string          `json:"sessionId"`
	StudentID  int             `json:"studentId"`
	OccurredAt time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id, marshaling payload.
func NewEnvelope(eventType, sessionID string, studentID int, at time.Time, payload any) (Envelope, error) {
	env := Envelope{
		ID:         uuid.New(),
		Type:       eventType,
		SessionID:  sessionID,
		StudentID:  studentID,
		OccurredAt: at.UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	Duplicates    time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "EXAM_SESSIONS",
		SubjectPrefix: "exam.sessions",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        7 * 24 * time.Hour,
		Duplicates:    2 * time.Minute,
	}
}

// Subject returns the subject an event type is published on.
func (c JetStreamConfig) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, eventType)
}

type JetStreamPublisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg JetStreamConfig
	log zerolog.Logger
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig, log zerolog.Logger) (*JetStreamPublisher, error) {
	log = log.With().Str("component", "nats_publisher").Logger()
	opts := []nats.Option{
		nats.Name("exstem-attempt"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, cfg: cfg, log: log}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        p.cfg.StreamName,
		Description: "Exam session lifecycle and anti-cheat events",
		Subjects:    []string{p.cfg.Subject(">")},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Duplicates:  p.cfg.Duplicates,
	})
	if err != nil {
		return err
	}
	p.log.Info().Str("stream", p.cfg.StreamName).Msg("JetStream stream ready")
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.cfg.Subject(env.Type)
	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{env.Type},
			"Session-ID": []string{env.SessionID},
		},
	},
		jetstream.WithMsgID(env.ID.String()),
		jetstream.WithExpectStream(p.cfg.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("event_id", env.ID.String()).
		Uint64("sequence", ack.Sequence).
		Msg("Published event")
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}

// NopPublisher drops events. It is used when NATS_URL is empty.
type NopPublisher struct {
	log zerolog.Logger
}

func NewNopPublisher(log zerolog.Logger) *NopPublisher {
	return &NopPublisher{log: log.With().Str("component", "nop_publisher").Logger()}
}

func (p *NopPublisher) Publish(_ context.Context, env Envelope) error {
	p.log.Trace().Str("event_type", env.Type).Str("session_id", env.SessionID).Msg("Dropping event")
	return nil
}

func (p *NopPublisher) Close() error { return nil }
