package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Reconciler seeds an engine from server-held state at start or resume.
type Reconciler struct {
	questions QuestionSource
	config    ConfigSource
	progress  ProgressLoader
	log       zerolog.Logger
}

func NewReconciler(questions QuestionSource, config ConfigSource, progress ProgressLoader, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		questions: questions,
		config:    config,
		progress:  progress,
		log:       log.With().Str("component", "resume").Logger(),
	}
}

// Plan is everything needed to start an engine.
type Plan struct {
	Questions     []model.Question
	TotalDuration time.Duration
	Seed          Seed
	Config        *model.SessionConfig
}

// Reconcile fetches questions, configuration and stored progress. Only the
// question fetch is fatal; a failed configuration or progress fetch degrades
// to a fresh start with the nominal duration.
func (r *Reconciler) Reconcile(ctx context.Context, creds model.Credentials, sessionID string, nominal time.Duration) (*Plan, error) {
	questions, err := r.questions.ListQuestions(ctx, creds, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuestionFetch, err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	plan := &Plan{Questions: questions, TotalDuration: nominal}
	log := r.log.With().Str("session_id", sessionID).Logger()

	if r.config != nil {
		cfg, err := r.config.SessionConfig(ctx, creds, sessionID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Session config unavailable, using nominal duration")
		case cfg == nil:
		default:
			if cfg.Status.Terminal() {
				return nil, ErrSessionClosed
			}
			plan.Config = cfg
			if plan.TotalDuration <= 0 && cfg.Duration > 0 {
				plan.TotalDuration = time.Duration(cfg.Duration) * time.Second
			}
			if cfg.RemainingTime != "" {
				if d, perr := ParseHMS(cfg.RemainingTime); perr != nil {
					log.Warn().Err(perr).Msg("Ignoring malformed remaining time")
				} else {
					plan.Seed.Remaining = &d
				}
			}
		}
	}

	if r.progress != nil {
		stored, err := r.progress.LoadProgress(ctx, creds, sessionID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Stored progress unavailable, starting fresh")
		case stored != nil:
			plan.Seed.Answers = DecodeAnswers(questions, stored.QuestionAnswers)
			plan.Seed.Pointer = ResumePointer(questions, plan.Seed.Answers)
			plan.Seed.AntiCheat = &model.AntiCheatState{
				TabSwitchCount:     stored.TabSwitchCount,
				History:            stored.TabSwitchHistory,
				HasBeenVisibleOnce: len(stored.TabSwitchHistory) > 0,
			}
			if dropped := countAnswered(stored.QuestionAnswers) - len(plan.Seed.Answers); dropped > 0 {
				log.Warn().Int("dropped", dropped).Msg("Dropped stored answers that match no question")
			}
		}
	}
	return plan, nil
}

// DecodeAnswers converts wire letters back to option indices. The
// unanswered sentinel and unknown question ids are skipped.
func DecodeAnswers(questions []model.Question, wire []model.QuestionAnswer) model.AnswerMap {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make(model.AnswerMap)
	for _, a := range wire {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		if idx, ok := OptionIndex(q, a.ChosenOption); ok {
			out[q.ID] = idx
		}
	}
	return out
}

// ResumePointer is one past the highest answered position, bounded to the
// last question, or 0 when nothing is answered. Earlier unanswered questions
// may be skipped when answers were saved out of order.
func ResumePointer(questions []model.Question, answers model.AnswerMap) int {
	highest := -1
	for i, q := range questions {
		if _, ok := answers[q.ID]; ok && i > highest {
			highest = i
		}
	}
	if highest < 0 {
		return 0
	}
	next := highest + 1
	if next > len(questions)-1 {
		next = len(questions) - 1
	}
	return next
}

func countAnswered(wire []model.QuestionAnswer) int {
	n := 0
	for _, a := range wire {
		if a.ChosenOption != "" && a.ChosenOption != model.UnansweredOption {
			n++
		}
	}
	return n
}
