package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Config holds the engine tunables.
type Config struct {
	DebounceDelay      time.Duration
	NewAnswerThreshold int
	PeriodicInterval   time.Duration
	CountdownInterval  time.Duration
	DesktopMinWidth    int
	SaveTimeout        time.Duration
	SubmitTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceDelay:      60 * time.Second,
		NewAnswerThreshold: 5,
		PeriodicInterval:   120 * time.Second,
		CountdownInterval:  time.Second,
		DesktopMinWidth:    DefaultDesktopMinWidth,
		SaveTimeout:        10 * time.Second,
		SubmitTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = d.DebounceDelay
	}
	if c.NewAnswerThreshold <= 0 {
		c.NewAnswerThreshold = d.NewAnswerThreshold
	}
	if c.PeriodicInterval <= 0 {
		c.PeriodicInterval = d.PeriodicInterval
	}
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = d.CountdownInterval
	}
	if c.DesktopMinWidth <= 0 {
		c.DesktopMinWidth = d.DesktopMinWidth
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}

// Options wires an engine to its collaborators. Progress is required.
type Options struct {
	SessionID     string
	Credentials   model.Credentials
	Questions     []model.Question
	TotalDuration time.Duration

	Progress ProgressStore
	Beacon   BeaconSender
	Failures FailureRecorder

	Clock   clockwork.Clock
	Config  Config
	Logger  zerolog.Logger
	OnEvent func(Event)
}

// Seed is the state an engine starts from. A nil Remaining means the full
// nominal duration.
type Seed struct {
	Answers   model.AnswerMap
	Pointer   int
	Remaining *time.Duration
	AntiCheat *model.AntiCheatState
}

type finishMsg struct {
	trigger     Trigger
	snap        model.ProgressSnapshot
	submittedAt time.Time
	err         error
}

type saveMsg struct {
	lane SaveLane
	snap model.ProgressSnapshot
	err  error
}

type submitOutcome struct {
	result *Result
	err    error
}

// Engine runs one timed attempt. All state changes are serialized on a
// single goroutine; public methods post commands to it.
type Engine struct {
	id        string
	creds     model.Credentials
	questions []model.Question
	positions map[string]int
	total     time.Duration

	cfg      Config
	clock    clockwork.Clock
	sc       *SessionClock
	monitor  *Monitor
	progress ProgressStore
	beacon   BeaconSender
	failures FailureRecorder
	onEvent  func(Event)
	log      zerolog.Logger

	// owned by the loop goroutine
	status       model.SessionStatus
	answers      model.AnswerMap
	pointer      int
	newSinceSave int
	lastSavedAt  *time.Time
	debounce     clockwork.Timer
	debounceC    <-chan time.Time
	periodic     clockwork.Ticker
	periodicC    <-chan time.Time
	countdown    clockwork.Ticker
	countdownC   <-chan time.Time
	deadline     clockwork.Timer
	deadlineC    <-chan time.Time
	finalizing   bool
	waiters      []chan submitOutcome
	result       *Result

	latest atomic.Pointer[model.ProgressSnapshot]

	// in-flight autosaves; the final submission waits for them
	saving sync.WaitGroup

	cmds        chan func()
	saved       chan saveMsg
	finished    chan finishMsg
	quit        chan struct{}
	done        chan struct{}
	completed   chan struct{}
	disposeOnce sync.Once
}

// Start arms the session clock, transitions the attempt to InProgress and
// launches its event loop. An attempt whose time already ran out is
// auto-submitted immediately.
func Start(opts Options, seed Seed) (*Engine, error) {
	if len(opts.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if opts.Progress == nil {
		return nil, ErrMissingProgress
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	cfg := opts.Config.withDefaults()

	e := &Engine{
		id:        opts.SessionID,
		creds:     opts.Credentials,
		questions: opts.Questions,
		positions: make(map[string]int, len(opts.Questions)),
		total:     opts.TotalDuration,
		cfg:       cfg,
		clock:     opts.Clock,
		sc:        NewSessionClock(opts.Clock),
		monitor:   NewMonitor(opts.Clock, cfg.DesktopMinWidth),
		progress:  opts.Progress,
		beacon:    opts.Beacon,
		failures:  opts.Failures,
		onEvent:   opts.OnEvent,
		log:       opts.Logger.With().Str("component", "engine").Str("session_id", opts.SessionID).Logger(),
		status:    model.SessionStatusNotStarted,
		answers:   make(model.AnswerMap),
		cmds:      make(chan func()),
		saved:     make(chan saveMsg),
		finished:  make(chan finishMsg, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		completed: make(chan struct{}),
	}
	for i, q := range opts.Questions {
		e.positions[q.ID] = i
	}
	for qid, idx := range seed.Answers {
		if e.validAnswer(qid, idx) == nil {
			e.answers[qid] = idx
		}
	}
	if seed.Pointer >= 0 && seed.Pointer < len(e.questions) {
		e.pointer = seed.Pointer
	}
	if seed.AntiCheat != nil {
		e.monitor.Restore(*seed.AntiCheat)
	}

	remaining := e.total
	if seed.Remaining != nil {
		remaining = *seed.Remaining
	}
	if !e.status.CanTransitionTo(model.SessionStatusInProgress) {
		return nil, fmt.Errorf("start: %w", ErrSessionClosed)
	}
	e.status = model.SessionStatusInProgress
	e.sc.Arm(remaining)

	e.periodic = e.clock.NewTicker(cfg.PeriodicInterval)
	e.periodicC = e.periodic.Chan()
	e.countdown = e.clock.NewTicker(cfg.CountdownInterval)
	e.countdownC = e.countdown.Chan()
	if remaining > 0 {
		e.deadline = e.clock.NewTimer(remaining)
		e.deadlineC = e.deadline.Chan()
	}
	e.publish()

	e.log.Info().
		Dur("remaining", remaining).
		Int("answered", len(e.answers)).
		Int("pointer", e.pointer).
		Msg("Session engine started")

	go e.run()
	return e, nil
}

func (e *Engine) run() {
	defer close(e.done)
	if e.sc.Expired() {
		e.onExpired()
	}
	for {
		select {
		case <-e.quit:
			e.stopTimers()
			return
		case fn := <-e.cmds:
			fn()
		case <-e.debounceC:
			e.debounceC = nil
			e.save(LaneDebounce)
		case <-e.periodicC:
			e.newSinceSave = 0
			e.save(LanePeriodic)
		case <-e.countdownC:
			e.tick()
		case <-e.deadlineC:
			e.deadlineC = nil
			e.onExpired()
		case msg := <-e.saved:
			e.completeSave(msg)
		case msg := <-e.finished:
			e.completeFinalize(msg)
		}
	}
}

// call runs fn on the loop and waits for its result.
func (e *Engine) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- func() { reply <- fn() }:
	case <-e.done:
		return ErrDisposed
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrDisposed
		}
	}
}

func (e *Engine) ID() string { return e.id }

// Completed is closed once the attempt reaches a terminal status.
func (e *Engine) Completed() <-chan struct{} { return e.completed }

// FullscreenRequired reports whether fullscreen is enforced for a viewport.
func (e *Engine) FullscreenRequired(viewportWidth int) bool {
	return e.monitor.FullscreenRequired(viewportWidth)
}

// Answer records the chosen option for a question. Re-selecting the same
// option is a no-op.
func (e *Engine) Answer(questionID string, option int) error {
	return e.call(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if err := e.validAnswer(questionID, option); err != nil {
			return err
		}
		prev, had := e.answers[questionID]
		if had && prev == option {
			return nil
		}
		e.answers[questionID] = option
		e.publish()
		e.recordEdit(!had)
		return nil
	})
}

// Navigate moves the current question pointer.
func (e *Engine) Navigate(index int) error {
	return e.call(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if index < 0 || index >= len(e.questions) {
			return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		e.pointer = index
		e.publish()
		return nil
	})
}

// ReportVisibility feeds a page visibility transition to the monitor.
func (e *Engine) ReportVisibility(visible bool) error {
	return e.call(func() error {
		if e.status != model.SessionStatusInProgress {
			return ErrSessionClosed
		}
		if visible {
			if rec, ok := e.monitor.Visible(); ok {
				e.emit(Event{Type: EventTabReturned, Record: &rec, TabCount: e.monitor.State().TabSwitchCount})
			}
		} else if rec, ok := e.monitor.Hidden(); ok {
			count := e.monitor.State().TabSwitchCount
			e.log.Warn().Int("tab_switch_count", count).Msg("Student left the exam tab")
			e.emit(Event{Type: EventTabWarning, Record: &rec, TabCount: count})
		}
		e.publish()
		return nil
	})
}

// ReportFullscreen records a fullscreen change. Leaving fullscreen on a
// desktop-class viewport raises a banner.
func (e *Engine) ReportFullscreen(active bool, viewportWidth int) error {
	return e.call(func() error {
		if e.status != model.SessionStatusInProgress {
			return ErrSessionClosed
		}
		e.monitor.SetFullScreen(active)
		if !active && e.monitor.FullscreenRequired(viewportWidth) {
			e.emit(Event{Type: EventFullscreenBanner, Reason: "fullscreen_exited"})
		}
		return nil
	})
}

// ReportFullscreenFailure records a failed fullscreen request. It is never
// fatal; desktop viewports get a banner.
func (e *Engine) ReportFullscreenFailure(viewportWidth int, reason string) error {
	return e.call(func() error {
		if e.status != model.SessionStatusInProgress {
			return ErrSessionClosed
		}
		e.log.Warn().Int("viewport_width", viewportWidth).Str("reason", reason).Msg("Fullscreen request failed")
		if e.monitor.FullscreenRequired(viewportWidth) {
			if reason == "" {
				reason = "fullscreen_failed"
			}
			e.emit(Event{Type: EventFullscreenBanner, Reason: reason})
		}
		return nil
	})
}

// Resync recomputes the deadline from an authoritative remaining time.
func (e *Engine) Resync(remaining time.Duration) error {
	return e.call(func() error {
		if e.status != model.SessionStatusInProgress {
			return ErrSessionClosed
		}
		e.sc.Resync(remaining)
		stopAndDrainTimer(e.deadline)
		e.deadlineC = nil
		if remaining <= 0 {
			e.onExpired()
			return nil
		}
		if e.deadline == nil {
			e.deadline = e.clock.NewTimer(remaining)
		} else {
			e.deadline.Reset(remaining)
		}
		e.deadlineC = e.deadline.Chan()
		e.publish()
		return nil
	})
}

// Expire runs the countdown completion handler. It auto-submits once the
// deadline has passed and is a no-op otherwise, so repeated calls are safe.
func (e *Engine) Expire() {
	_ = e.call(func() error {
		e.onExpired()
		return nil
	})
}

// Cancel abandons the attempt without submitting.
func (e *Engine) Cancel() error {
	return e.call(func() error {
		if e.finalizing {
			return ErrSubmissionPending
		}
		if !e.status.CanTransitionTo(model.SessionStatusCancelled) {
			return ErrSessionClosed
		}
		e.status = model.SessionStatusCancelled
		e.stopTimers()
		e.publish()
		e.log.Info().Msg("Session cancelled")
		e.emit(Event{Type: EventCancelled})
		close(e.completed)
		return nil
	})
}

// View returns the current state of the attempt.
func (e *Engine) View() (*State, error) {
	var st *State
	err := e.call(func() error {
		ac := e.monitor.State()
		st = &State{
			SessionID:  e.id,
			Status:     e.status,
			Deadline:   e.sc.Deadline(),
			Remaining:  FormatHMS(e.sc.Remaining()),
			Pointer:    e.pointer,
			Answers:    e.answers.Clone(),
			AntiCheat:  ac,
			Submitting: e.finalizing,
			Result:     e.result,
		}
		if e.lastSavedAt != nil {
			t := *e.lastSavedAt
			st.LastSavedAt = &t
		}
		return nil
	})
	return st, err
}

// Remaining returns the time left before the deadline.
func (e *Engine) Remaining() time.Duration { return e.sc.Remaining() }

// Snapshot returns the most recent full snapshot without touching the loop.
func (e *Engine) Snapshot() model.ProgressSnapshot {
	snap := *e.latest.Load()
	snap.RemainingTime = FormatHMS(e.sc.Remaining())
	snap.LastSavedAt = e.clock.Now()
	return snap
}

// Dispose stops every timer and terminates the loop. It is idempotent and
// must not be called from an OnEvent handler.
func (e *Engine) Dispose() {
	e.disposeOnce.Do(func() {
		close(e.quit)
	})
	<-e.done
}

func (e *Engine) requireActive() error {
	if e.status != model.SessionStatusInProgress {
		return ErrSessionClosed
	}
	if e.finalizing {
		return ErrSubmissionPending
	}
	if e.sc.Expired() {
		e.onExpired()
		return ErrSessionClosed
	}
	return nil
}

func (e *Engine) validAnswer(questionID string, option int) error {
	pos, ok := e.positions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	q := e.questions[pos]
	limit := len(q.Options)
	if limit == 0 {
		limit = len(q.OptionLetters)
	}
	if option < 0 || (limit > 0 && option >= limit) || option > 25 {
		return fmt.Errorf("%w: %d", ErrInvalidOption, option)
	}
	return nil
}

func (e *Engine) tick() {
	remaining := e.sc.Remaining()
	e.emit(Event{Type: EventCountdown, Remaining: FormatHMS(remaining)})
	if remaining == 0 {
		e.onExpired()
	}
}

func (e *Engine) stopTimers() {
	stopAndDrainTimer(e.debounce)
	stopAndDrainTimer(e.deadline)
	if e.periodic != nil {
		e.periodic.Stop()
	}
	if e.countdown != nil {
		e.countdown.Stop()
	}
	e.debounceC, e.deadlineC, e.periodicC, e.countdownC = nil, nil, nil, nil
}

func (e *Engine) emit(ev Event) {
	if e.onEvent == nil {
		return
	}
	ev.SessionID = e.id
	ev.At = e.clock.Now()
	e.onEvent(ev)
}

func (e *Engine) snapshot(remaining time.Duration) model.ProgressSnapshot {
	ac := e.monitor.State()
	return model.ProgressSnapshot{
		ProgressPayload: model.ProgressPayload{
			SessionID:       e.id,
			QuestionAnswers: BuildWireAnswers(e.questions, e.answers),
			RemainingTime:   FormatHMS(remaining),
		},
		CurrentQuestionIndex: e.pointer,
		LastSavedAt:          e.clock.Now(),
		TabSwitchCount:       ac.TabSwitchCount,
		TabSwitchHistory:     ac.History,
	}
}

func (e *Engine) publish() {
	snap := e.snapshot(e.sc.Remaining())
	e.latest.Store(&snap)
}

func saveContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
