package capture

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/audiolibrelab/sensorcapture/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

var (
	// ErrBusy is returned when an operation requires the Idle state
	ErrBusy = errors.New("a capture session is already in progress")
	// ErrNotRunning is returned by Stop when there is nothing to stop
	ErrNotRunning = errors.New("no capture session in progress")
)

const (
	DefaultCountdown = 3 * time.Second
	DefaultTick      = 100 * time.Millisecond
	// DefaultMaxBytes is the 1 GiB blob budget
	DefaultMaxBytes = 1 << 30
)

// Persister writes session data to storage
type Persister interface {
	Save(entries []recorder.Entry) storage.Result
	DeleteAll() error
}

// Ticker drives the countdown
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

// Session is one armed-through-saved capture cycle
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time
	Recorders []recorder.Entry
}

// SessionInfo is a copy of the live session safe to hand out
type SessionInfo struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	Modalities []string  `json:"modalities"`
}

// Status is a point-in-time view of the orchestrator
type Status struct {
	State       State         `json:"state"`
	Mode        Mode          `json:"mode"`
	Countdown   time.Duration `json:"countdown"`
	Remaining   time.Duration `json:"remaining"`
	Session     *SessionInfo  `json:"session,omitempty"`
	BudgetBytes int64         `json:"budget_bytes"`
	BudgetMax   int64         `json:"budget_max"`
	LastSummary string        `json:"last_summary,omitempty"`
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithMode(m Mode) Option {
	return func(o *Orchestrator) { o.mode = m }
}

func WithCountdown(d time.Duration) Option {
	return func(o *Orchestrator) { o.countdown = d }
}

func WithTick(d time.Duration) Option {
	return func(o *Orchestrator) { o.tickEvery = d }
}

func WithMaxBytes(n int64) Option {
	return func(o *Orchestrator) { o.maxBytes = n }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithTicker(f func(time.Duration) Ticker) Option {
	return func(o *Orchestrator) { o.newTicker = f }
}

func WithListener(l Listener) Option {
	return func(o *Orchestrator) { o.listener = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithMailboxSize(n int) Option {
	return func(o *Orchestrator) { o.mailboxSize = n }
}

// Orchestrator owns the capture state machine. Run must be executing for any
// other method to make progress; every transition and every listener call
// happens on the goroutine running Run.
type Orchestrator struct {
	registry *recorder.Registry
	saver    Persister
	budget   *Budget
	mailbox  *Mailbox

	mode        Mode
	countdown   time.Duration
	tickEvery   time.Duration
	maxBytes    int64
	mailboxSize int
	now         func() time.Time
	newTicker   func(time.Duration) Ticker
	listener    Listener
	log         *slog.Logger

	// readable from any goroutine
	state *atomic.String

	// owned by the Run goroutine
	session     *Session
	remaining   time.Duration
	lastTick    time.Time
	ticker      Ticker
	tickC       <-chan time.Time
	lastSummary string
}

// New wires the orchestrator to the registry's blob recorders. Recorders
// registered after New do not report to the byte budget.
func New(registry *recorder.Registry, saver Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		saver:       saver,
		mode:        ModeMultiple,
		countdown:   DefaultCountdown,
		tickEvery:   DefaultTick,
		maxBytes:    DefaultMaxBytes,
		mailboxSize: 64,
		now:         time.Now,
		newTicker:   newTimeTicker,
		log:         slog.Default(),
		state:       atomic.NewString(string(StateIdle)),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.mailbox = NewMailbox(o.mailboxSize)
	o.budget = NewBudget(o.maxBytes, func(epoch int64) {
		// Report runs on a sensor goroutine, possibly under a recorder lock.
		go func() { _ = o.mailbox.Post(func() { o.budgetStop(epoch) }) }()
	})
	for _, b := range registry.Blobs() {
		b.OnStored(o.budget.Report)
	}
	return o
}

// Run processes posted work and countdown ticks until ctx is done
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.mailbox.Close()
	defer o.stopTicker()

	o.log.Debug("Capture loop started", "mode", o.mode, "countdown", o.countdown)
	for {
		select {
		case <-ctx.Done():
			o.log.Debug("Capture loop stopped", "state", o.State())
			return ctx.Err()
		case fn := <-o.mailbox.C():
			fn()
		case now := <-o.tickC:
			o.tick(now)
		}
	}
}

// State can be read from any goroutine, including a Listener
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Budget exposes the byte budget monitor
func (o *Orchestrator) Budget() *Budget { return o.budget }

// Start arms a new session. It returns ErrBusy unless the state is Idle.
func (o *Orchestrator) Start() error { return o.do(o.start) }

// Stop cancels a countdown or ends a continuous capture
func (o *Orchestrator) Stop() error {
	return o.do(func() error { return o.stop(StopOperator) })
}

// SetMode changes the mode used by the next session
func (o *Orchestrator) SetMode(m Mode) error {
	return o.do(func() error {
		if o.State() != StateIdle {
			return ErrBusy
		}
		o.mode = m
		return nil
	})
}

// SetCountdown changes the countdown used by the next session
func (o *Orchestrator) SetCountdown(d time.Duration) error {
	return o.do(func() error {
		if o.State() != StateIdle {
			return ErrBusy
		}
		o.countdown = d
		return nil
	})
}

// DeleteAll removes all captured data. It is rejected while a session is live.
func (o *Orchestrator) DeleteAll() error {
	return o.do(func() error {
		if o.State() != StateIdle {
			return ErrBusy
		}
		if err := o.saver.DeleteAll(); err != nil {
			return err
		}
		o.emit(Event{Kind: EventDeleted, Message: msgDeleted})
		return nil
	})
}

// Status must not be called from a Listener
func (o *Orchestrator) Status() (Status, error) {
	var st Status
	err := o.do(func() error {
		st = Status{
			State:       o.State(),
			Mode:        o.mode,
			Countdown:   o.countdown,
			BudgetBytes: o.budget.Total(),
			BudgetMax:   o.budget.Max(),
			LastSummary: o.lastSummary,
		}
		if o.State() == StateArming {
			st.Remaining = o.remaining
		}
		if s := o.session; s != nil {
			info := &SessionInfo{ID: s.ID, Mode: s.Mode, StartedAt: s.StartedAt}
			for _, e := range s.Recorders {
				info.Modalities = append(info.Modalities, e.Modality().String())
			}
			st.Session = info
		}
		return nil
	})
	return st, err
}

// do runs fn on the controlling goroutine and waits for its result
func (o *Orchestrator) do(fn func() error) error {
	errc := make(chan error, 1)
	if err := o.mailbox.Post(func() { errc <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-o.mailbox.Done():
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	}
}

func (o *Orchestrator) start() error {
	if o.State() != StateIdle {
		return ErrBusy
	}

	o.session = &Session{
		ID:        uuid.NewString(),
		Mode:      o.mode,
		StartedAt: o.now(),
		Recorders: o.registry.Enabled(),
	}
	o.setState(StateArming)
	o.log.Info("Capture armed", "session", o.session.ID, "mode", o.session.Mode,
		"countdown", o.countdown, "recorders", len(o.session.Recorders))

	o.remaining = o.countdown
	if o.remaining <= 0 {
		o.expire()
		return nil
	}

	o.emit(Event{Kind: EventProgress, Phase: PhaseCountdown, Remaining: o.remaining, Blocking: true})
	o.lastTick = o.now()
	o.ticker = o.newTicker(o.tickEvery)
	o.tickC = o.ticker.C()
	return nil
}

func (o *Orchestrator) tick(now time.Time) {
	if o.State() != StateArming {
		o.stopTicker()
		return
	}
	o.remaining -= now.Sub(o.lastTick)
	o.lastTick = now
	if o.remaining <= 0 {
		o.stopTicker()
		o.expire()
		return
	}
	o.emit(Event{Kind: EventProgress, Phase: PhaseCountdown, Remaining: o.remaining, Blocking: true})
}

// expire ends the countdown: Single mode saves a snapshot right away,
// Multiple mode opens the capture bracket.
func (o *Orchestrator) expire() {
	s := o.session
	o.remaining = 0

	if s.Mode == ModeSingle {
		o.setState(StateSnapshotSave)
		o.emit(Event{Kind: EventRecordingBegan})
		for _, e := range s.Recorders {
			e.Recorder().Snapshot()
		}
		res := o.saver.Save(s.Recorders)
		o.complete(s, res, StopOperator)
		return
	}

	o.budget.Reset()
	for _, e := range s.Recorders {
		e.Recorder().Begin()
	}
	o.setState(StateRecording)
	o.log.Info("Capture recording", "session", s.ID, "max_bytes", o.budget.Max())
	o.emit(Event{Kind: EventRecordingBegan})
}

func (o *Orchestrator) stop(reason StopReason) error {
	switch o.State() {
	case StateArming:
		o.stopTicker()
		o.log.Info("Capture countdown canceled", "session", o.session.ID, "remaining", o.remaining)
		o.emit(Event{Kind: EventCanceled, Message: msgCanceled})
		o.reset()
		return nil
	case StateRecording:
		o.endRecording(reason)
		return nil
	case StateSaving, StateSnapshotSave:
		// the session is already on its way out
		return nil
	default:
		return ErrNotRunning
	}
}

// budgetStop ends the recording the trip belongs to. A trip from an earlier
// epoch arrives after its session was already saved and is dropped.
func (o *Orchestrator) budgetStop(epoch int64) {
	if o.State() != StateRecording {
		return
	}
	if epoch != o.budget.Epoch() {
		o.log.Debug("Stale budget stop dropped", "session", o.session.ID, "epoch", epoch)
		return
	}
	o.log.Warn("Byte budget exceeded, stopping capture",
		"session", o.session.ID, "total", o.budget.Total(), "max", o.budget.Max())
	o.endRecording(StopBudget)
}

// endRecording closes the bracket and hands the buffers to a background save
func (o *Orchestrator) endRecording(reason StopReason) {
	s := o.session
	for _, e := range s.Recorders {
		e.Recorder().End()
	}
	o.emit(Event{Kind: EventRecordingEnded, Reason: reason})
	if reason == StopBudget {
		o.emit(Event{Kind: EventFinishedBySystem, Reason: reason})
	}

	o.setState(StateSaving)
	o.emit(Event{Kind: EventProgress, Phase: PhaseSaving, Message: msgSaving, Blocking: true})
	o.log.Info("Capture saving", "session", s.ID, "reason", reason)

	entries := s.Recorders
	go func() {
		res := o.saver.Save(entries)
		if err := o.mailbox.Post(func() { o.saved(s, res, reason) }); err != nil {
			o.log.Warn("Save finished after the capture loop stopped", "session", s.ID, "rows", res.Rows, "blobs", res.Blobs)
		}
	}()
}

func (o *Orchestrator) saved(s *Session, res storage.Result, reason StopReason) {
	if o.session != s {
		return
	}
	o.budget.Reset()
	o.complete(s, res, reason)
}

func (o *Orchestrator) complete(s *Session, res storage.Result, reason StopReason) {
	msg := Summary(s.Mode, res)
	o.lastSummary = msg
	if err := res.Err(); err != nil {
		o.log.Error("Capture saved with errors", "session", s.ID, "error", err)
	}
	o.log.Info("Capture completed", "session", s.ID, "rows", res.Rows, "blobs", res.Blobs, "reason", reason)
	o.emit(Event{Kind: EventCompleted, Message: msg, Result: &res, Reason: reason})
	o.reset()
}

func (o *Orchestrator) reset() {
	o.session = nil
	o.remaining = 0
	o.setState(StateIdle)
}

func (o *Orchestrator) setState(s State) {
	prev := o.state.Load()
	o.state.Store(string(s))
	o.log.Debug("Capture state changed", "from", prev, "to", s)
}

func (o *Orchestrator) stopTicker() {
	if o.ticker != nil {
		o.ticker.Stop()
		o.ticker = nil
	}
	o.tickC = nil
}

// emit stamps the event with the live session and calls the listener,
// recovering from listener panics.
func (o *Orchestrator) emit(ev Event) {
	if o.listener == nil {
		return
	}
	if s := o.session; s != nil {
		ev.SessionID = s.ID
		ev.Mode = s.Mode
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Capture listener panicked", "event", ev.Kind, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	o.listener(ev)
}
