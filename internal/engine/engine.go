// Package engine holds the session state machine: it owns at most one open
// session, accumulates inactivity on each tick and closes the session on user
// stop, inactivity timeout or interruption.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joescharf/timetick/internal/models"
)

// InactivityLimitSeconds is the uninterrupted inactivity after which an
// active session is closed automatically.
const InactivityLimitSeconds = 300

// State is the engine's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Engine is the session controller. Start, Stop, Tick and Interrupt are
// serialized; HandleInput only touches the atomic inactivity counter and may
// be called from any goroutine.
type Engine struct {
	now func() time.Time

	mu        sync.Mutex
	state     State
	active    *models.Session
	completed []*models.Session
	lastTick  *time.Time

	inactivity atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for the un-suffixed transition methods.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCompleted seeds the completed list, e.g. from persistence. Open
// sessions and repeated pointers are skipped.
func WithCompleted(sessions []*models.Session) Option {
	return func(e *Engine) {
		seen := make(map[*models.Session]bool, len(sessions))
		for _, s := range sessions {
			if s == nil || !s.Closed() || seen[s] {
				continue
			}
			seen[s] = true
			e.completed = append(e.completed, s)
		}
	}
}

// New creates an idle engine.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now, state: StateIdle}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a session at the current clock time.
func (e *Engine) Start(task string) { e.StartAt(task, e.now()) }

// StartAt opens a session starting at the given time. It is ignored while a
// session is active; the existing session and its task are kept.
func (e *Engine) StartAt(task string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateActive {
		return
	}

	e.active = models.NewSession(at, task)
	e.inactivity.Store(0)
	e.lastTick = &at
	e.state = StateActive
}

// Stop closes the active session at the current clock time.
func (e *Engine) Stop() { e.StopAt(e.now()) }

// StopAt closes the active session as USER_STOPPED. Accumulated inactivity
// is not recorded. Ignored while idle.
func (e *Engine) StopAt(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeActive(at, models.EndReasonUserStopped, 0)
}

// Interrupt closes the active session at the current clock time.
func (e *Engine) Interrupt() { e.InterruptAt(e.now()) }

// InterruptAt closes the active session as APP_INTERRUPTION. Ignored while idle.
func (e *Engine) InterruptAt(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeActive(at, models.EndReasonAppInterruption, 0)
}

// Tick evaluates inactivity at the current clock time.
func (e *Engine) Tick() { e.TickAt(e.now()) }

// TickAt adds the whole seconds elapsed since the previous tick to the
// inactivity counter and closes the session as INACTIVITY_LIMIT once the
// counter reaches the limit. Non-positive deltas are dropped. The closure
// time is now, so any overshoot past the limit is kept in both the end time
// and the recorded inactivity. Ignored while idle.
func (e *Engine) TickAt(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive || e.active == nil {
		return
	}

	if e.lastTick != nil {
		if delta := int64(now.Sub(*e.lastTick) / time.Second); delta > 0 {
			e.inactivity.Add(delta)
		}
	}
	e.lastTick = &now

	if v := e.inactivity.Load(); v >= InactivityLimitSeconds {
		e.closeActive(now, models.EndReasonInactivityLimit, v)
	}
}

// HandleInput resets the inactivity counter. It has no visible effect while
// idle and never blocks on the transition lock.
func (e *Engine) HandleInput() {
	e.inactivity.Store(0)
}

// closeActive must be called with e.mu held.
func (e *Engine) closeActive(at time.Time, reason models.EndReason, inactivity int64) {
	if e.state != StateActive || e.active == nil {
		return
	}

	if e.active.Close(at, reason, inactivity) {
		e.completed = append(e.completed, e.active)
	}
	e.active = nil
	e.state = StateIdle
	e.lastTick = nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active returns the open session, or nil while idle.
func (e *Engine) Active() *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Completed returns the closed sessions in completion order. The slice is a
// copy; the sessions themselves are immutable.
func (e *Engine) Completed() []*models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Session, len(e.completed))
	copy(out, e.completed)
	return out
}

// InactivitySeconds returns the current inactivity counter.
func (e *Engine) InactivitySeconds() int64 {
	return e.inactivity.Load()
}

// Snapshot is a consistent read of the engine state.
type Snapshot struct {
	State             State
	Active            *models.Session
	CompletedCount    int
	InactivitySeconds int64
}

// Snapshot reads state, active session and completed count under one lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		State:             e.state,
		Active:            e.active,
		CompletedCount:    len(e.completed),
		InactivitySeconds: e.inactivity.Load(),
	}
}
