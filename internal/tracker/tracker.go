// Package tracker drives the session engine: it restores completed sessions
// from the store, forwards transitions, persists newly closed sessions and
// runs the periodic tick loop.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/timetick/internal/engine"
	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/store"
)

// SessionStore is the subset of store.Store the tracker needs.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*models.Session, error)
}

// Options configures a Tracker.
type Options struct {
	// Clock replaces time.Now.
	Clock func() time.Time
	// OnClose is called after each session closed by this tracker is persisted.
	OnClose func(*models.Session)
	Logger  *slog.Logger
}

// Tracker owns one Engine and keeps the store in sync with its completed list.
type Tracker struct {
	engine  *engine.Engine
	store   SessionStore
	now     func() time.Time
	onClose func(*models.Session)
	log     *slog.Logger

	// persistMu guards persisted, the number of engine.Completed() entries
	// already written to the store.
	persistMu sync.Mutex
	persisted int
}

// New loads the unarchived completed sessions from the store and builds an
// engine seeded with them.
func New(ctx context.Context, s SessionStore, opts Options) (*Tracker, error) {
	restored, err := s.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eng := engine.New(engine.WithClock(now), engine.WithCompleted(restored))
	t := &Tracker{
		engine:    eng,
		store:     s,
		now:       now,
		onClose:   opts.OnClose,
		log:       logger,
		persisted: len(eng.Completed()),
	}
	logger.Debug("tracker ready", "restored_sessions", t.persisted)
	return t, nil
}

// Engine exposes the underlying state machine for read-only views.
func (t *Tracker) Engine() *engine.Engine { return t.engine }

// Start opens a session with the given task. Ignored while a session is active.
func (t *Tracker) Start(ctx context.Context, task string) error {
	t.engine.Start(task)
	return t.flush(ctx)
}

// Stop closes the active session as USER_STOPPED.
func (t *Tracker) Stop(ctx context.Context) error {
	t.engine.Stop()
	return t.flush(ctx)
}

// Tick advances the inactivity counter and persists an automatic closure.
func (t *Tracker) Tick(ctx context.Context) error {
	t.engine.Tick()
	return t.flush(ctx)
}

// Input resets the inactivity counter. Safe from any goroutine; never
// touches the store.
func (t *Tracker) Input() {
	t.engine.HandleInput()
}

// Interrupt closes the active session as APP_INTERRUPTION.
func (t *Tracker) Interrupt(ctx context.Context) error {
	t.engine.Interrupt()
	return t.flush(ctx)
}

// flush writes sessions that closed since the last flush, in completion order.
func (t *Tracker) flush(ctx context.Context) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	completed := t.engine.Completed()
	for t.persisted < len(completed) {
		s := completed[t.persisted]
		if err := t.store.CreateSession(ctx, s); err != nil {
			t.log.Error("persist session failed", "task", s.Task(), "error", err)
			return fmt.Errorf("persist session: %w", err)
		}
		t.persisted++

		t.log.Info("session closed",
			"id", s.ID(),
			"task", s.Task(),
			"reason", s.EndReason(),
			"duration_seconds", s.DurationSeconds(),
			"inactivity_seconds", s.MaxInactivitySeconds(),
		)
		if t.onClose != nil {
			t.onClose(s)
		}
	}
	return nil
}

// Run ticks every interval until ctx is cancelled, then interrupts any
// active session and persists it. Persistence errors are logged and the
// loop keeps running.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is done; use a fresh one so the final write still happens.
			return t.Interrupt(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := t.Tick(ctx); err != nil {
				t.log.Warn("tick failed", "error", err)
			}
		}
	}
}

// Status is a point-in-time view for UIs and APIs.
type Status struct {
	State             string     `json:"state"`
	Task              string     `json:"task,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds    int64      `json:"elapsed_seconds"`
	InactivitySeconds int64      `json:"inactivity_seconds"`
	RemainingSeconds  int64      `json:"remaining_seconds"`
	InactivityLimit   int64      `json:"inactivity_limit_seconds"`
	CompletedCount    int        `json:"completed_count"`
	TotalSeconds      int64      `json:"total_seconds"`
}

// Status reports the current engine state. Elapsed and inactivity fields are
// zero while idle.
func (t *Tracker) Status() Status {
	snap := t.engine.Snapshot()
	st := Status{
		State:           snap.State.String(),
		InactivityLimit: engine.InactivityLimitSeconds,
		CompletedCount:  snap.CompletedCount,
		TotalSeconds:    models.TotalDurationSeconds(t.engine.Completed()),
	}
	if snap.State != engine.StateActive || snap.Active == nil {
		return st
	}

	started := snap.Active.StartTime()
	st.Task = snap.Active.Task()
	st.StartedAt = &started
	st.ElapsedSeconds = int64(t.now().Sub(started) / time.Second)
	st.InactivitySeconds = snap.InactivitySeconds
	st.RemainingSeconds = max(engine.InactivityLimitSeconds-snap.InactivitySeconds, 0)
	return st
}

// Completed returns the completed sessions held by the engine.
func (t *Tracker) Completed() []*models.Session {
	return t.engine.Completed()
}
