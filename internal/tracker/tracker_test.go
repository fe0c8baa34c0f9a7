package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/timetick/internal/engine"
	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/store"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// mockStore implements SessionStore in memory.
type mockStore struct {
	mu       sync.Mutex
	sessions []*models.Session
	failNext bool
}

func (m *mockStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("disk full")
	}
	s.AssignID("id-" + s.Task())
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *mockStore) ListSessions(_ context.Context, _ store.SessionFilter) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Session, len(m.sessions))
	copy(out, m.sessions)
	return out, nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t0.Add(time.Duration(seconds) * time.Second)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker(t *testing.T, ms *mockStore, onClose func(*models.Session)) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	tr, err := New(context.Background(), ms, Options{Clock: clock.Now, OnClose: onClose, Logger: quietLogger()})
	require.NoError(t, err)
	return tr, clock
}

func TestNew_RestoresCompleted(t *testing.T) {
	old := models.NewSession(t0.Add(-time.Hour), "yesterday")
	old.Close(t0.Add(-30*time.Minute), models.EndReasonUserStopped, 0)
	ms := &mockStore{sessions: []*models.Session{old}}

	tr, _ := newTestTracker(t, ms, nil)

	require.Len(t, tr.Completed(), 1)
	assert.Equal(t, "yesterday", tr.Completed()[0].Task())

	// Restored sessions are not written again.
	require.NoError(t, tr.Tick(context.Background()))
	assert.Equal(t, 1, ms.count())
}

func TestStartStop_Persists(t *testing.T) {
	ms := &mockStore{}
	var closed []*models.Session
	tr, clock := newTestTracker(t, ms, func(s *models.Session) { closed = append(closed, s) })
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "X"))
	assert.Equal(t, 0, ms.count())

	clock.Set(1800)
	require.NoError(t, tr.Stop(ctx))

	require.Equal(t, 1, ms.count())
	s := ms.sessions[0]
	assert.Equal(t, "X", s.Task())
	assert.Equal(t, models.EndReasonUserStopped, s.EndReason())
	assert.Equal(t, int64(1800), s.DurationSeconds())
	assert.Equal(t, "id-X", s.ID())
	require.Len(t, closed, 1)
	assert.Same(t, s, closed[0])
}

func TestTick_AutoStopPersists(t *testing.T) {
	ms := &mockStore{}
	tr, clock := newTestTracker(t, ms, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "idle"))
	clock.Set(engine.InactivityLimitSeconds)
	require.NoError(t, tr.Tick(ctx))

	require.Equal(t, 1, ms.count())
	assert.Equal(t, models.EndReasonInactivityLimit, ms.sessions[0].EndReason())
	assert.Equal(t, "IDLE", tr.Status().State)
}

func TestInput_KeepsSessionAlive(t *testing.T) {
	ms := &mockStore{}
	tr, clock := newTestTracker(t, ms, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, ""))
	for i := 1; i <= 10; i++ {
		clock.Set(i * 100)
		tr.Input()
		require.NoError(t, tr.Tick(ctx))
	}

	assert.Equal(t, "ACTIVE", tr.Status().State)
	assert.Equal(t, 0, ms.count())
}

func TestFlush_RetriesAfterFailure(t *testing.T) {
	ms := &mockStore{failNext: true}
	tr, clock := newTestTracker(t, ms, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "retry"))
	clock.Set(60)
	err := tr.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, ms.count())

	// The next mutation writes the pending session.
	require.NoError(t, tr.Tick(ctx))
	assert.Equal(t, 1, ms.count())
}

func TestStatus(t *testing.T) {
	ms := &mockStore{}
	tr, clock := newTestTracker(t, ms, nil)
	ctx := context.Background()

	st := tr.Status()
	assert.Equal(t, "IDLE", st.State)
	assert.Nil(t, st.StartedAt)
	assert.Equal(t, int64(engine.InactivityLimitSeconds), st.InactivityLimit)

	require.NoError(t, tr.Start(ctx, "status"))
	clock.Set(120)
	require.NoError(t, tr.Tick(ctx))

	st = tr.Status()
	assert.Equal(t, "ACTIVE", st.State)
	assert.Equal(t, "status", st.Task)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, t0, *st.StartedAt)
	assert.Equal(t, int64(120), st.ElapsedSeconds)
	assert.Equal(t, int64(120), st.InactivitySeconds)
	assert.Equal(t, int64(180), st.RemainingSeconds)

	clock.Set(200)
	require.NoError(t, tr.Stop(ctx))
	st = tr.Status()
	assert.Equal(t, 1, st.CompletedCount)
	assert.Equal(t, int64(200), st.TotalSeconds)
}

func TestRun_InterruptsOnCancel(t *testing.T) {
	ms := &mockStore{}
	tr, err := New(context.Background(), ms, Options{Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Start(ctx, "run"))

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	require.Equal(t, 1, ms.count())
	assert.Equal(t, models.EndReasonAppInterruption, ms.sessions[0].EndReason())
}
