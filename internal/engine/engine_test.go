package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/timetick/internal/models"
)

var t0 = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func TestNew_Idle(t *testing.T) {
	e := New()

	assert.Equal(t, StateIdle, e.State())
	assert.Nil(t, e.Active())
	assert.Empty(t, e.Completed())
	assert.Zero(t, e.InactivitySeconds())
}

func TestStartAt_Activates(t *testing.T) {
	e := New()
	e.StartAt("Test Task", t0)

	assert.Equal(t, StateActive, e.State())
	s := e.Active()
	require.NotNil(t, s)
	assert.Equal(t, t0, s.StartTime())
	assert.Equal(t, "Test Task", s.Task())
	assert.False(t, s.Closed())
}

func TestStartAt_WhileActiveIsIgnored(t *testing.T) {
	e := New()
	e.StartAt("First", t0)
	first := e.Active()

	e.StartAt("Second", at(10))

	assert.Same(t, first, e.Active())
	assert.Equal(t, "First", e.Active().Task())
	assert.Equal(t, t0, e.Active().StartTime())
}

func TestStartAt_ResetsInactivity(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(100))
	e.StopAt(at(101))
	require.Equal(t, int64(100), e.InactivitySeconds())

	e.StartAt("", at(200))
	assert.Zero(t, e.InactivitySeconds())
}

func TestStopAt_ClosesUserStopped(t *testing.T) {
	e := New()
	e.StartAt("X", t0)
	e.StopAt(at(1800))

	assert.Equal(t, StateIdle, e.State())
	assert.Nil(t, e.Active())

	done := e.Completed()
	require.Len(t, done, 1)
	s := done[0]
	end, ok := s.EndTime()
	require.True(t, ok)
	assert.Equal(t, at(1800), end)
	assert.Equal(t, models.EndReasonUserStopped, s.EndReason())
	assert.Equal(t, int64(1800), s.DurationSeconds())
	assert.Equal(t, "X", s.Task())
}

func TestStopAt_IgnoresAccumulatedInactivity(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(250))
	require.Equal(t, int64(250), e.InactivitySeconds())

	e.StopAt(at(260))

	s := e.Completed()[0]
	assert.Equal(t, models.EndReasonUserStopped, s.EndReason())
	assert.Zero(t, s.MaxInactivitySeconds())
}

func TestStopAt_WhileIdleIsIgnored(t *testing.T) {
	e := New()
	e.StopAt(t0)

	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.Completed())
}

func TestTickAt_WhileIdleIsIgnored(t *testing.T) {
	e := New()
	e.TickAt(at(1000))

	assert.Equal(t, StateIdle, e.State())
	assert.Zero(t, e.InactivitySeconds())
	assert.Empty(t, e.Completed())
}

func TestTickAt_ReachingLimitCloses(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(InactivityLimitSeconds))

	assert.Equal(t, StateIdle, e.State())
	done := e.Completed()
	require.Len(t, done, 1)
	s := done[0]
	end, _ := s.EndTime()
	assert.Equal(t, at(InactivityLimitSeconds), end)
	assert.Equal(t, models.EndReasonInactivityLimit, s.EndReason())
	assert.Equal(t, int64(InactivityLimitSeconds), s.DurationSeconds())
	assert.Equal(t, int64(InactivityLimitSeconds), s.MaxInactivitySeconds())
}

func TestTickAt_OvershootIsRecordedVerbatim(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(120))
	e.TickAt(at(420))

	s := e.Completed()[0]
	end, _ := s.EndTime()
	assert.Equal(t, at(420), end)
	assert.Equal(t, int64(420), s.DurationSeconds())
	assert.Equal(t, int64(420), s.MaxInactivitySeconds())
}

func TestTickAt_JustBelowLimitStaysActive(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(299))

	assert.Equal(t, StateActive, e.State())
	assert.Equal(t, int64(299), e.InactivitySeconds())
}

func TestTickAt_SubSecondDeltasAreDropped(t *testing.T) {
	e := New()
	e.StartAt("", t0)

	// Each tick is 900ms after the previous one, so no delta is ever a whole
	// second even though wall time keeps moving.
	now := t0
	for i := 0; i < 10; i++ {
		now = now.Add(900 * time.Millisecond)
		e.TickAt(now)
	}

	assert.Zero(t, e.InactivitySeconds())
	assert.Equal(t, StateActive, e.State())
}

func TestTickAt_FractionalDeltaTruncates(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(t0.Add(2500 * time.Millisecond))

	assert.Equal(t, int64(2), e.InactivitySeconds())
}

func TestTickAt_BackwardsTimeNeverDecrements(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(100))
	e.TickAt(at(50))

	assert.Equal(t, int64(100), e.InactivitySeconds())

	// The anchor moved back to t0+50s, so this delta is 30s.
	e.TickAt(at(80))
	assert.Equal(t, int64(130), e.InactivitySeconds())
}

func TestHandleInput_ResetsTimer(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(InactivityLimitSeconds / 2))
	require.Equal(t, int64(InactivityLimitSeconds/2), e.InactivitySeconds())

	e.HandleInput()
	assert.Zero(t, e.InactivitySeconds())

	e.TickAt(at(InactivityLimitSeconds))
	assert.Equal(t, StateActive, e.State())
}

func TestHandleInput_WhileIdle(t *testing.T) {
	e := New()
	e.HandleInput()

	assert.Equal(t, StateIdle, e.State())
	assert.Zero(t, e.InactivitySeconds())
}

func TestScenario_InputThenTimeout(t *testing.T) {
	e := New()
	e.StartAt("", t0)

	e.TickAt(at(150))
	assert.Equal(t, int64(150), e.InactivitySeconds())
	assert.Equal(t, StateActive, e.State())

	e.HandleInput()
	e.TickAt(at(151))
	assert.Equal(t, int64(1), e.InactivitySeconds())
	assert.Equal(t, StateActive, e.State())

	// 299 more seconds brings the counter to exactly the limit.
	e.TickAt(at(150 + InactivityLimitSeconds))
	assert.Equal(t, StateIdle, e.State())

	s := e.Completed()[0]
	assert.Equal(t, models.EndReasonInactivityLimit, s.EndReason())
	assert.Equal(t, int64(InactivityLimitSeconds), s.MaxInactivitySeconds())
	// Duration is the tick time minus the start time.
	assert.Equal(t, int64(150+InactivityLimitSeconds), s.DurationSeconds())
}

func TestInterruptAt_ClosesAppInterruption(t *testing.T) {
	e := New()
	e.StartAt("", t0)
	e.TickAt(at(200))
	e.InterruptAt(at(600))

	assert.Equal(t, StateIdle, e.State())
	done := e.Completed()
	require.Len(t, done, 1)
	s := done[0]
	end, _ := s.EndTime()
	assert.Equal(t, at(600), end)
	assert.Equal(t, models.EndReasonAppInterruption, s.EndReason())
	assert.Zero(t, s.MaxInactivitySeconds())
}

func TestInterruptAt_WhileIdleIsIgnored(t *testing.T) {
	e := New()
	e.InterruptAt(t0)
	assert.Empty(t, e.Completed())
}

func TestCompleted_OrderAndCopy(t *testing.T) {
	e := New()
	e.StartAt("a", at(0))
	e.StopAt(at(10))
	e.StartAt("b", at(20))
	e.TickAt(at(20 + InactivityLimitSeconds))
	e.StartAt("c", at(1000))
	e.InterruptAt(at(1001))

	done := e.Completed()
	require.Len(t, done, 3)
	assert.Equal(t, "a", done[0].Task())
	assert.Equal(t, "b", done[1].Task())
	assert.Equal(t, "c", done[2].Task())

	done[0] = nil
	assert.NotNil(t, e.Completed()[0], "caller mutation must not leak into the engine")
}

func TestClockDefaults(t *testing.T) {
	now := t0
	e := New(WithClock(func() time.Time { return now }))

	e.Start("clocked")
	now = at(45)
	e.Tick()
	assert.Equal(t, int64(45), e.InactivitySeconds())

	now = at(60)
	e.Stop()
	s := e.Completed()[0]
	assert.Equal(t, int64(60), s.DurationSeconds())

	now = at(100)
	e.Start("again")
	now = at(130)
	e.Interrupt()
	assert.Equal(t, models.EndReasonAppInterruption, e.Completed()[1].EndReason())
}

func TestWithCompleted_SkipsOpenAndDuplicates(t *testing.T) {
	closed := models.NewSession(t0, "old")
	closed.Close(at(60), models.EndReasonUserStopped, 0)
	open := models.NewSession(t0, "open")

	e := New(WithCompleted([]*models.Session{closed, open, closed, nil}))

	done := e.Completed()
	require.Len(t, done, 1)
	assert.Same(t, closed, done[0])
	assert.Equal(t, StateIdle, e.State())
}

func TestSnapshot(t *testing.T) {
	e := New()
	e.StartAt("snap", t0)
	e.TickAt(at(42))

	snap := e.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	require.NotNil(t, snap.Active)
	assert.Equal(t, "snap", snap.Active.Task())
	assert.Equal(t, int64(42), snap.InactivitySeconds)
	assert.Zero(t, snap.CompletedCount)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}

func TestConcurrentInputAndTransitions(t *testing.T) {
	e := New()
	e.StartAt("", t0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			e.HandleInput()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			e.TickAt(t0.Add(time.Duration(i) * time.Millisecond * 100))
		}
	}()
	wg.Wait()

	e.StopAt(at(500))
	e.InterruptAt(at(501))

	done := e.Completed()
	require.Len(t, done, 1, "only one closure may win")
	assert.Equal(t, models.EndReasonUserStopped, done[0].EndReason())
}

func TestConcurrentTickStopRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		e := New()
		e.StartAt("race", t0)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			e.TickAt(at(400))
		}()
		go func() {
			defer wg.Done()
			e.StopAt(at(400))
		}()
		go func() {
			defer wg.Done()
			e.HandleInput()
		}()
		wg.Wait()

		done := e.Completed()
		require.Len(t, done, 1, "exactly one closure may win")
		assert.Contains(t,
			[]models.EndReason{models.EndReasonUserStopped, models.EndReasonInactivityLimit},
			done[0].EndReason())
		assert.Equal(t, StateIdle, e.State())
		assert.Nil(t, e.Active())
	}
}
