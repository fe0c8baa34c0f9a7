package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EndReason records why a session was closed.
type EndReason string

const (
	EndReasonUserStopped     EndReason = "USER_STOPPED"
	EndReasonInactivityLimit EndReason = "INACTIVITY_LIMIT"
	EndReasonAppInterruption EndReason = "APP_INTERRUPTION"
)

// Valid reports whether r is one of the known closure reasons.
func (r EndReason) Valid() bool {
	switch r {
	case EndReasonUserStopped, EndReasonInactivityLimit, EndReasonAppInterruption:
		return true
	default:
		return false
	}
}

// ErrInvalidRecord is returned when a SessionRecord cannot describe a valid session.
var ErrInvalidRecord = errors.New("invalid session record")

// Session is one tracked work interval. It is open until Close is called
// and immutable afterwards.
type Session struct {
	mu sync.Mutex

	id                   string
	startTime            time.Time
	endTime              *time.Time
	task                 string
	endReason            EndReason
	maxInactivitySeconds int64
	closed               bool
}

// NewSession creates an open session.
func NewSession(start time.Time, task string) *Session {
	return &Session{startTime: start, task: task}
}

// Close ends the session. Only the first call has any effect; it reports
// whether this call performed the closure. end is not checked against the
// start time.
func (s *Session) Close(end time.Time, reason EndReason, inactivitySeconds int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.endTime = &end
	s.endReason = reason
	s.maxInactivitySeconds = inactivitySeconds
	s.closed = true
	return true
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DurationSeconds is end minus start in whole seconds, truncated toward zero.
// Open sessions report 0. Negative values are returned as is.
func (s *Session) DurationSeconds() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endTime == nil {
		return 0
	}
	return int64(s.endTime.Sub(s.startTime) / time.Second)
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// AssignID sets the storage identifier once. Later calls are ignored.
func (s *Session) AssignID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = id
	}
}

func (s *Session) StartTime() time.Time { return s.startTime }

func (s *Session) Task() string { return s.task }

// EndTime returns the closure time and whether the session is closed.
func (s *Session) EndTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime == nil {
		return time.Time{}, false
	}
	return *s.endTime, true
}

// EndReason is empty while the session is open.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// MaxInactivitySeconds is the inactivity counter at closure. It is non-zero
// only for sessions ended by the inactivity limit.
func (s *Session) MaxInactivitySeconds() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInactivitySeconds
}

// SessionRecord is the structured form of a Session used by persistence
// and transport layers.
type SessionRecord struct {
	ID                          string     `json:"id,omitempty"`
	StartTime                   time.Time  `json:"start_time"`
	EndTime                     *time.Time `json:"end_time"`
	Task                        string     `json:"task"`
	EndReason                   EndReason  `json:"end_reason,omitempty"`
	MaxInactivityReachedSeconds int64      `json:"max_inactivity_reached_seconds"`
	Closed                      bool       `json:"closed"`
	DurationSeconds             int64      `json:"duration_seconds"`
}

// Record returns a snapshot of every field.
func (s *Session) Record() SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := SessionRecord{
		ID:                          s.id,
		StartTime:                   s.startTime,
		Task:                        s.task,
		EndReason:                   s.endReason,
		MaxInactivityReachedSeconds: s.maxInactivitySeconds,
		Closed:                      s.closed,
	}
	if s.endTime != nil {
		end := *s.endTime
		rec.EndTime = &end
		rec.DurationSeconds = int64(end.Sub(s.startTime) / time.Second)
	}
	return rec
}

// SessionFromRecord rebuilds a Session. A record must be either fully open
// (no end time, no reason, not closed) or fully closed.
func SessionFromRecord(rec SessionRecord) (*Session, error) {
	if rec.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: missing start_time", ErrInvalidRecord)
	}

	s := NewSession(rec.StartTime, rec.Task)
	s.id = rec.ID

	if !rec.Closed {
		if rec.EndTime != nil || rec.EndReason != "" {
			return nil, fmt.Errorf("%w: open session with closure fields", ErrInvalidRecord)
		}
		if rec.MaxInactivityReachedSeconds != 0 {
			return nil, fmt.Errorf("%w: open session with inactivity seconds", ErrInvalidRecord)
		}
		return s, nil
	}

	if rec.EndTime == nil {
		return nil, fmt.Errorf("%w: closed session without end_time", ErrInvalidRecord)
	}
	if !rec.EndReason.Valid() {
		return nil, fmt.Errorf("%w: unknown end_reason %q", ErrInvalidRecord, rec.EndReason)
	}
	if rec.MaxInactivityReachedSeconds < 0 {
		return nil, fmt.Errorf("%w: negative inactivity seconds", ErrInvalidRecord)
	}
	s.Close(*rec.EndTime, rec.EndReason, rec.MaxInactivityReachedSeconds)
	return s, nil
}

func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	restored, err := SessionFromRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = restored.id
	s.startTime = restored.startTime
	s.endTime = restored.endTime
	s.task = restored.task
	s.endReason = restored.endReason
	s.maxInactivitySeconds = restored.maxInactivitySeconds
	s.closed = restored.closed
	return nil
}

// TotalDurationSeconds sums the durations of the closed sessions.
func TotalDurationSeconds(sessions []*Session) int64 {
	var total int64
	for _, s := range sessions {
		if s.Closed() {
			total += s.DurationSeconds()
		}
	}
	return total
}
