package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/timetick/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SessionFilter specifies filters for listing completed sessions.
type SessionFilter struct {
	From            *time.Time // start_time >= From
	To              *time.Time // start_time < To
	Reason          models.EndReason
	IncludeArchived bool
	Limit           int
}

// Store defines the persistence interface for timetick.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, error)
	ArchiveSessions(ctx context.Context, ids []string) (int64, error)
	DeleteSession(ctx context.Context, id string) error

	// Exports
	CreateExport(ctx context.Context, e *models.Export) error
	ListExports(ctx context.Context, limit int) ([]*models.Export, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
