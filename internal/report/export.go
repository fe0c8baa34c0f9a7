package report

import (
	"context"
	"fmt"
	"io"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/store"
)

// ExportStore is the subset of store.Store an export needs.
type ExportStore interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*models.Session, error)
	ArchiveSessions(ctx context.Context, ids []string) (int64, error)
	CreateExport(ctx context.Context, e *models.Export) error
}

// ExportRequest selects the sessions to export and what to do afterwards.
type ExportRequest struct {
	Filter store.SessionFilter
	// Archive marks the exported sessions archived once the archive is written.
	Archive bool
	// Path is recorded in the export history. ExportFile also writes there.
	Path string
}

// Export writes the package for the selected sessions to w and records the
// export. Sessions are archived only after the package was written.
func (g *Generator) Export(ctx context.Context, s ExportStore, w io.Writer, req ExportRequest) (*models.Export, error) {
	return g.export(ctx, s, req, func(sessions []*models.Session) error {
		return g.WritePackage(w, sessions)
	})
}

// ExportFile is Export into the file at req.Path. The file is only touched
// once the package has rendered, so an existing file survives ErrNoSessions.
func (g *Generator) ExportFile(ctx context.Context, s ExportStore, req ExportRequest) (*models.Export, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("export file: no path")
	}
	return g.export(ctx, s, req, func(sessions []*models.Session) error {
		return g.WritePackageFile(req.Path, sessions)
	})
}

func (g *Generator) export(ctx context.Context, s ExportStore, req ExportRequest, write func([]*models.Session) error) (*models.Export, error) {
	sessions, err := s.ListSessions(ctx, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	closed := closedOnly(sessions)
	if len(closed) == 0 {
		return nil, ErrNoSessions
	}

	if err := write(closed); err != nil {
		return nil, err
	}

	e := &models.Export{
		Path:         req.Path,
		SessionCount: len(closed),
		TotalSeconds: models.TotalDurationSeconds(closed),
	}
	if err := s.CreateExport(ctx, e); err != nil {
		return nil, fmt.Errorf("record export: %w", err)
	}

	if req.Archive {
		ids := make([]string, 0, len(closed))
		for _, sess := range closed {
			if sess.ID() != "" {
				ids = append(ids, sess.ID())
			}
		}
		if _, err := s.ArchiveSessions(ctx, ids); err != nil {
			return e, fmt.Errorf("archive sessions: %w", err)
		}
	}
	return e, nil
}
