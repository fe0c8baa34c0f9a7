// Package report renders completed sessions into the export archive: an
// unrestricted invoice and a password-protected administrative record.
package report

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joescharf/timetick/internal/models"
)

const (
	InvoiceName     = "invoice.pdf"
	AdminRecordName = "administrative_record.pdf"

	DefaultUserName      = "Employee"
	DefaultAdminPassword = "adminv1"
	DefaultCurrency      = "USD"
)

// ErrNoSessions is returned when there is no closed session to render.
var ErrNoSessions = errors.New("no completed sessions")

// Options controls the document content.
type Options struct {
	UserName      string
	HourlyRate    float64
	Currency      string
	AdminPassword string
	// GeneratedAt stamps the documents and archive entries; zero means now.
	GeneratedAt time.Time
}

// Generator renders report documents and packages.
type Generator struct {
	opts Options
}

// NewGenerator applies defaults to opts.
func NewGenerator(opts Options) *Generator {
	if opts.UserName == "" {
		opts.UserName = DefaultUserName
	}
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if opts.AdminPassword == "" {
		opts.AdminPassword = DefaultAdminPassword
	}
	return &Generator{opts: opts}
}

func (g *Generator) generatedAt() time.Time {
	if g.opts.GeneratedAt.IsZero() {
		return time.Now()
	}
	return g.opts.GeneratedAt
}

// closedOnly drops sessions that are still open.
func closedOnly(sessions []*models.Session) []*models.Session {
	var out []*models.Session
	for _, s := range sessions {
		if s != nil && s.Closed() {
			out = append(out, s)
		}
	}
	return out
}

// Invoice renders the unrestricted summary PDF.
func (g *Generator) Invoice(sessions []*models.Session) ([]byte, error) {
	closed := closedOnly(sessions)
	if len(closed) == 0 {
		return nil, ErrNoSessions
	}
	return render(buildInvoice(closed, g.opts, g.generatedAt()), "")
}

// AdministrativeRecord renders the detailed, password-protected PDF.
func (g *Generator) AdministrativeRecord(sessions []*models.Session) ([]byte, error) {
	closed := closedOnly(sessions)
	if len(closed) == 0 {
		return nil, ErrNoSessions
	}
	return render(buildAdminRecord(closed, g.opts, g.generatedAt()), g.opts.AdminPassword)
}

// WritePackage writes a ZIP archive holding both documents to w.
func (g *Generator) WritePackage(w io.Writer, sessions []*models.Session) error {
	invoice, err := g.Invoice(sessions)
	if err != nil {
		return fmt.Errorf("render invoice: %w", err)
	}
	admin, err := g.AdministrativeRecord(sessions)
	if err != nil {
		return fmt.Errorf("render administrative record: %w", err)
	}

	modified := g.generatedAt()
	zw := zip.NewWriter(w)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{InvoiceName, invoice},
		{AdminRecordName, admin},
	} {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entry.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", entry.name, err)
		}
		if _, err := fw.Write(entry.data); err != nil {
			return fmt.Errorf("write %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// WritePackageFile writes the archive to path, creating parent directories.
// A partially written file is removed on error.
func (g *Generator) WritePackageFile(path string, sessions []*models.Session) error {
	var buf bytes.Buffer
	if err := g.WritePackage(&buf, sessions); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// DefaultFilename names an archive generated at t.
func DefaultFilename(t time.Time) string {
	return fmt.Sprintf("timetick-output-%s.zip", t.Format("20060102-150405"))
}
