package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/output"
)

// document is a single-table report before it is laid out on pages.
type document struct {
	Title     string
	Generated string
	Columns   []column
	Rows      [][]string
	Footer    []string
	BodySize  float64
}

type column struct {
	Header string
	X      float64
	// MaxRunes truncates cell text; 0 means no limit.
	MaxRunes int
}

const (
	timeLayout      = "2006-01-02 15:04:05"
	shortTimeLayout = "06-01-02 15:04"
)

func buildInvoice(sessions []*models.Session, opts Options, generated time.Time) document {
	doc := document{
		Title:     "INVOICE - " + opts.UserName,
		Generated: "Generated on: " + generated.Format(timeLayout),
		Columns: []column{
			{Header: "Start Time", X: 50},
			{Header: "End Time", X: 200},
			{Header: "Duration (s)", X: 350},
			{Header: "Task", X: 450, MaxRunes: 20},
		},
		BodySize: 12,
	}

	for _, s := range sessions {
		end, _ := s.EndTime()
		doc.Rows = append(doc.Rows, []string{
			s.StartTime().Format(timeLayout),
			end.Format(timeLayout),
			strconv.FormatInt(s.DurationSeconds(), 10),
			s.Task(),
		})
	}

	total := models.TotalDurationSeconds(sessions)
	doc.Footer = []string{accumulatedLine(total)}
	if opts.HourlyRate > 0 {
		hours := float64(total) / 3600
		doc.Footer = append(doc.Footer,
			fmt.Sprintf("RATE: %.2f %s/hour", opts.HourlyRate, opts.Currency),
			fmt.Sprintf("AMOUNT DUE: %.2f %s", hours*opts.HourlyRate, opts.Currency),
		)
	}
	return doc
}

func buildAdminRecord(sessions []*models.Session, opts Options, generated time.Time) document {
	doc := document{
		Title:     "ADMINISTRATIVE RECORD - " + opts.UserName,
		Generated: "Generated on: " + generated.Format(timeLayout),
		Columns: []column{
			{Header: "Start", X: 50},
			{Header: "End", X: 150},
			{Header: "Dur(s)", X: 250},
			{Header: "Inact(s)", X: 300},
			{Header: "Reason", X: 350},
			{Header: "Task", X: 450, MaxRunes: 15},
		},
		BodySize: 9,
	}

	for _, s := range sessions {
		end, _ := s.EndTime()
		reason := string(s.EndReason())
		if reason == "" {
			reason = "N/A"
		}
		doc.Rows = append(doc.Rows, []string{
			s.StartTime().Format(shortTimeLayout),
			end.Format(shortTimeLayout),
			strconv.FormatInt(s.DurationSeconds(), 10),
			strconv.FormatInt(s.MaxInactivitySeconds(), 10),
			reason,
			s.Task(),
		})
	}

	doc.Footer = []string{accumulatedLine(models.TotalDurationSeconds(sessions))}
	return doc
}

func accumulatedLine(total int64) string {
	return fmt.Sprintf("ACCUMULATED SESSION TIME (AST): %d seconds (%s)", total, output.Duration(total))
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const (
	pageMargin = 50.0
	lineHeight = 15.0
)

// render lays doc out on Letter pages. A non-empty password protects the
// document with it as both user and owner password.
func render(doc document, password string) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("timetick", false)
	pdf.SetTitle(doc.Title, true)
	if password != "" {
		pdf.SetProtection(fpdf.CnProtectPrint, password, password)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	_, height := pdf.GetPageSize()

	drawHeader := func(y float64) float64 {
		pdf.SetFont("Helvetica", "B", doc.BodySize)
		for _, c := range doc.Columns {
			pdf.Text(c.X, y, tr(c.Header))
		}
		pdf.Line(pageMargin, y+5, 550, y+5)
		pdf.SetFont("Helvetica", "", doc.BodySize)
		return y + 20
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(pageMargin, pageMargin, tr(doc.Title))
	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(pageMargin, 80, tr(doc.Generated))

	y := drawHeader(120)
	for _, row := range doc.Rows {
		if y > height-pageMargin {
			pdf.AddPage()
			y = drawHeader(pageMargin)
		}
		for i, cell := range row {
			c := doc.Columns[i]
			pdf.Text(c.X, y, tr(truncate(cell, c.MaxRunes)))
		}
		y += lineHeight
	}

	if y+lineHeight*float64(len(doc.Footer)+1) > height-pageMargin {
		pdf.AddPage()
		y = pageMargin
	}
	pdf.Line(pageMargin, y-5, 550, y-5)
	pdf.SetFont("Helvetica", "B", 12)
	for _, line := range doc.Footer {
		y += lineHeight
		pdf.Text(pageMargin, y, tr(line))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
