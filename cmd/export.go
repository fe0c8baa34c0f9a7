package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/output"
	"github.com/joescharf/timetick/internal/report"
	"github.com/joescharf/timetick/internal/store"
)

var (
	exportOut     string
	exportArchive bool
	exportAll     bool
	exportFrom    string
	exportTo      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the invoice and administrative record archive",
	Long: `Export completed sessions as a ZIP archive holding invoice.pdf and a
password-protected administrative_record.pdf.

By default only sessions that were not archived by an earlier export are
included. Use --archive to hide the exported sessions from the next export.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

var exportListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show export history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportListRun()
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default <report.output_dir>/timetick-output-<timestamp>.zip)")
	exportCmd.Flags().BoolVar(&exportArchive, "archive", false, "Archive exported sessions")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Include previously archived sessions")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Only sessions started on or after this date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Only sessions started before this date (YYYY-MM-DD)")
	exportCmd.AddCommand(exportListCmd)
	rootCmd.AddCommand(exportCmd)
}

func defaultExportPath() string {
	return filepath.Join(viper.GetString("report.output_dir"), report.DefaultFilename(time.Now()))
}

// dateFilter builds a session filter from optional YYYY-MM-DD bounds.
func dateFilter(from, to string, includeArchived bool) (store.SessionFilter, error) {
	f := store.SessionFilter{IncludeArchived: includeArchived}
	if from != "" {
		t, err := time.ParseInLocation("2006-01-02", from, time.Local)
		if err != nil {
			return f, fmt.Errorf("invalid --from date: %w", err)
		}
		f.From = &t
	}
	if to != "" {
		t, err := time.ParseInLocation("2006-01-02", to, time.Local)
		if err != nil {
			return f, fmt.Errorf("invalid --to date: %w", err)
		}
		f.To = &t
	}
	return f, nil
}

// writeExport renders the archive to path. Nothing is written unless the
// package rendered, so an existing file is kept when there is nothing to
// export. An archiving failure after a successful write keeps the file.
func writeExport(ctx context.Context, s store.Store, path string, req report.ExportRequest) (*models.Export, error) {
	opts := reportOptions()
	opts.GeneratedAt = time.Now()
	req.Path = path
	return report.NewGenerator(opts).ExportFile(ctx, s, req)
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter, err := dateFilter(exportFrom, exportTo, exportAll)
	if err != nil {
		return err
	}

	path := exportOut
	if path == "" {
		path = defaultExportPath()
	}

	if dryRun {
		sessions, err := s.ListSessions(ctx, filter)
		if err != nil {
			return err
		}
		ui.DryRunMsg("Would export %d sessions (%s) to %s", len(sessions), output.Duration(models.TotalDurationSeconds(sessions)), path)
		if exportArchive {
			ui.DryRunMsg("Would archive %d sessions", len(sessions))
		}
		return nil
	}

	e, err := writeExport(ctx, s, path, report.ExportRequest{Filter: filter, Archive: exportArchive, Path: path})
	if errors.Is(err, report.ErrNoSessions) {
		ui.Info("No sessions to export.")
		return nil
	}
	if e == nil {
		return err
	}
	if err != nil {
		ui.Warning("Archive written but sessions were not archived: %v", err)
	}

	ui.Success("Exported %d sessions (%s) to %s", e.SessionCount, output.Duration(e.TotalSeconds), path)
	ui.VerboseLog("Administrative record password is set by report.admin_password")
	if exportArchive && err == nil {
		ui.Info("Archived %d sessions", e.SessionCount)
	}
	return nil
}

func exportListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	exports, err := s.ListExports(context.Background(), 0)
	if err != nil {
		return err
	}
	if len(exports) == 0 {
		ui.Info("No exports yet. Use 'timetick export' to create one.")
		return nil
	}

	table := ui.Table([]string{"Created", "Sessions", "Total", "Path"})
	for _, e := range exports {
		table.Append([]string{
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", e.SessionCount),
			output.Duration(e.TotalSeconds),
			e.Path,
		})
	}
	return table.Render()
}
