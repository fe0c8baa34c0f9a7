package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/output"
	"github.com/joescharf/timetick/internal/report"
	"github.com/joescharf/timetick/internal/tracker"
	"github.com/joescharf/timetick/internal/tui"
)

var (
	runTask          string
	runExportArchive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track work interactively in the terminal",
	Long: `Open the interactive tracker. Any key press or mouse event in the
window counts as activity; after 300 seconds without input the active
session stops on its own. Quitting interrupts the active session.

Keys: s start, x stop, e export, q quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun()
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTask, "task", "t", "", "Start a session with this task immediately")
	runCmd.Flags().BoolVar(&runExportArchive, "archive", false, "Archive sessions after an export from the tracker")
	rootCmd.AddCommand(runCmd)
}

func runLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "timetick-run.log")
}

func runRun() error {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	// The TUI owns the terminal, so logs go to a file.
	logPath := runLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := newLogger(logFile)

	closed := make(chan *models.Session, 8)
	tr, err := newTracker(ctx, tracker.Options{Logger: logger, OnClose: tui.NotifyClosed(closed)})
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	if runTask != "" {
		if err := tr.Start(ctx, runTask); err != nil {
			return err
		}
	}

	exportFn := func(ctx context.Context) (string, error) {
		path := defaultExportPath()
		_, err := writeExport(ctx, s, path, report.ExportRequest{Archive: runExportArchive, Path: path})
		return path, err
	}

	runErr := tui.Run(ctx, tr, tui.Options{TickInterval: tickInterval(), Export: exportFn, Closed: closed})

	// Quitting from the TUI already interrupted; this covers signals and
	// program errors. A no-op when idle.
	if err := tr.Interrupt(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("interrupt active session: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}

	st := tr.Status()
	ui.Info("%d sessions, %s total", st.CompletedCount, output.Duration(st.TotalSeconds))
	return nil
}
