package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/output"
	"github.com/joescharf/timetick/internal/store"
)

var (
	sessionsFormat   string
	sessionsFrom     string
	sessionsTo       string
	sessionsReason   string
	sessionsArchived bool
	sessionsLimit    int
	sessionsAll      bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"s"},
	Short:   "List and manage completed sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed sessions",
	Long:  "List completed sessions as a table, JSON, CSV, or Markdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(args[0])
	},
}

var sessionsArchiveCmd = &cobra.Command{
	Use:   "archive [id...]",
	Short: "Hide sessions from listings and exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsArchiveRun(args)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsDeleteRun(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd} {
		c.Flags().StringVar(&sessionsFormat, "format", "table", "Output format: table, json, csv, markdown")
		c.Flags().StringVar(&sessionsFrom, "from", "", "Only sessions started on or after this date (YYYY-MM-DD)")
		c.Flags().StringVar(&sessionsTo, "to", "", "Only sessions started before this date (YYYY-MM-DD)")
		c.Flags().StringVar(&sessionsReason, "reason", "", "Filter by end reason: USER_STOPPED, INACTIVITY_LIMIT, APP_INTERRUPTION")
		c.Flags().BoolVar(&sessionsArchived, "archived", false, "Include archived sessions")
		c.Flags().IntVar(&sessionsLimit, "limit", 0, "Maximum number of sessions")
	}
	sessionsArchiveCmd.Flags().BoolVar(&sessionsAll, "all", false, "Archive every unarchived session")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsArchiveCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter, err := dateFilter(sessionsFrom, sessionsTo, sessionsArchived)
	if err != nil {
		return err
	}
	if sessionsReason != "" {
		reason := models.EndReason(strings.ToUpper(sessionsReason))
		if !reason.Valid() {
			return fmt.Errorf("unknown reason: %s (use: USER_STOPPED, INACTIVITY_LIMIT, APP_INTERRUPTION)", sessionsReason)
		}
		filter.Reason = reason
	}
	filter.Limit = sessionsLimit

	sessions, err := s.ListSessions(context.Background(), filter)
	if err != nil {
		return err
	}
	return writeSessions(sessions, sessionsFormat)
}

const listTimeLayout = "2006-01-02 15:04:05"

func writeSessions(sessions []*models.Session, format string) error {
	switch format {
	case "table":
		if len(sessions) == 0 {
			ui.Info("No sessions found.")
			return nil
		}
		table := ui.Table([]string{"ID", "Start", "End", "Duration", "Inactivity", "Reason", "Task"})
		for _, sess := range sessions {
			end, _ := sess.EndTime()
			table.Append([]string{
				sess.ID(),
				sess.StartTime().Local().Format(listTimeLayout),
				end.Local().Format(listTimeLayout),
				output.Duration(sess.DurationSeconds()),
				fmt.Sprintf("%ds", sess.MaxInactivitySeconds()),
				output.ReasonColor(string(sess.EndReason())),
				sess.Task(),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintln(ui.Out)
		ui.Info("%d sessions, %s total", len(sessions), output.Duration(models.TotalDurationSeconds(sessions)))
		return nil
	case "json":
		records := make([]models.SessionRecord, len(sessions))
		for i, sess := range sessions {
			records[i] = sess.Record()
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Start", "End", "DurationSeconds", "MaxInactivitySeconds", "Reason", "Task"})
		for _, sess := range sessions {
			end, _ := sess.EndTime()
			w.Write([]string{
				sess.ID(),
				sess.StartTime().Format("2006-01-02T15:04:05Z07:00"),
				end.Format("2006-01-02T15:04:05Z07:00"),
				fmt.Sprintf("%d", sess.DurationSeconds()),
				fmt.Sprintf("%d", sess.MaxInactivitySeconds()),
				string(sess.EndReason()),
				sess.Task(),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Sessions")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Start | Duration | Reason | Task |")
		fmt.Fprintln(ui.Out, "|-------|----------|--------|------|")
		for _, sess := range sessions {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s |\n",
				sess.StartTime().Local().Format(listTimeLayout),
				output.Duration(sess.DurationSeconds()),
				sess.EndReason(),
				strings.ReplaceAll(sess.Task(), "|", "\\|"))
		}
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "**Total:** %s\n", output.Duration(models.TotalDurationSeconds(sessions)))
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func sessionsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := s.GetSession(context.Background(), id)
	if err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("session not found: %s", id)
		}
		return err
	}

	end, _ := sess.EndTime()
	task := sess.Task()
	if task == "" {
		task = "-"
	}
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan("ID:"), sess.ID())
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan("Task:"), task)
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan("Start:"), sess.StartTime().Local().Format(listTimeLayout))
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan("End:"), end.Local().Format(listTimeLayout))
	fmt.Fprintf(ui.Out, "%s  %s (%ds)\n", output.Cyan("Duration:"), output.Duration(sess.DurationSeconds()), sess.DurationSeconds())
	fmt.Fprintf(ui.Out, "%s  %ds\n", output.Cyan("Max inactivity:"), sess.MaxInactivitySeconds())
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan("End reason:"), output.ReasonColor(string(sess.EndReason())))
	return nil
}

func sessionsArchiveRun(ids []string) error {
	if len(ids) == 0 && !sessionsAll {
		return fmt.Errorf("no session IDs given (use --all to archive every session)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if sessionsAll {
		sessions, err := s.ListSessions(ctx, store.SessionFilter{})
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, sess := range sessions {
			ids = append(ids, sess.ID())
		}
	}

	if dryRun {
		ui.DryRunMsg("Would archive %d sessions", len(ids))
		return nil
	}

	n, err := s.ArchiveSessions(ctx, ids)
	if err != nil {
		return err
	}
	ui.Success("Archived %d sessions", n)
	return nil
}

func sessionsDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete session %s", id)
		return nil
	}

	if err := s.DeleteSession(context.Background(), id); err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("session not found: %s", id)
		}
		return err
	}
	ui.Success("Deleted session %s", id)
	return nil
}
