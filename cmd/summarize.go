package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	summarizeFrom     string
	summarizeTo       string
	summarizeArchived bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Write a short work summary of completed sessions",
	Long: `Send completed sessions (date, duration, task) to the Anthropic API and
print a plain-text work summary. Requires anthropic.api_key or
ANTHROPIC_API_KEY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return summarizeRun(cmd.Context())
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeFrom, "from", "", "Only sessions started on or after this date (YYYY-MM-DD)")
	summarizeCmd.Flags().StringVar(&summarizeTo, "to", "", "Only sessions started before this date (YYYY-MM-DD)")
	summarizeCmd.Flags().BoolVar(&summarizeArchived, "archived", false, "Include archived sessions")
	rootCmd.AddCommand(summarizeCmd)
}

func summarizeRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	filter, err := dateFilter(summarizeFrom, summarizeTo, summarizeArchived)
	if err != nil {
		return err
	}
	sessions, err := s.ListSessions(ctx, filter)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions to summarize.")
		return nil
	}

	ui.VerboseLog("Summarizing %d sessions", len(sessions))
	summary, err := client.Summarize(ctx, viper.GetString("user_name"), sessions)
	if err != nil {
		return fmt.Errorf("summarize sessions: %w", err)
	}
	fmt.Fprintln(ui.Out, summary)
	return nil
}
