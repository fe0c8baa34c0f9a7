package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/timetick/internal/mcp"
	"github.com/joescharf/timetick/internal/tracker"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

The server runs its own tracker: the inactivity clock ticks while the
server is up and an active session is interrupted when it exits.
Configure a client with:

  {
    "mcpServers": {
      "timetick": { "command": "timetick", "args": ["mcp"] }
    }
  }

Available tools: timetick_status, timetick_start, timetick_stop,
timetick_input, timetick_list_sessions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	// stdout carries the protocol; logs go to stderr.
	logger := newLogger(os.Stderr)

	tr, err := newTracker(ctx, tracker.Options{Logger: logger})
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	stopTicks := startTickLoop(ctx, tr)

	serveErr := mcp.NewServer(tr, s, buildVersion).ServeStdio(ctx)

	if err := stopTicks(); err != nil {
		logger.Error("interrupt active session failed", "error", err)
	}
	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}
