package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/output"
	"github.com/joescharf/timetick/internal/report"
	"github.com/joescharf/timetick/internal/store"
	"github.com/joescharf/timetick/internal/tracker"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "timetick",
	Short: "Work session tracker with automatic inactivity stop",
	Long: `timetick tracks work sessions. A session runs from start until you
stop it, until 300 seconds pass without any input, or until the program
is interrupted. Completed sessions are kept in a local database and can be
exported as an invoice plus a password-protected administrative record.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/timetick/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "timetick")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TIMETICK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "timetick"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "timetick.db"))
	viper.SetDefault("user_name", report.DefaultUserName)
	viper.SetDefault("tick_interval", time.Second)
	viper.SetDefault("port", 8425)
	viper.SetDefault("report.hourly_rate", 0.0)
	viper.SetDefault("report.currency", report.DefaultCurrency)
	viper.SetDefault("report.admin_password", report.DefaultAdminPassword)
	viper.SetDefault("report.output_dir", ".")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// rootRun handles `timetick` with no subcommand: show server and session summary.
func rootRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return cmd.Help()
	}

	if err := serveStatusRun(); err != nil {
		return err
	}

	sessions, err := s.ListSessions(context.Background(), store.SessionFilter{})
	if err != nil {
		return err
	}
	ui.Info("%d unexported sessions, %s total", len(sessions), output.Duration(models.TotalDurationSeconds(sessions)))
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "Run 'timetick run' to start tracking, or 'timetick --help' for all commands.")
	return nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newLogger returns a text slog logger; --verbose enables debug records.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newTracker builds a tracker over the shared store.
func newTracker(ctx context.Context, opts tracker.Options) (*tracker.Tracker, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return tracker.New(ctx, s, opts)
}

// startTickLoop runs the tick loop until the returned stop function is
// called. Cancelling ctx does not end the loop, so a server can drain its
// in-flight requests first; stop then interrupts the active session and
// waits for it to be saved.
func startTickLoop(ctx context.Context, tr *tracker.Tracker) (stop func() error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- tr.Run(runCtx, tickInterval()) }()
	return func() error {
		cancel()
		return <-done
	}
}

// tickInterval reads tick_interval, falling back to one second.
func tickInterval() time.Duration {
	d := viper.GetDuration("tick_interval")
	if d <= 0 {
		return time.Second
	}
	return d
}

// reportOptions builds report options from config.
func reportOptions() report.Options {
	return report.Options{
		UserName:      viper.GetString("user_name"),
		HourlyRate:    viper.GetFloat64("report.hourly_rate"),
		Currency:      viper.GetString("report.currency"),
		AdminPassword: viper.GetString("report.admin_password"),
	}
}
