package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/timetick/internal/api"
	"github.com/joescharf/timetick/internal/daemon"
	"github.com/joescharf/timetick/internal/mcp"
	"github.com/joescharf/timetick/internal/output"
	"github.com/joescharf/timetick/internal/tracker"
	"github.com/joescharf/timetick/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the headless tracker with HTTP API, MCP endpoint, and dashboard",
	Long: `Run the tracker without a terminal UI. The REST API is served under
/api/v1, MCP (streamable HTTP) under /mcp, and a status dashboard at /.
Input events arrive through POST /api/v1/input, the timetick_input tool,
or activity on the dashboard page.

Runs in the foreground by default. Use 'serve start' to run in the
background and 'serve stop' to stop it; the active session is
interrupted and saved either way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8425, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "timetick-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "timetick-serve.log")
}

// newServeMux mounts the REST API, the MCP endpoint, and the dashboard.
func newServeMux(tr *tracker.Tracker) (http.Handler, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	dashboard, err := web.Handler()
	if err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewServer(tr, s, reportOptions()).Router())
	mux.Handle("/mcp", mcp.NewServer(tr, s, buildVersion).HTTPHandler())
	mux.Handle("/", dashboard)
	return mux, nil
}

func serveRun() error {
	port := viper.GetInt("port")
	pf := pidFile()
	if err := pf.Acquire(port); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	logger := newLogger(os.Stderr)
	tr, err := newTracker(ctx, tracker.Options{Logger: logger})
	if err != nil {
		return err
	}
	handler, err := newServeMux(tr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	stopTicks := startTickLoop(ctx, tr)

	logger.Info("server started", "port", port, "api", "/api/v1", "mcp", "/mcp")
	ui.Info("Serving at http://localhost:%d (API /api/v1, MCP /mcp)", port)

	var serveErr error
	select {
	case serveErr = <-listenErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Shutdown has drained every request, so nothing can start a session
	// after this interrupt.
	if err := stopTicks(); err != nil {
		logger.Error("interrupt active session failed", "error", err)
	}
	logger.Info("server stopped")

	if serveErr != nil {
		return fmt.Errorf("listen on port %d: %w", port, serveErr)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if info, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d)", info.PID)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	port := viper.GetInt("port")

	if dryRun {
		ui.DryRunMsg("Would start %s serve --port %d", exe, port)
		return nil
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve", "--port", strconv.Itoa(port)}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (PID %d) on port %d", child.Process.Pid, port)
	ui.Info("Logs: %s", logPath)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	info, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (PID %d)", info.PID)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			_ = pf.Remove()
			ui.Success("Server stopped (PID %d)", info.PID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	ui.Warning("Server did not exit in time, killing PID %d", info.PID)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	info, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server not running")
		return nil
	}

	ui.Success("Server running (PID %d) on port %d", info.PID, info.Port)
	if info.Port == 0 {
		return nil
	}

	st, err := fetchStatus(info.Port)
	if err != nil {
		ui.VerboseLog("status request failed: %v", err)
		return nil
	}
	line := fmt.Sprintf("State: %s", output.StateColor(st.State))
	if st.Task != "" {
		line += fmt.Sprintf("  Task: %s", st.Task)
	}
	if st.StartedAt != nil {
		line += fmt.Sprintf("  Elapsed: %s", output.Duration(st.ElapsedSeconds))
	}
	ui.Info("%s", line)
	return nil
}

// fetchStatus asks a running server for the tracker status.
func fetchStatus(port int) (*tracker.Status, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/v1/status", port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var st tracker.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
