package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/store"
	"github.com/joescharf/timetick/internal/tracker"
)

// Server exposes the running tracker and the session history as MCP tools.
type Server struct {
	tracker *tracker.Tracker
	store   store.Store
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(t *tracker.Tracker, s store.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{tracker: t, store: s, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("timetick", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.statusTool())
	srv.AddTool(s.startTool())
	srv.AddTool(s.stopTool())
	srv.AddTool(s.inputTool())
	srv.AddTool(s.listSessionsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport, to be mounted at /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.MCPServer())
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// timetick_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("timetick_status",
		mcp.WithDescription("Get the tracker state: IDLE or ACTIVE, the active task, elapsed seconds, inactivity seconds and seconds remaining before the session auto-stops."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.tracker.Status())
}

// timetick_start
func (s *Server) startTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("timetick_start",
		mcp.WithDescription("Start a work session. Does nothing if a session is already active."),
		mcp.WithString("task", mcp.Description("Free-form task description")),
	)
	return tool, s.handleStart
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := request.GetString("task", "")
	if err := s.tracker.Start(ctx, task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start session: %v", err)), nil
	}
	return jsonResult(s.tracker.Status())
}

// timetick_stop
func (s *Server) stopTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("timetick_stop",
		mcp.WithDescription("Stop the active session with reason USER_STOPPED. Does nothing while idle."),
	)
	return tool, s.handleStop
}

func (s *Server) handleStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.tracker.Stop(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to stop session: %v", err)), nil
	}
	return jsonResult(s.tracker.Status())
}

// timetick_input
func (s *Server) inputTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("timetick_input",
		mcp.WithDescription("Report user activity. Resets the inactivity counter of the active session."),
	)
	return tool, s.handleInput
}

func (s *Server) handleInput(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.tracker.Input()
	return jsonResult(s.tracker.Status())
}

// timetick_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("timetick_list_sessions",
		mcp.WithDescription("List completed sessions with start and end time, duration, end reason and task."),
		mcp.WithString("since", mcp.Description("Only sessions started on or after this date (YYYY-MM-DD)")),
		mcp.WithString("reason", mcp.Description("Filter by end reason"),
			mcp.Enum(string(models.EndReasonUserStopped), string(models.EndReasonInactivityLimit), string(models.EndReasonAppInterruption))),
		mcp.WithBoolean("archived", mcp.Description("Include archived sessions")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionFilter{
		IncludeArchived: request.GetBool("archived", false),
		Limit:           request.GetInt("limit", 0),
	}

	if since := request.GetString("since", ""); since != "" {
		t, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since date: %s", since)), nil
		}
		filter.From = &t
	}
	if reason := request.GetString("reason", ""); reason != "" {
		r := models.EndReason(reason)
		if !r.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid reason: %s", reason)), nil
		}
		filter.Reason = r
	}

	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	out := make([]models.SessionRecord, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.Record()
	}
	return jsonResult(out)
}
