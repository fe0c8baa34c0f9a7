package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/report"
	"github.com/joescharf/timetick/internal/store"
	"github.com/joescharf/timetick/internal/tracker"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestServer(t *testing.T) (*Server, store.Store, *testClock) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	clock := &testClock{now: t0}
	tr, err := tracker.New(context.Background(), s, tracker.Options{Clock: clock.Now})
	require.NoError(t, err)

	srv := NewServer(tr, s, report.Options{UserName: "Tester"})
	return srv, s, clock
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) tracker.Status {
	t.Helper()
	var st tracker.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestStatus_Idle(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv.Router(), "GET", "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, w.Code)

	st := decodeStatus(t, w)
	assert.Equal(t, "IDLE", st.State)
	assert.Equal(t, int64(300), st.InactivityLimit)
}

func TestSessionLifecycle_API(t *testing.T) {
	srv, s, clock := setupTestServer(t)
	router := srv.Router()

	// Start
	w := do(t, router, "POST", "/api/v1/session/start", `{"task":"write docs"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	assert.Equal(t, "ACTIVE", st.State)
	assert.Equal(t, "write docs", st.Task)

	// A second start is a no-op
	w = do(t, router, "POST", "/api/v1/session/start", `{"task":"other"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "write docs", decodeStatus(t, w).Task)

	// Stop
	clock.Advance(90 * time.Second)
	w = do(t, router, "POST", "/api/v1/session/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	st = decodeStatus(t, w)
	assert.Equal(t, "IDLE", st.State)
	assert.Equal(t, 1, st.CompletedCount)
	assert.Equal(t, int64(90), st.TotalSeconds)

	// Stop while idle is a no-op
	w = do(t, router, "POST", "/api/v1/session/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeStatus(t, w).CompletedCount)

	// List
	w = do(t, router, "GET", "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []models.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "write docs", list[0].Task)
	assert.Equal(t, models.EndReasonUserStopped, list[0].EndReason)
	assert.Equal(t, int64(90), list[0].DurationSeconds)

	// Get
	w = do(t, router, "GET", "/api/v1/sessions/"+list[0].ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var got models.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, list[0].ID, got.ID)

	stored, err := s.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestStart_EmptyBody(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv.Router(), "POST", "/api/v1/session/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	assert.Equal(t, "ACTIVE", st.State)
	assert.Empty(t, st.Task)
}

func TestStart_InvalidJSON(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv.Router(), "POST", "/api/v1/session/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInput_ResetsInactivity(t *testing.T) {
	srv, _, clock := setupTestServer(t)
	router := srv.Router()

	do(t, router, "POST", "/api/v1/session/start", `{"task":"focus"}`)
	clock.Advance(200 * time.Second)
	require.NoError(t, srv.tracker.Tick(context.Background()))
	assert.Equal(t, int64(200), srv.tracker.Status().InactivitySeconds)

	w := do(t, router, "POST", "/api/v1/input", "")
	assert.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	assert.Equal(t, "ACTIVE", st.State)
	assert.Equal(t, int64(0), st.InactivitySeconds)
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv.Router(), "GET", "/api/v1/sessions/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions_Filters(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	a := models.NewSession(t0, "a")
	a.Close(t0.Add(time.Minute), models.EndReasonUserStopped, 0)
	b := models.NewSession(t0.Add(24*time.Hour), "b")
	b.Close(t0.Add(24*time.Hour+5*time.Minute), models.EndReasonInactivityLimit, 300)
	require.NoError(t, s.CreateSession(ctx, a))
	require.NoError(t, s.CreateSession(ctx, b))

	w := do(t, router, "GET", "/api/v1/sessions?reason=INACTIVITY_LIMIT", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []models.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Task)

	w = do(t, router, "GET", "/api/v1/sessions?to=2026-03-02T12:00:00Z", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Task)

	w = do(t, router, "GET", "/api/v1/sessions?reason=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/sessions?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessions_Empty(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv.Router(), "GET", "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestExport_API(t *testing.T) {
	srv, s, clock := setupTestServer(t)
	router := srv.Router()

	do(t, router, "POST", "/api/v1/session/start", `{"task":"billable"}`)
	clock.Advance(30 * time.Minute)
	do(t, router, "POST", "/api/v1/session/stop", "")

	w := do(t, router, "POST", "/api/v1/export?archive=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "timetick-output-")
	assert.NotEmpty(t, w.Header().Get("X-Export-Id"))

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{report.InvoiceName, report.AdminRecordName}, names)

	// Archived sessions no longer show up by default
	remaining, err := s.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	w = do(t, router, "GET", "/api/v1/sessions?archived=true", "")
	var list []models.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	// History
	w = do(t, router, "GET", "/api/v1/exports", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var exports []models.Export
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exports))
	require.Len(t, exports, 1)
	assert.Equal(t, 1, exports[0].SessionCount)
	assert.Equal(t, int64(1800), exports[0].TotalSeconds)

	// Nothing left to export
	w = do(t, router, "POST", "/api/v1/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv.Router(), "OPTIONS", "/api/v1/status", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
