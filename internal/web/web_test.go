package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	h, err := Handler()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Index(t *testing.T) {
	rec := serve(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>timetick</title>")
}

func TestHandler_Asset(t *testing.T) {
	rec := serve(t, "/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1")
}

func TestHandler_ClientRouteFallsBackToIndex(t *testing.T) {
	rec := serve(t, "/history")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>timetick</title>")
}

func TestHandler_MissingAsset(t *testing.T) {
	rec := serve(t, "/missing.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_APIPathNotServed(t *testing.T) {
	rec := serve(t, "/api/v1/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
