package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeMap(t, rr)["ok"])
}

func TestReadyEndpoint_Success(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, "/api/ready", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	response := decodeMap(t, rr)
	assert.Equal(t, true, response["ok"])
	assert.Equal(t, "ready", response["status"])

	checks, ok := response["checks"].(map[string]any)
	require.True(t, ok, "expected checks object, got %v", response["checks"])
	dbCheck, ok := checks["database"].(map[string]any)
	require.True(t, ok, "expected database check, got %v", checks["database"])
	assert.Equal(t, "ok", dbCheck["status"])
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	h := newHarness(t)
	h.store.set(func(s *testStore) { s.pingErr = errors.New("connection refused") })

	rr := h.do(t, http.MethodGet, "/api/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	response := decodeMap(t, rr)
	assert.Equal(t, false, response["ok"])
	assert.Equal(t, "not_ready", response["status"])

	dbCheck := response["checks"].(map[string]any)["database"].(map[string]any)
	assert.Equal(t, "error", dbCheck["status"])
	assert.Contains(t, dbCheck["error"], "connection refused")
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodOptions, "/api/health", nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://board.example.com")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/goals", nil)
	req.Header.Set("Origin", "https://board.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
}

func TestPingMethod(t *testing.T) {
	tests := []struct {
		name      string
		pingError error
		wantError bool
	}{
		{name: "healthy database"},
		{name: "unhealthy database", pingError: errors.New("connection failed"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.set(func(s *testStore) { s.pingErr = tt.pingError })

			err := h.service.Ping(context.Background())
			assert.Equal(t, tt.wantError, err != nil, "Ping() error = %v", err)
		})
	}
}
