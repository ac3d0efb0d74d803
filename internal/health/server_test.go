package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func doHealth(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body should be JSON: %v", err)
	}
	return body["status"]
}

func TestHealthReportsOK(t *testing.T) {
	s := NewServer(func() Status { return StatusOK }, zerolog.Nop())

	rec := doHealth(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeStatus(t, rec); got != "OK" {
		t.Fatalf("expected status OK, got %q", got)
	}
}

func TestHealthReportsDegraded(t *testing.T) {
	s := NewServer(func() Status { return StatusDegraded }, zerolog.Nop())

	rec := doHealth(t, s, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := decodeStatus(t, rec); got != "DEGRADED" {
		t.Fatalf("expected status DEGRADED, got %q", got)
	}
}

func TestHealthDefaultsToOKWithoutReporter(t *testing.T) {
	s := NewServer(nil, zerolog.Nop())

	rec := doHealth(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	s := NewServer(func() Status { return StatusOK }, zerolog.Nop())

	rec := doHealth(t, s, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
