package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"webrtc-signal-relay/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{ListenAddr: "127.0.0.1:0"}
	return New(cfg, log, BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})
}

func (s *Server) testHandler() http.Handler {
	return chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestReadyzBeforeServe(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before Serve", rec.Code)
	}

	s.ready.Store(true)
	rec = httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d after ready", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var build BuildInfo
	if err := json.NewDecoder(rec.Body).Decode(&build); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if build.Commit != "abc123" {
		t.Fatalf("commit = %q", build.Commit)
	}
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("no request id assigned")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id = %q, want echo of caller's", got)
	}
}

func TestRecoverMiddlewareContainsPanic(t *testing.T) {
	s := newTestServer(t)
	s.Mux().HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	s.testHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
