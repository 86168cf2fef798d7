package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kodexArg/telegram-voice-to-text/internal/config"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/pipeline"
	"github.com/kodexArg/telegram-voice-to-text/internal/transcription"
)

type fakeRuns struct {
	runs map[string]pipeline.Outcome
}

func (f *fakeRuns) Get(id string) (pipeline.Outcome, bool) {
	run, ok := f.runs[id]
	return run, ok
}

func (f *fakeRuns) Active() []pipeline.Outcome { return nil }

func (f *fakeRuns) Recent() []pipeline.Outcome {
	out := make([]pipeline.Outcome, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out
}

func (f *fakeRuns) Stats() pipeline.TrackerStats {
	return pipeline.TrackerStats{Total: uint64(len(f.runs)), Done: uint64(len(f.runs))}
}

type fakeModels struct{}

func (fakeModels) GetStats() transcription.CacheStats {
	return transcription.CacheStats{Loaded: true, Engine: "onnx:base", Loads: 1}
}

func newTestServer(t *testing.T) (*HTTPServer, *prometheus.Registry) {
	t.Helper()
	return newTestServerWith(t, func(*config.Config) {})
}

func newTestServerWith(t *testing.T, configure func(*config.Config)) (*HTTPServer, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	cfg := config.Default()
	cfg.Telegram.Token = "123456:secret-token"
	cfg.Transcription.APIKey = "sk-hidden"
	configure(cfg)

	runs := &fakeRuns{runs: map[string]pipeline.Outcome{
		"ev-1": {EventID: "ev-1", State: pipeline.StateDone, Text: "hola", Delivered: true, Started: time.Now()},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg.HTTP, logger, cfg, runs, fakeModels{}, m, reg), reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/", http.StatusOK, "/runs/{id}"},
		{"/health", http.StatusOK, `"healthy"`},
		{"/stats", http.StatusOK, `"onnx:base"`},
		{"/runs", http.StatusOK, `"ev-1"`},
		{"/runs/ev-1", http.StatusOK, `"state":"done"`},
		{"/runs/missing", http.StatusNotFound, "Run not found"},
		{"/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, s.Handler(), tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestConfigRedactsSecrets(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "secret-token") || strings.Contains(body, "sk-hidden") {
		t.Fatalf("Expected secrets to be redacted, got %s", body)
	}

	var cfg map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Expected JSON, got %v", err)
	}
	if cfg["telegram"]["token"] != "[redacted]" {
		t.Errorf("Expected redacted token, got %v", cfg["telegram"]["token"])
	}
	if cfg["transcription"]["language"] != "es" {
		t.Errorf("Expected language es, got %v", cfg["transcription"]["language"])
	}
}

func TestRunsHideTranscriptsByDefault(t *testing.T) {
	tests := []struct {
		name     string
		expose   bool
		wantText bool
	}{
		{"hidden", false, false},
		{"exposed", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServerWith(t, func(c *config.Config) {
				c.HTTP.ExposeTranscripts = tt.expose
			})
			for _, path := range []string{"/runs", "/runs/ev-1"} {
				body := get(t, s.Handler(), path).Body.String()
				if got := strings.Contains(body, `"hola"`); got != tt.wantText {
					t.Errorf("%s: expected transcript shown=%v, got body %s", path, tt.wantText, body)
				}
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	s, _ := newTestServer(t)

	get(t, s.Handler(), "/health")
	get(t, s.Handler(), "/runs/missing")

	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `endpoint="/health"`) {
		t.Errorf("Expected /health request metric, got:\n%s", body)
	}
	if !strings.Contains(body, `error_type="client_error"`) {
		t.Errorf("Expected client error metric, got:\n%s", body)
	}
}
