package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kodexArg/telegram-voice-to-text/internal/config"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/pipeline"
	"github.com/kodexArg/telegram-voice-to-text/internal/transcription"
	"github.com/kodexArg/telegram-voice-to-text/internal/version"
)

// RunSource exposes pipeline runs.
type RunSource interface {
	Get(eventID string) (pipeline.Outcome, bool)
	Active() []pipeline.Outcome
	Recent() []pipeline.Outcome
	Stats() pipeline.TrackerStats
}

// ModelSource exposes the speech model state.
type ModelSource interface {
	GetStats() transcription.CacheStats
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	router   *mux.Router
	logger   *slog.Logger
	config   *config.Config
	runs     RunSource
	models   ModelSource
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	exposeText bool
	startTime  time.Time
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	runs RunSource, models ModelSource, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &HTTPServer{
		logger:     logger.With(slog.String("component", "http")),
		config:     appConfig,
		runs:       runs,
		models:     models,
		metrics:    m,
		gatherer:   gatherer,
		exposeText: cfg.ExposeTranscripts,
		startTime:  time.Now(),
	}

	h.router = mux.NewRouter()
	h.setupRoutes(h.router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

func (h *HTTPServer) setupRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)
	r.HandleFunc("/runs", h.withMetrics("/runs", h.handleRuns)).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", h.withMetrics("/runs/{id}", h.handleRunDetail)).Methods(http.MethodGet)
	r.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)

	// Scrapes are not counted as API requests.
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	runStats := h.runs.Stats()
	model := h.models.GetStats()

	modelStatus := "not_loaded"
	if model.Loaded {
		modelStatus = "loaded"
	}

	writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "voicebot",
			"version": version.Version,
		},
		"components": map[string]any{
			"pipeline": map[string]any{
				"status":      "running",
				"active_runs": runStats.Active,
			},
			"model": map[string]any{
				"status":        modelStatus,
				"engine":        model.Engine,
				"load_failures": model.LoadFailures,
			},
		},
	})
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"runs":      h.runs.Stats(),
		"model":     h.models.GetStats(),
	})
}

func (h *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	active := h.hideText(h.runs.Active())
	recent := h.hideText(h.runs.Recent())

	writeJSON(w, map[string]any{
		"timestamp":    time.Now().UTC(),
		"active_count": len(active),
		"active":       active,
		"recent":       recent,
	})
}

func (h *HTTPServer) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, ok := h.runs.Get(id)
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if !h.exposeText {
		run.Text = ""
	}
	writeJSON(w, run)
}

// hideText blanks transcripts unless the API is configured to show them.
func (h *HTTPServer) hideText(runs []pipeline.Outcome) []pipeline.Outcome {
	if h.exposeText {
		return runs
	}
	for i := range runs {
		runs[i].Text = ""
	}
	return runs
}

// handleConfig returns the configuration with secrets redacted.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	writeJSON(w, map[string]any{
		"telegram": map[string]any{
			"token":        redact(c.Telegram.Token),
			"api_endpoint": c.Telegram.APIEndpoint,
			"poll_timeout": c.Telegram.PollTimeout,
		},
		"download": map[string]any{
			"dir":             c.Download.Dir,
			"container_ext":   c.Download.ContainerExt,
			"max_attempts":    c.Download.MaxAttempts,
			"backoff":         c.Download.Backoff,
			"attempt_timeout": c.Download.AttemptTimeout,
			"max_file_size":   c.Download.MaxFileSize,
		},
		"audio": map[string]any{
			"sample_rate":  c.Audio.SampleRate,
			"clip_seconds": c.Audio.ClipSeconds,
		},
		"transcription": map[string]any{
			"engine":         c.Transcription.Engine,
			"language":       c.Transcription.Language,
			"model":          c.Transcription.Model,
			"serialize":      c.Transcription.Serialize,
			"endpoint":       c.Transcription.Endpoint,
			"api_key":        redact(c.Transcription.APIKey),
			"timeout":        c.Transcription.Timeout,
			"max_retries":    c.Transcription.MaxRetries,
			"max_concurrent": c.Transcription.MaxConcurrent,
		},
		"vad": map[string]any{
			"enabled":             c.VAD.Enabled,
			"threshold":           c.VAD.Threshold,
			"window_size":         c.VAD.WindowSize,
			"min_speech_duration": c.VAD.MinSpeechDuration,
		},
		"pipeline": map[string]any{
			"max_concurrent":          c.Pipeline.MaxConcurrent,
			"delete_after_processing": c.Pipeline.DeleteAfterProcessing,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[redacted]"
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"service": "Telegram voice transcription bot",
		"version": version.Version,
		"endpoints": map[string]string{
			"GET /":          "API documentation",
			"GET /health":    "Service health check",
			"GET /stats":     "Run and model statistics",
			"GET /runs":      "Active and recent pipeline runs",
			"GET /runs/{id}": "Single run by event id",
			"GET /config":    "Service configuration (secrets redacted)",
			"GET /metrics":   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
