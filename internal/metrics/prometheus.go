package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice bot.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Inbound events
	EventsReceived *prometheus.CounterVec

	// Pipeline runs
	RunsTotal    *prometheus.CounterVec
	RunsInFlight prometheus.Gauge
	RunDuration  prometheus.Histogram

	// Download metrics
	DownloadAttempts prometheus.Counter
	DownloadRetries  prometheus.Counter
	DownloadDuration prometheus.Histogram
	DownloadedBytes  prometheus.Counter
	DownloadFailures *prometheus.CounterVec

	// Audio metrics
	AudioDuration  prometheus.Histogram
	AudioLoadFails prometheus.Counter

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	TranscriptionSkipped  prometheus.Counter
	TranscriptionRetries  prometheus.Counter
	ModelLoads            *prometheus.CounterVec
	ModelLoadDuration     prometheus.Histogram

	// Delivery metrics
	MessagesSent     prometheus.Counter
	DeliveryFailures prometheus.Counter

	// Housekeeping
	FilesRemoved prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer gives the global behaviour.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_events_received_total",
			Help: "Total number of inbound chat events by message kind",
		}, []string{"kind"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_pipeline_runs_total",
			Help: "Total number of finished pipeline runs by outcome",
		}, []string{"outcome"}),
		RunsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebot_pipeline_runs_in_flight",
			Help: "Current number of pipeline runs being processed",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_pipeline_run_duration_seconds",
			Help:    "End to end duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}),

		DownloadAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_download_attempts_total",
			Help: "Total number of media download attempts",
		}),
		DownloadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_download_retries_total",
			Help: "Total number of download attempts that ended in a transient fault",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_download_duration_seconds",
			Help:    "Duration of successful downloads including backoff",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		DownloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_downloaded_bytes_total",
			Help: "Total number of media bytes written to disk",
		}),
		DownloadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_download_failures_total",
			Help: "Total number of failed download tasks by reason",
		}, []string{"reason"}),

		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_audio_duration_seconds",
			Help:    "Decoded duration of received audio before pad or trim",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		AudioLoadFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_audio_load_failures_total",
			Help: "Total number of audio files that could not be decoded",
		}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_transcription_requests_total",
			Help: "Total number of transcription engine invocations",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_transcription_skipped_total",
			Help: "Total number of clips the speech gate found silent",
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_transcription_retries_total",
			Help: "Total number of remote transcription request retries",
		}),
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_model_loads_total",
			Help: "Total number of speech model load attempts by result",
		}, []string{"result"}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_model_load_duration_seconds",
			Help:    "Time spent loading the speech model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_messages_sent_total",
			Help: "Total number of transcript messages delivered",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_delivery_failures_total",
			Help: "Total number of transcript deliveries rejected by the transport",
		}),

		FilesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_files_removed_total",
			Help: "Total number of local audio files removed",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicebot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordEvent counts an inbound chat event
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind).Inc()
}

// RunStarted increments the in-flight gauge
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

// RunFinished records a finished run with its outcome label
func (m *Metrics) RunFinished(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordDownloadAttempt increments the download attempts counter
func (m *Metrics) RecordDownloadAttempt() {
	if m == nil {
		return
	}
	m.DownloadAttempts.Inc()
}

// RecordDownloadRetry increments the transient fault counter
func (m *Metrics) RecordDownloadRetry() {
	if m == nil {
		return
	}
	m.DownloadRetries.Inc()
}

// RecordDownloadSuccess records a completed download
func (m *Metrics) RecordDownloadSuccess(durationSeconds float64, bytes int64) {
	if m == nil {
		return
	}
	m.DownloadDuration.Observe(durationSeconds)
	m.DownloadedBytes.Add(float64(bytes))
}

// RecordDownloadFailure records a failed download task
func (m *Metrics) RecordDownloadFailure(reason string) {
	if m == nil {
		return
	}
	m.DownloadFailures.WithLabelValues(reason).Inc()
}

// RecordAudioLoaded records the decoded duration of a clip
func (m *Metrics) RecordAudioLoaded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.AudioDuration.Observe(durationSeconds)
}

// RecordAudioLoadFailure increments the decode failure counter
func (m *Metrics) RecordAudioLoadFailure() {
	if m == nil {
		return
	}
	m.AudioLoadFails.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionSkipped counts a clip rejected by the speech gate
func (m *Metrics) RecordTranscriptionSkipped() {
	if m == nil {
		return
	}
	m.TranscriptionSkipped.Inc()
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ModelLoads.WithLabelValues(result).Inc()
	m.ModelLoadDuration.Observe(durationSeconds)
}

// RecordMessageSent increments the delivered messages counter
func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

// RecordDeliveryFailure increments the delivery failure counter
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordFilesRemoved adds to the removed files counter
func (m *Metrics) RecordFilesRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesRemoved.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
