package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
)

// SpeechGate decides whether a clip is worth sending to the engine.
type SpeechGate interface {
	HasSpeech(samples []float32) bool
}

// AdapterConfig holds the fixed decoding parameters.
type AdapterConfig struct {
	Language string
	FP16     bool

	// Serialize lets only one engine call run at a time.
	Serialize bool
}

// Adapter is the single entry point of the pipeline into the speech engine.
// It applies the fixed language and precision, serializes engine calls
// and maps every failure to ErrTranscription.
type Adapter struct {
	cache   *ModelCache
	config  AdapterConfig
	gate    chan struct{}
	speech  SpeechGate
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithSpeechGate skips the engine for clips the gate finds silent.
func WithSpeechGate(g SpeechGate) AdapterOption {
	return func(a *Adapter) {
		a.speech = g
	}
}

// WithMetrics records engine calls on m.
func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// NewAdapter creates a new adapter over cache
func NewAdapter(cache *ModelCache, config AdapterConfig, logger *slog.Logger, opts ...AdapterOption) *Adapter {
	if config.Language == "" {
		config.Language = "es"
	}
	a := &Adapter{
		cache:  cache,
		config: config,
		logger: logger.With(slog.String("component", "transcriber")),
	}
	if config.Serialize {
		a.gate = make(chan struct{}, 1)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Transcribe runs the engine on buf. Empty text is a valid result.
func (a *Adapter) Transcribe(ctx context.Context, buf *audio.Buffer) (Result, error) {
	result := Result{Language: a.config.Language}

	if buf == nil || len(buf.Samples) == 0 {
		return result, fmt.Errorf("%w: empty audio buffer", ErrTranscription)
	}

	if a.speech != nil && !a.speech.HasSpeech(buf.Samples) {
		a.metrics.RecordTranscriptionSkipped()
		a.logger.Debug("No speech detected, skipping engine", slog.String("path", buf.Path))
		result.Skipped = true
		return result, nil
	}

	engine, release, err := a.cache.Acquire(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	defer release()
	result.Engine = engine.Name()

	if a.gate != nil {
		select {
		case a.gate <- struct{}{}:
			defer func() { <-a.gate }()
		case <-ctx.Done():
			return result, fmt.Errorf("%w: %w", ErrTranscription, ctx.Err())
		}
	}

	opts := Options{
		Language: a.config.Language,
		FP16:     a.config.FP16,
		Task:     TaskTranscribe,
	}

	start := time.Now()
	a.metrics.RecordTranscriptionRequest()
	text, err := invoke(ctx, engine, buf, opts)
	result.Duration = time.Since(start)

	if err != nil {
		a.metrics.RecordTranscriptionFailure(result.Duration.Seconds())
		return result, fmt.Errorf("%w: %s: %w", ErrTranscription, engine.Name(), err)
	}

	a.metrics.RecordTranscriptionSuccess(result.Duration.Seconds())
	result.Text = strings.TrimSpace(text)

	a.logger.Debug("Transcription complete",
		slog.String("engine", engine.Name()),
		slog.Duration("duration", result.Duration),
		slog.Int("chars", len(result.Text)))

	return result, nil
}

// Warm loads the model ahead of the first message.
func (a *Adapter) Warm(ctx context.Context) error {
	return a.cache.Warm(ctx)
}

// invoke calls the engine, turning a panic into an error.
func invoke(ctx context.Context, engine Engine, buf *audio.Buffer, opts Options) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v\n%s", r, debug.Stack())
		}
	}()
	return engine.Transcribe(ctx, buf, opts)
}
