package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
	"github.com/kodexArg/telegram-voice-to-text/internal/download"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/transcription"
)

// Downloader fetches a file reference to a local path.
type Downloader interface {
	Download(ctx context.Context, ref download.FileRef, path string) (*download.Task, error)
}

// Normalizer turns a downloaded file into a fixed-length buffer.
type Normalizer interface {
	Normalize(ctx context.Context, path string) (*audio.Buffer, error)
}

// Transcriber turns a buffer into text.
type Transcriber interface {
	Transcribe(ctx context.Context, buf *audio.Buffer) (transcription.Result, error)
}

// Emitter delivers a transcript to the originating conversation.
type Emitter interface {
	Emit(ctx context.Context, result TranscriptResult) error
}

// Config holds pipeline settings
type Config struct {
	AudioDir              string
	ContainerExt          string
	MaxConcurrent         int
	DeleteAfterProcessing bool
}

// Pipeline runs each inbound event through locate, download, normalize,
// transcribe and emit. Runs are independent: a failure is recorded on the
// run's Outcome and never reaches the caller or other runs.
type Pipeline struct {
	config      Config
	downloader  Downloader
	normalizer  Normalizer
	transcriber Transcriber
	emitter     Emitter
	tracker     *Tracker
	logger      *slog.Logger
	metrics     *metrics.Metrics

	semaphore chan struct{}
	wg        sync.WaitGroup
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTracker records runs on t.
func WithTracker(t *Tracker) Option {
	return func(p *Pipeline) {
		p.tracker = t
	}
}

// WithMetrics records runs on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a new pipeline
func New(config Config, d Downloader, n Normalizer, t Transcriber, e Emitter, logger *slog.Logger, opts ...Option) *Pipeline {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.AudioDir == "" {
		config.AudioDir = "audios"
	}
	if config.ContainerExt == "" {
		config.ContainerExt = "ogg"
	}

	p := &Pipeline{
		config:      config,
		downloader:  d,
		normalizer:  n,
		transcriber: t,
		emitter:     e,
		logger:      logger.With(slog.String("component", "pipeline")),
		semaphore:   make(chan struct{}, config.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracker == nil {
		p.tracker = NewTracker(100)
	}
	return p
}

// Tracker returns the run tracker
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// Dispatch processes ev on its own goroutine and returns at once.
// At most MaxConcurrent runs execute at the same time.
func (p *Pipeline) Dispatch(ctx context.Context, ev InboundAudioEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.semaphore <- struct{}{}:
			defer func() { <-p.semaphore }()
		case <-ctx.Done():
			p.logger.Warn("Dropping event on shutdown",
				slog.Int("update_id", ev.UpdateID),
				slog.Int64("conversation_id", ev.ConversationID))
			return
		}

		p.Process(ctx, ev)
	}()
}

// Wait blocks until all dispatched runs finish or ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs ev synchronously and returns its outcome.
func (p *Pipeline) Process(ctx context.Context, ev InboundAudioEvent) (outcome Outcome) {
	run := &Outcome{
		EventID:        uuid.New().String(),
		UpdateID:       ev.UpdateID,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Kind:           ev.Kind,
		State:          StateReceived,
		Started:        time.Now(),
	}
	run.Transitions = []Transition{{State: StateReceived, At: run.Started}}

	logger := p.logger.With(
		slog.String("event_id", run.EventID),
		slog.Int64("conversation_id", ev.ConversationID),
		slog.Int("message_id", ev.MessageID))

	p.metrics.RecordEvent(string(ev.Kind))
	p.metrics.RunStarted()
	p.tracker.start(run)

	defer func() {
		if r := recover(); r != nil {
			p.tracker.abort(run, fmt.Errorf("panic in pipeline: %v", r))
			logger.Error("Pipeline run panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		if p.config.DeleteAfterProcessing && run.Path != "" {
			p.removeFile(logger, run.Path)
		}

		p.tracker.finish(run)
		p.metrics.RunFinished(run.Label(), run.Duration.Seconds())
		p.logOutcome(logger, run)
		outcome = run.clone()
	}()

	p.run(ctx, ev, run, logger)
	return
}

func (p *Pipeline) run(ctx context.Context, ev InboundAudioEvent, run *Outcome, logger *slog.Logger) {
	ref, err := Locate(ev)
	if err != nil {
		p.tracker.skip(run, ReasonNoAudio)
		logger.Debug("No audio in message, skipping", slog.String("kind", string(ev.Kind)))
		return
	}
	p.tracker.update(run, StateLocated)

	path, err := download.TargetPath(p.config.AudioDir, ref, p.config.ContainerExt)
	if err != nil {
		p.tracker.update(run, StateDownloading)
		p.tracker.fail(run, ReasonDownloadRejected, fmt.Errorf("%w: %w", download.ErrRejected, err))
		return
	}

	p.tracker.update(run, StateDownloading)
	task, err := p.downloader.Download(ctx, ref, path)
	if task != nil {
		p.tracker.setAttempts(run, task.Attempts)
	}
	if err != nil {
		p.tracker.fail(run, downloadReason(ctx, err), err)
		return
	}
	p.tracker.setPath(run, path)
	p.tracker.update(run, StateDownloaded)

	p.tracker.update(run, StateNormalizing)
	buf, err := p.normalizer.Normalize(ctx, path)
	if err != nil {
		p.tracker.fail(run, contextReason(ctx, ReasonAudioLoad), err)
		return
	}

	p.tracker.update(run, StateTranscribing)
	result, err := p.transcriber.Transcribe(ctx, buf)
	if err != nil {
		p.tracker.fail(run, contextReason(ctx, ReasonTranscription), err)
		return
	}
	p.tracker.setText(run, result.Text)

	// Telegram rejects empty messages; nothing to deliver.
	if result.Text == "" {
		p.tracker.update(run, StateDone)
		return
	}

	p.tracker.update(run, StateDelivering)
	err = p.emitter.Emit(ctx, TranscriptResult{
		ConversationID:   ev.ConversationID,
		ReplyToMessageID: ev.MessageID,
		Text:             result.Text,
		Language:         result.Language,
	})
	if err != nil {
		if !errors.Is(err, ErrDelivery) {
			err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		p.tracker.fail(run, ReasonDelivery, err)
		return
	}

	p.tracker.setDelivered(run)
	p.tracker.update(run, StateDone)
}

func downloadReason(ctx context.Context, err error) Reason {
	switch {
	case ctx.Err() != nil:
		return ReasonCanceled
	case download.IsExhausted(err):
		return ReasonDownloadExhausted
	default:
		return ReasonDownloadRejected
	}
}

func contextReason(ctx context.Context, fallback Reason) Reason {
	if ctx.Err() != nil {
		return ReasonCanceled
	}
	return fallback
}

func (p *Pipeline) removeFile(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove audio file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return
	}
	p.metrics.RecordFilesRemoved(1)
}

func (p *Pipeline) logOutcome(logger *slog.Logger, run *Outcome) {
	switch run.State {
	case StateDone:
		logger.Info("Voice message processed",
			slog.Bool("delivered", run.Delivered),
			slog.Int("download_attempts", run.Attempts),
			slog.Int("chars", len(run.Text)),
			slog.Duration("duration", run.Duration))
	case StateFailed:
		logger.Error("Voice message failed",
			slog.String("reason", string(run.Reason)),
			slog.Int("download_attempts", run.Attempts),
			slog.String("error", run.Error),
			slog.Duration("duration", run.Duration))
	}
}
