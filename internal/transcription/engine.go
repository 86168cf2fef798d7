package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
)

// ErrTranscription wraps every failure of the speech engine.
var ErrTranscription = errors.New("transcription error")

// TaskTranscribe asks the model for same-language text.
const TaskTranscribe = "transcribe"

// Engine converts a normalized audio window into text.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, buf *audio.Buffer, opts Options) (string, error)
	Close() error
}

// Options are the decoding options passed to every engine call.
type Options struct {
	Language string
	FP16     bool
	Task     string
}

// Result is the outcome of one transcription.
type Result struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Engine   string        `json:"engine"`
	Duration time.Duration `json:"duration"`

	// Skipped is set when the speech gate found no voice and the engine was not called.
	Skipped bool `json:"skipped,omitempty"`
}

// Loader builds an engine. It is called by ModelCache at most once per
// successful load.
type Loader func(ctx context.Context) (Engine, error)

// EngineConfig selects and configures an engine implementation.
type EngineConfig struct {
	Engine string // onnx, whisper-server or openai

	// onnx
	Model             string
	ModelDir          string
	NumMels           int
	MaxTokens         int
	SharedLibraryPath string
	IntraOpThreads    int

	// whisper-server and openai
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// NewLoader returns a Loader for the configured engine.
func NewLoader(cfg EngineConfig, logger *slog.Logger, m *metrics.Metrics) (Loader, error) {
	switch cfg.Engine {
	case "onnx", "":
		return func(ctx context.Context) (Engine, error) {
			return NewONNXWhisper(ONNXConfig{
				ModelDir:          cfg.ModelDir,
				Model:             cfg.Model,
				NumMels:           cfg.NumMels,
				MaxTokens:         cfg.MaxTokens,
				SharedLibraryPath: cfg.SharedLibraryPath,
				IntraOpThreads:    cfg.IntraOpThreads,
			}, logger)
		}, nil
	case "whisper-server":
		return func(ctx context.Context) (Engine, error) {
			return NewWhisperServer(WhisperServerConfig{
				Endpoint:      cfg.Endpoint,
				APIKey:        cfg.APIKey,
				Timeout:       cfg.Timeout,
				MaxRetries:    cfg.MaxRetries,
				MaxConcurrent: cfg.MaxConcurrent,
			}, logger, m)
		}, nil
	case "openai":
		return func(ctx context.Context) (Engine, error) {
			return NewOpenAIEngine(OpenAIConfig{
				BaseURL: cfg.Endpoint,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
				Timeout: cfg.Timeout,
			}, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", cfg.Engine)
	}
}
