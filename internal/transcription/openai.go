package transcription

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
)

// OpenAIConfig configures an OpenAI-compatible transcription endpoint.
// Local servers such as faster-whisper-server speak the same API.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIEngine transcribes through the /audio/transcriptions API.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIEngine creates a client for config.BaseURL.
func NewOpenAIEngine(config OpenAIConfig, logger *slog.Logger) (*OpenAIEngine, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
		logger: logger.With(slog.String("component", "openai_engine")),
	}, nil
}

// Name returns the engine name
func (e *OpenAIEngine) Name() string {
	return "openai:" + e.model
}

// Transcribe uploads the window as WAV
func (e *OpenAIEngine) Transcribe(ctx context.Context, buf *audio.Buffer, opts Options) (string, error) {
	wavData, err := audio.EncodeWAV(buf.Samples, buf.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode audio: %w", err)
	}

	req := openai.AudioRequest{
		Model:    e.model,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(wavData),
		FilePath: "audio.wav", // the API needs a file name
	}

	response, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	e.logger.Debug("Transcription response received",
		slog.String("language", response.Language),
		slog.Int("chars", len(response.Text)))

	return response.Text, nil
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (e *OpenAIEngine) Close() error {
	return nil
}
