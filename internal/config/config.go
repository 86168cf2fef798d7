package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete bot configuration
type Config struct {
	Telegram      TelegramConfig      `yaml:"telegram"`
	Download      DownloadConfig      `yaml:"download"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	VAD           VADConfig           `yaml:"vad"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Housekeeping  HousekeepingConfig  `yaml:"housekeeping"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// TelegramConfig contains the chat transport settings
type TelegramConfig struct {
	Token       string `yaml:"token"`
	APIEndpoint string `yaml:"api_endpoint"`
	PollTimeout int    `yaml:"poll_timeout"` // seconds
	Debug       bool   `yaml:"debug"`
}

// DownloadConfig contains the resilient downloader parameters
type DownloadConfig struct {
	Dir            string `yaml:"dir"`
	ContainerExt   string `yaml:"container_ext"`
	MaxAttempts    int    `yaml:"max_attempts"`
	Backoff        int    `yaml:"backoff"`         // seconds
	AttemptTimeout int    `yaml:"attempt_timeout"` // seconds
	MaxFileSize    int64  `yaml:"max_file_size"`   // bytes
}

// AudioConfig contains audio normalization parameters
type AudioConfig struct {
	SampleRate    int    `yaml:"sample_rate"`
	ClipSeconds   int    `yaml:"clip_seconds"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
	DecodeTimeout int    `yaml:"decode_timeout"` // seconds
}

// TranscriptionConfig contains speech-to-text engine configuration
type TranscriptionConfig struct {
	Engine            string `yaml:"engine"` // onnx, whisper-server or openai
	Language          string `yaml:"language"`
	Model             string `yaml:"model"`
	ModelDir          string `yaml:"model_dir"`
	NumMels           int    `yaml:"num_mels"`
	MaxTokens         int    `yaml:"max_tokens"`
	SharedLibraryPath string `yaml:"shared_library_path"`
	IntraOpThreads    int    `yaml:"intra_op_threads"`
	Serialize         bool   `yaml:"serialize"`
	WarmUp            bool   `yaml:"warm_up"`

	// Remote engines
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// VADConfig contains the speech gate configuration
type VADConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Threshold         float32 `yaml:"threshold"`           // RMS amplitude, 0-1
	WindowSize        int     `yaml:"window_size"`         // samples
	MinSpeechDuration float64 `yaml:"min_speech_duration"` // seconds
}

// PipelineConfig contains per-event processing settings
type PipelineConfig struct {
	MaxConcurrent         int  `yaml:"max_concurrent"`
	ShutdownTimeout       int  `yaml:"shutdown_timeout"` // seconds
	DeleteAfterProcessing bool `yaml:"delete_after_processing"`
	History               int  `yaml:"history"`
}

// HousekeepingConfig contains stale audio cleanup settings
type HousekeepingConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"` // seconds
	MaxAge   int  `yaml:"max_age"`  // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`

	// ExposeTranscripts includes transcript text in /runs responses.
	ExposeTranscripts bool `yaml:"expose_transcripts"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		Download: DownloadConfig{
			Dir:            "audios",
			ContainerExt:   "ogg",
			MaxAttempts:    5,
			Backoff:        5,
			AttemptTimeout: 30,
			MaxFileSize:    20 << 20,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			ClipSeconds:   30,
			FFmpegPath:    "ffmpeg",
			DecodeTimeout: 60,
		},
		Transcription: TranscriptionConfig{
			Engine:        "onnx",
			Language:      "es",
			Model:         "base",
			ModelDir:      "models",
			NumMels:       80,
			MaxTokens:     224,
			Serialize:     true,
			WarmUp:        true,
			Timeout:       120,
			MaxConcurrent: 1,
		},
		VAD: VADConfig{
			Enabled:           false,
			Threshold:         0.01,
			WindowSize:        512,
			MinSpeechDuration: 0.25,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:   4,
			ShutdownTimeout: 30,
			History:         100,
		},
		Housekeeping: HousekeepingConfig{
			Enabled:  true,
			Interval: 3600,
			MaxAge:   86400,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults.
// An empty path yields the defaults. Environment overrides are applied
// before validation.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnvFiles loads KEY=VALUE files into the process environment.
// Missing files are ignored; with no arguments ".env" is tried.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	return nil
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if token := os.Getenv("TOKEN"); token != "" {
		c.Telegram.Token = token
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		c.Telegram.Token = token
	}
	if key := os.Getenv("TRANSCRIPTION_API_KEY"); key != "" {
		c.Transcription.APIKey = key
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram config: %w", err)
	}

	if err := c.Download.Validate(); err != nil {
		return fmt.Errorf("download config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Housekeeping.Validate(); err != nil {
		return fmt.Errorf("housekeeping config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates telegram configuration. The token itself is only
// required by the bot command and is checked there.
func (t *TelegramConfig) Validate() error {
	if t.PollTimeout < 0 || t.PollTimeout > 300 {
		return fmt.Errorf("poll_timeout must be between 0 and 300 seconds, got %d", t.PollTimeout)
	}

	return nil
}

// Validate validates download configuration
func (d *DownloadConfig) Validate() error {
	if d.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if d.ContainerExt == "" {
		return fmt.Errorf("container_ext cannot be empty")
	}

	if d.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", d.MaxAttempts)
	}

	if d.Backoff < 0 {
		return fmt.Errorf("backoff cannot be negative, got %d", d.Backoff)
	}

	if d.AttemptTimeout < 1 {
		return fmt.Errorf("attempt_timeout must be at least 1 second, got %d", d.AttemptTimeout)
	}

	if d.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size cannot be negative, got %d", d.MaxFileSize)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for whisper models, got %d", a.SampleRate)
	}

	if a.ClipSeconds < 1 || a.ClipSeconds > 30 {
		return fmt.Errorf("clip_seconds must be between 1 and 30, got %d", a.ClipSeconds)
	}

	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.DecodeTimeout < 1 {
		return fmt.Errorf("decode_timeout must be at least 1 second, got %d", a.DecodeTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	switch t.Engine {
	case "onnx":
		if t.Model == "" {
			return fmt.Errorf("model cannot be empty")
		}
		if t.ModelDir == "" {
			return fmt.Errorf("model_dir cannot be empty")
		}
		if t.NumMels != 80 && t.NumMels != 128 {
			return fmt.Errorf("num_mels must be 80 or 128, got %d", t.NumMels)
		}
		if t.MaxTokens < 1 || t.MaxTokens > 448 {
			return fmt.Errorf("max_tokens must be between 1 and 448, got %d", t.MaxTokens)
		}
		if t.IntraOpThreads < 0 {
			return fmt.Errorf("intra_op_threads cannot be negative, got %d", t.IntraOpThreads)
		}
	case "whisper-server", "openai":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for engine %s", t.Engine)
		}
		if t.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
		}
		if t.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
		}
		if t.MaxConcurrent < 1 {
			return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
		}
	default:
		return fmt.Errorf("engine must be one of [onnx, whisper-server, openai], got '%s'", t.Engine)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", v.Threshold)
	}

	if v.WindowSize < 160 || v.WindowSize > 4096 {
		return fmt.Errorf("window_size must be between 160 and 4096 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechDuration < 0 {
		return fmt.Errorf("min_speech_duration cannot be negative, got %f", v.MinSpeechDuration)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	if p.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", p.ShutdownTimeout)
	}

	if p.History < 0 {
		return fmt.Errorf("history cannot be negative, got %d", p.History)
	}

	return nil
}

// Validate validates housekeeping configuration
func (h *HousekeepingConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Interval < 1 {
		return fmt.Errorf("interval must be at least 1 second, got %d", h.Interval)
	}

	if h.MaxAge < 1 {
		return fmt.Errorf("max_age must be at least 1 second, got %d", h.MaxAge)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path.
	return nil
}

// GetBackoffDuration returns the fixed retry delay as a time.Duration
func (d *DownloadConfig) GetBackoffDuration() time.Duration {
	return time.Duration(d.Backoff) * time.Second
}

// GetAttemptTimeoutDuration returns the per-attempt timeout as a time.Duration
func (d *DownloadConfig) GetAttemptTimeoutDuration() time.Duration {
	return time.Duration(d.AttemptTimeout) * time.Second
}

// GetDecodeTimeoutDuration returns the decoder timeout as a time.Duration
func (a *AudioConfig) GetDecodeTimeoutDuration() time.Duration {
	return time.Duration(a.DecodeTimeout) * time.Second
}

// GetTimeoutDuration returns the remote engine timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetShutdownTimeoutDuration returns the drain timeout as a time.Duration
func (p *PipelineConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(p.ShutdownTimeout) * time.Second
}

// GetIntervalDuration returns the sweep interval as a time.Duration
func (h *HousekeepingConfig) GetIntervalDuration() time.Duration {
	return time.Duration(h.Interval) * time.Second
}

// GetMaxAgeDuration returns the file retention as a time.Duration
func (h *HousekeepingConfig) GetMaxAgeDuration() time.Duration {
	return time.Duration(h.MaxAge) * time.Second
}
