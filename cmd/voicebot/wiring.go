package main

import (
	"fmt"
	"log/slog"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
	"github.com/kodexArg/telegram-voice-to-text/internal/config"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/transcription"
	"github.com/kodexArg/telegram-voice-to-text/internal/vad"
)

func newNormalizer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *audio.Normalizer {
	return audio.NewNormalizer(audio.NormalizerConfig{
		FFmpegPath:    cfg.Audio.FFmpegPath,
		DecodeTimeout: cfg.Audio.GetDecodeTimeoutDuration(),
		ClipSeconds:   cfg.Audio.ClipSeconds,
	}, logger, m)
}

// newTranscriber builds the model cache and the adapter in front of it.
func newTranscriber(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*transcription.Adapter, *transcription.ModelCache, error) {
	t := cfg.Transcription
	loader, err := transcription.NewLoader(transcription.EngineConfig{
		Engine:            t.Engine,
		Model:             t.Model,
		ModelDir:          t.ModelDir,
		NumMels:           t.NumMels,
		MaxTokens:         t.MaxTokens,
		SharedLibraryPath: t.SharedLibraryPath,
		IntraOpThreads:    t.IntraOpThreads,
		Endpoint:          t.Endpoint,
		APIKey:            t.APIKey,
		Timeout:           t.GetTimeoutDuration(),
		MaxRetries:        t.MaxRetries,
		MaxConcurrent:     t.MaxConcurrent,
	}, logger, m)
	if err != nil {
		return nil, nil, err
	}

	cache := transcription.NewModelCache(loader, logger, m)

	opts := []transcription.AdapterOption{transcription.WithMetrics(m)}
	if cfg.VAD.Enabled {
		gate, err := vad.NewProcessor(cfg.VAD.Threshold, cfg.VAD.WindowSize,
			cfg.Audio.SampleRate, cfg.VAD.GetMinSpeechDuration())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create speech gate: %w", err)
		}
		opts = append(opts, transcription.WithSpeechGate(gate))
	}

	adapter := transcription.NewAdapter(cache, transcription.AdapterConfig{
		Language:  t.Language,
		FP16:      false,
		Serialize: t.Serialize,
	}, logger, opts...)

	return adapter, cache, nil
}
