package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe a local audio file and print the text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if lang, _ := cmd.Flags().GetString("language"); lang != "" {
			cfg.Transcription.Language = lang
		}
		if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
			cfg.Transcription.Engine = engine
			if err := cfg.Transcription.Validate(); err != nil {
				return err
			}
		}

		// Keep stdout for the transcript.
		if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
			cfg.Logging.Output = "stderr"
		}
		logger := initLogger(cfg.Logging)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		adapter, cache, err := newTranscriber(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer cache.Close()

		buf, err := newNormalizer(cfg, logger, nil).Normalize(ctx, args[0])
		if err != nil {
			return err
		}
		logger.Info("Audio loaded",
			slog.String("format", buf.Format.String()),
			slog.Duration("duration", buf.SourceDuration()),
			slog.Bool("truncated", buf.Truncated()))

		result, err := adapter.Transcribe(ctx, buf)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Text)
		return nil
	},
}

func init() {
	transcribeCmd.Flags().StringP("language", "l", "", "Override transcription language")
	transcribeCmd.Flags().String("engine", "", "Override engine (onnx, whisper-server, openai)")
}
