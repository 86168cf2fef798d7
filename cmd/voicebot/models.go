package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kodexArg/telegram-voice-to-text/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage offline Whisper models",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [name]",
	Short: "Download a Whisper ONNX model (default: configured model)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := initLogger(cfg.Logging)

		name := cfg.Transcription.Model
		if len(args) == 1 {
			name = args[0]
		}
		model, err := models.Lookup(name)
		if err != nil {
			return err
		}

		baseURL, _ := cmd.Flags().GetString("base-url")
		d := models.NewDownloader(cfg.Transcription.ModelDir, baseURL, &http.Client{}, logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		n, err := d.Download(ctx, model)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Model %s ready in %s (%d files downloaded)\n",
			model.Name, model.Dir(cfg.Transcription.ModelDir), n)
		return nil
	},
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known models and whether they are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		d := models.NewDownloader(cfg.Transcription.ModelDir, "", nil, initLogger(cfg.Logging))

		for _, name := range models.Names() {
			model, _ := models.Lookup(name)
			status := "missing"
			if d.Status(model) {
				status = "installed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-9s %s\n", name, status, model.Repo)
		}
		return nil
	},
}

func init() {
	modelsDownloadCmd.Flags().String("base-url", models.DefaultBaseURL, "Model hub base URL")
	modelsCmd.AddCommand(modelsDownloadCmd)
	modelsCmd.AddCommand(modelsListCmd)
}
