package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
	"github.com/kodexArg/telegram-voice-to-text/internal/config"
)

// mockInferenceHandler imitates the whisper.cpp server /inference route:
// it checks the uploaded WAV and answers with a fixed transcript.
func mockInferenceHandler(text string, delay time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		info, err := audio.GetWAVInfo(data)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		language := r.FormValue("language")
		logger.Info("Inference request",
			slog.String("filename", header.Filename),
			slog.Int("bytes", len(data)),
			slog.Int("sample_rate", int(info.SampleRate)),
			slog.Float64("duration", info.Duration),
			slog.String("language", language),
			slog.String("response_format", r.FormValue("response_format")))

		if delay > 0 {
			time.Sleep(delay)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"text":     text,
			"language": language,
		})
	}
}

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a fake whisper.cpp inference server for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		text, _ := cmd.Flags().GetString("text")
		delay, _ := cmd.Flags().GetDuration("delay")

		logger := initLogger(config.LoggingConfig{Level: "info", Format: "text"})

		router := mux.NewRouter()
		router.HandleFunc("/inference", mockInferenceHandler(text, delay, logger)).Methods(http.MethodPost)

		logger.Info("Mock inference server starting",
			slog.String("endpoint", fmt.Sprintf("http://%s/inference", addr)))
		return http.ListenAndServe(addr, router)
	},
}

func init() {
	mockServerCmd.Flags().String("addr", "127.0.0.1:9000", "Listen address")
	mockServerCmd.Flags().String("text", "esta es una transcripción de prueba", "Transcript returned for every request")
	mockServerCmd.Flags().Duration("delay", 200*time.Millisecond, "Simulated processing time")
	rootCmd.AddCommand(mockServerCmd)
}
