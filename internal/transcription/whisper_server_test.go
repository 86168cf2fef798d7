package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWhisperServerTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.FormValue("language"); got != "es" {
			t.Errorf("Expected language es, got %q", got)
		}
		if got := r.FormValue("response_format"); got != "json" {
			t.Errorf("Expected json response format, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected audio file: %v", err)
		} else {
			file.Close()
			if header.Filename != "audio.wav" {
				t.Errorf("Expected audio.wav, got %s", header.Filename)
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"text": " hola "})
	}))
	defer server.Close()

	client, err := NewWhisperServer(WhisperServerConfig{Endpoint: server.URL}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewWhisperServer failed: %v", err)
	}

	text, err := client.Transcribe(context.Background(), testBuffer(0.2), Options{Language: "es", Task: TaskTranscribe})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != " hola " {
		t.Errorf("Expected raw server text, got %q", text)
	}

	stats := client.GetStats()
	if stats.SuccessRequests != 1 || stats.TotalRequests != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestWhisperServerRetries(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		expectCalls int32
	}{
		{"server error is retried", http.StatusServiceUnavailable, 3},
		{"rate limit is retried", http.StatusTooManyRequests, 3},
		{"bad request is not retried", http.StatusBadRequest, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client, err := NewWhisperServer(WhisperServerConfig{
				Endpoint:     server.URL,
				MaxRetries:   2,
				RetryBackoff: time.Millisecond,
			}, testLogger(), nil)
			if err != nil {
				t.Fatalf("NewWhisperServer failed: %v", err)
			}

			_, err = client.Transcribe(context.Background(), testBuffer(0.2), Options{Language: "es"})
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), "HTTP error") {
				t.Errorf("Expected HTTP error, got %v", err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.expectCalls {
				t.Errorf("Expected %d calls, got %d", tt.expectCalls, got)
			}
		})
	}
}

func TestWhisperServerErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"failed to read WAV file"}`))
	}))
	defer server.Close()

	client, _ := NewWhisperServer(WhisperServerConfig{Endpoint: server.URL}, testLogger(), nil)
	if _, err := client.Transcribe(context.Background(), testBuffer(0.2), Options{}); err == nil {
		t.Error("Expected error from server error field")
	}
}

func TestNewWhisperServerValidation(t *testing.T) {
	if _, err := NewWhisperServer(WhisperServerConfig{}, testLogger(), nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"500", &statusError{Code: 500}, true},
		{"429", &statusError{Code: 429}, true},
		{"404", &statusError{Code: 404}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
