package vad

import (
	"math"
	"sync"
	"testing"
	"time"
)

func tone(n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestNewProcessor(t *testing.T) {
	processor, err := NewProcessor(0.02, 512, 16000, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if processor.GetThreshold() != 0.02 {
		t.Errorf("Expected threshold %f, got %f", 0.02, processor.GetThreshold())
	}

	if processor.GetWindowSize() != 512 {
		t.Errorf("Expected window size 512, got %d", processor.GetWindowSize())
	}
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		sampleRate int
		minSpeech  time.Duration
		expectErr  bool
	}{
		{"valid parameters", 0.01, 512, 16000, 0, false},
		{"zero threshold", 0, 512, 16000, 0, true},
		{"threshold too high", 1.5, 512, 16000, 0, true},
		{"zero window", 0.01, 0, 16000, 0, true},
		{"zero sample rate", 0.01, 512, 0, 0, true},
		{"negative min speech", 0.01, 512, 16000, -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize, tt.sampleRate, tt.minSpeech)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestProcessWindow(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 0)

	silent, err := processor.Process(make([]float32, 512))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if silent.HasVoice {
		t.Error("Expected silence to have no voice")
	}

	loud, err := processor.Process(tone(512, 0.5))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !loud.HasVoice {
		t.Errorf("Expected tone to have voice, energy %f", loud.Energy)
	}
	if loud.WindowIndex != 1 {
		t.Errorf("Expected window index 1, got %d", loud.WindowIndex)
	}

	if _, err := processor.Process(make([]float32, 100)); err == nil {
		t.Error("Expected error for wrong sample count")
	}
}

func TestSegments(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 100*time.Millisecond)

	// 1s silence, 1s tone, 1s silence, 32ms blip, silence
	samples := make([]float32, 0, 16000*4)
	samples = append(samples, make([]float32, 16000)...)
	samples = append(samples, tone(16000, 0.5)...)
	samples = append(samples, make([]float32, 16000)...)
	samples = append(samples, tone(512, 0.5)...)
	samples = append(samples, make([]float32, 16000)...)

	segments := processor.Segments(samples)
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment (blip filtered), got %d", len(segments))
	}

	seg := segments[0]
	if seg.Start < 900*time.Millisecond || seg.Start > 1100*time.Millisecond {
		t.Errorf("Expected segment to start near 1s, got %v", seg.Start)
	}
	if seg.Duration < 900*time.Millisecond || seg.Duration > 1100*time.Millisecond {
		t.Errorf("Expected segment of about 1s, got %v", seg.Duration)
	}
	if seg.MeanLevel < 0.3 {
		t.Errorf("Expected mean level near 0.35, got %f", seg.MeanLevel)
	}
}

func TestSegmentOpenAtEnd(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 0)
	samples := append(make([]float32, 1024), tone(2048, 0.5)...)

	segments := processor.Segments(samples)
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if segments[0].End != 192*time.Millisecond {
		t.Errorf("Expected segment to end at 192ms, got %v", segments[0].End)
	}
}

func TestHasSpeech(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 250*time.Millisecond)

	if processor.HasSpeech(make([]float32, 16000*30)) {
		t.Error("Expected silent clip to have no speech")
	}
	if !processor.HasSpeech(append(tone(16000, 0.3), make([]float32, 16000)...)) {
		t.Error("Expected tone to count as speech")
	}

	stats := processor.GetStats()
	if stats.ClipsChecked != 2 {
		t.Errorf("Expected 2 clips checked, got %d", stats.ClipsChecked)
	}
	if stats.ClipsSilent != 1 {
		t.Errorf("Expected 1 silent clip, got %d", stats.ClipsSilent)
	}
	if stats.VoicePercentage <= 0 {
		t.Error("Expected positive voice percentage")
	}
}

func TestUpdateThreshold(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 0)

	if err := processor.UpdateThreshold(0.2); err != nil {
		t.Fatalf("UpdateThreshold failed: %v", err)
	}
	if processor.GetThreshold() != 0.2 {
		t.Errorf("Expected threshold 0.2, got %f", processor.GetThreshold())
	}
	if err := processor.UpdateThreshold(2); err == nil {
		t.Error("Expected error for invalid threshold")
	}
}

func TestProcessorReset(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 0)
	processor.HasSpeech(tone(4096, 0.5))
	processor.Reset()

	stats := processor.GetStats()
	if stats.TotalWindows != 0 || stats.ClipsChecked != 0 {
		t.Errorf("Expected zeroed stats, got %+v", stats)
	}
}

func TestConcurrentProcessing(t *testing.T) {
	processor, _ := NewProcessor(0.05, 512, 16000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.HasSpeech(tone(5120, 0.5))
		}()
	}
	wg.Wait()

	stats := processor.GetStats()
	if stats.TotalWindows != 100 {
		t.Errorf("Expected 100 windows, got %d", stats.TotalWindows)
	}
	if stats.ClipsChecked != 10 {
		t.Errorf("Expected 10 clips, got %d", stats.ClipsChecked)
	}
}
