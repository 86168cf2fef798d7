package audio

import (
	"math"
	"testing"
	"time"
)

func TestPadOrTrim(t *testing.T) {
	tests := []struct {
		name   string
		inLen  int
		n      int
		zeroAt int // first index expected to be padding, -1 if none
	}{
		{"short clip is padded", 3 * SampleRate, NumSamples, 3 * SampleRate},
		{"exact window", NumSamples, NumSamples, -1},
		{"long clip is trimmed", 45 * SampleRate, NumSamples, -1},
		{"empty input", 0, NumSamples, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.inLen)
			for i := range in {
				in[i] = 0.5
			}

			out := PadOrTrim(in, tt.n)
			if len(out) != tt.n {
				t.Fatalf("Expected length %d, got %d", tt.n, len(out))
			}
			if tt.zeroAt >= 0 {
				for i := tt.zeroAt; i < len(out); i++ {
					if out[i] != 0 {
						t.Fatalf("Expected silence at %d, got %f", i, out[i])
					}
				}
			}
			if tt.inLen > 0 && out[0] != 0.5 {
				t.Errorf("Expected original sample at start, got %f", out[0])
			}
		})
	}
}

func TestPadOrTrimDoesNotAlias(t *testing.T) {
	in := []float32{1, 2, 3}
	out := PadOrTrim(in, 3)
	out[0] = 42
	if in[0] != 1 {
		t.Error("PadOrTrim modified its input")
	}

	again := PadOrTrim(in, 5)
	if again[0] != 1 || again[4] != 0 {
		t.Errorf("Unexpected result %v", again)
	}
}

func TestResample(t *testing.T) {
	in := make([]float32, 8000)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 100 * float64(i) / 8000))
	}

	out := Resample(in, 8000, 16000)
	if len(out) != 16000 {
		t.Fatalf("Expected 16000 samples, got %d", len(out))
	}
	// Even output indexes land on original samples.
	for i := 0; i < 100; i++ {
		if math.Abs(float64(out[2*i]-in[i])) > 1e-6 {
			t.Fatalf("Sample %d: expected %f, got %f", 2*i, in[i], out[2*i])
		}
	}

	down := Resample(in, 8000, 4000)
	if len(down) != 4000 {
		t.Errorf("Expected 4000 samples, got %d", len(down))
	}

	same := Resample(in, 16000, 16000)
	if len(same) != len(in) || &same[0] == &in[0] {
		t.Error("Same rate resample must return an equal length copy")
	}

	if got := Resample(nil, 8000, 16000); len(got) != 0 {
		t.Errorf("Expected empty output, got %d samples", len(got))
	}
}

func TestDownmix(t *testing.T) {
	got := Downmix([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
	want := []float32{0.5, 0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("Expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Frame %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestBufferDurations(t *testing.T) {
	b := &Buffer{
		Samples:       make([]float32, NumSamples),
		SampleRate:    SampleRate,
		SourceSamples: 40 * SampleRate,
	}
	if b.Duration() != 30*time.Second {
		t.Errorf("Expected 30s window, got %v", b.Duration())
	}
	if b.SourceDuration() != 40*time.Second {
		t.Errorf("Expected 40s source, got %v", b.SourceDuration())
	}
	if !b.Truncated() {
		t.Error("Expected buffer to report truncation")
	}
}
