package audio

import (
	"bytes"
	"math"
	"testing"

	"github.com/youpy/go-wav"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	duration := 0.1
	frequency := 440.0

	numSamples := int(float64(sampleRate) * duration)
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*frequency*t))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// WAV header should be 44 bytes
	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if info.NumSamples != uint32(numSamples) {
		t.Errorf("Expected %d samples, got %d", numSamples, info.NumSamples)
	}

	expectedDuration := float64(numSamples) / float64(sampleRate)
	if math.Abs(info.Duration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, info.Duration)
	}
}

func TestEncodeWAVReadableByDecoder(t *testing.T) {
	original := []float32{0, 0.25, -0.25, 0.5, -0.5}

	wavData, err := EncodeWAV(original, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	reader := wav.NewReader(bytes.NewReader(wavData))
	format, err := reader.Format()
	if err != nil {
		t.Fatalf("Failed to read format: %v", err)
	}
	if format.SampleRate != 16000 || format.NumChannels != 1 {
		t.Errorf("Unexpected format: %+v", format)
	}

	samples, err := reader.ReadSamples(uint32(len(original)))
	if err != nil {
		t.Fatalf("Failed to read samples: %v", err)
	}
	if len(samples) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(samples))
	}

	pcm := FloatToPCM16(original)
	for i, s := range samples {
		if got := reader.IntValue(s, 0); got != int(pcm[i]) {
			t.Errorf("Sample %d: expected %d, got %d", i, pcm[i], got)
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}

	if _, err := EncodeWAV([]float32{0.1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestFloatToPCM16Clamps(t *testing.T) {
	got := FloatToPCM16([]float32{2, -2, 0, 1, -1})
	want := []int16{32767, -32768, 0, 32767, -32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestValidateWAV(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "too short",
			data:        []byte("RIFF"),
			expectError: true,
		},
		{
			name:        "wrong magic",
			data:        append([]byte("RIFX\x00\x00\x00\x00WAVEfmt "), make([]byte, 32)...),
			expectError: true,
		},
		{
			name:        "not wave",
			data:        append([]byte("RIFF\x00\x00\x00\x00AVI fmt "), make([]byte, 32)...),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWAV(tt.data)
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0xC0, 0x00, 0x80}
	got := PCM16ToFloat32(data)
	want := []float32{0, 0.5, -0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Index %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}
