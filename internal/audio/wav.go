package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/youpy/go-wav"
)

// EncodeWAV encodes float samples as a mono 16-bit PCM WAV file.
// Remote transcription engines receive the normalized window this way.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	writer := wav.NewWriter(buf, uint32(len(samples)), 1, uint32(sampleRate), 16)

	pcm := FloatToPCM16(samples)
	out := make([]wav.Sample, len(pcm))
	for i, s := range pcm {
		out[i].Values[0] = int(s)
	}

	if err := writer.WriteSamples(out); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// FloatToPCM16 converts floats in [-1, 1] to signed 16-bit samples, clamping overflow.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// ValidateWAV checks the RIFF/WAVE magic and the fmt chunk
func ValidateWAV(data []byte) error {
	if len(data) < 44 {
		return fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	return nil
}

// WAVInfo describes a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file, walking chunks until "data".
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	info := &WAVInfo{
		Channels:      binary.LittleEndian.Uint16(data[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(data[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(data[34:36]),
	}
	if info.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if info.Channels == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("invalid format: %d channels, %d bits", info.Channels, info.BitsPerSample)
	}

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		pos += 8
		if id == "data" {
			info.DataSize = size
			frameSize := uint32(info.Channels) * uint32(info.BitsPerSample) / 8
			if frameSize == 0 {
				return nil, fmt.Errorf("invalid frame size for %d bits", info.BitsPerSample)
			}
			info.NumSamples = size / frameSize
			info.Duration = float64(info.NumSamples) / float64(info.SampleRate)
			return info, nil
		}
		// chunks are word aligned
		pos += int(size) + int(size&1)
	}

	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}
