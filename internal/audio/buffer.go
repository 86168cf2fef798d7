package audio

import (
	"time"
)

const (
	// SampleRate is the rate every normalized buffer is resampled to.
	SampleRate = 16000

	// ChunkSeconds is the fixed window the speech model consumes.
	ChunkSeconds = 30

	// NumSamples is the length of a normalized buffer.
	NumSamples = SampleRate * ChunkSeconds
)

// Buffer holds mono float32 PCM in [-1, 1] at SampleRate, padded or
// trimmed to a fixed window.
type Buffer struct {
	Samples    []float32
	SampleRate int

	// SourceSamples is the decoded length before pad or trim.
	SourceSamples int
	Format        Format
	Path          string
}

// Duration returns the length of the window.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// SourceDuration returns the decoded length of the audio before pad or trim.
func (b *Buffer) SourceDuration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.SourceSamples) * time.Second / time.Duration(b.SampleRate)
}

// Truncated reports whether audio past the window was dropped.
func (b *Buffer) Truncated() bool {
	return b.SourceSamples > len(b.Samples)
}

// PadOrTrim returns a copy of samples with exactly n entries, zero padded
// at the end or truncated. The input is never modified.
func PadOrTrim(samples []float32, n int) []float32 {
	if n <= 0 {
		return []float32{}
	}
	out := make([]float32, n)
	copy(out, samples)
	return out
}

// Resample converts samples from one rate to another with linear
// interpolation. Same-rate input is copied unchanged.
func Resample(samples []float32, from, to int) []float32 {
	if len(samples) == 0 || from <= 0 || to <= 0 {
		return []float32{}
	}
	if from == to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(int64(len(samples)) * int64(to) / int64(from))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]float32, outLen)
	ratio := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Downmix averages interleaved frames of the given channel count into mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
