package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Processor is an energy based voice activity detector used to skip
// silent clips before they reach the speech model.
type Processor struct {
	threshold  float32       // RMS amplitude a window must reach
	windowSize int           // samples per window
	sampleRate int           // Hz
	minSpeech  time.Duration // shortest segment that counts as speech

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	clipsChecked  uint64
	clipsSilent   uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result is the outcome of processing one window
type Result struct {
	Energy      float32 `json:"energy"`
	HasVoice    bool    `json:"has_voice"`
	WindowIndex int     `json:"window_index"`
}

// Segment is a continuous run of voiced windows
type Segment struct {
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	Duration  time.Duration `json:"duration"`
	MeanLevel float32       `json:"mean_level"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	ClipsChecked    uint64    `json:"clips_checked"`
	ClipsSilent     uint64    `json:"clips_silent"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int, minSpeech time.Duration) (*Processor, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if minSpeech < 0 {
		return nil, fmt.Errorf("minimum speech duration cannot be negative, got %v", minSpeech)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		minSpeech:  minSpeech,
	}, nil
}

// Process evaluates a single window of samples
func (p *Processor) Process(samples []float32) (*Result, error) {
	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	energy := rms(samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	hasVoice := energy >= p.threshold
	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	return &Result{
		Energy:      energy,
		HasVoice:    hasVoice,
		WindowIndex: int(p.totalWindows - 1),
	}, nil
}

// Segments splits samples into non-overlapping windows and returns the
// voiced segments at least minSpeech long. A trailing partial window is
// ignored.
func (p *Processor) Segments(samples []float32) []Segment {
	p.mu.RLock()
	threshold := p.threshold
	p.mu.RUnlock()

	windowDur := time.Duration(p.windowSize) * time.Second / time.Duration(p.sampleRate)
	numWindows := len(samples) / p.windowSize

	var segments []Segment
	var current *Segment
	var levelSum float32
	var levelCount int
	var voiced uint64

	closeSegment := func(end time.Duration) {
		current.End = end
		current.Duration = end - current.Start
		current.MeanLevel = levelSum / float32(levelCount)
		if current.Duration >= p.minSpeech {
			segments = append(segments, *current)
		}
		current = nil
	}

	for i := 0; i < numWindows; i++ {
		window := samples[i*p.windowSize : (i+1)*p.windowSize]
		energy := rms(window)
		start := time.Duration(i) * windowDur

		if energy >= threshold {
			voiced++
			if current == nil {
				current = &Segment{Start: start}
				levelSum, levelCount = 0, 0
			}
			levelSum += energy
			levelCount++
			continue
		}

		if current != nil {
			closeSegment(start)
		}
	}

	if current != nil {
		closeSegment(time.Duration(numWindows) * windowDur)
	}

	p.mu.Lock()
	p.totalWindows += uint64(numWindows)
	p.voiceWindows += voiced
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return segments
}

// HasSpeech reports whether samples contain at least one voiced segment.
func (p *Processor) HasSpeech(samples []float32) bool {
	speech := len(p.Segments(samples)) > 0

	p.mu.Lock()
	p.clipsChecked++
	if !speech {
		p.clipsSilent++
	}
	p.mu.Unlock()

	return speech
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		ClipsChecked:    p.clipsChecked,
		ClipsSilent:     p.clipsSilent,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.clipsChecked = 0
	p.clipsSilent = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

func rms(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return float32(math.Sqrt(energy / float64(len(samples))))
}
