package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"

	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
)

// ErrLoad is returned when a file cannot be read or decoded into audio.
var ErrLoad = errors.New("audio load error")

// NormalizerConfig configures decoding.
type NormalizerConfig struct {
	FFmpegPath    string
	DecodeTimeout time.Duration
	ClipSeconds   int
}

// DefaultNormalizerConfig returns ffmpeg from PATH and a 30 second window.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		FFmpegPath:    "ffmpeg",
		DecodeTimeout: 60 * time.Second,
		ClipSeconds:   ChunkSeconds,
	}
}

// Normalizer turns a downloaded media file into a fixed-length Buffer.
type Normalizer struct {
	config  NormalizerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNormalizer creates a new normalizer
func NewNormalizer(config NormalizerConfig, logger *slog.Logger, m *metrics.Metrics) *Normalizer {
	if config.ClipSeconds <= 0 || config.ClipSeconds > ChunkSeconds {
		config.ClipSeconds = ChunkSeconds
	}
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	return &Normalizer{
		config:  config,
		logger:  logger.With(slog.String("component", "normalizer")),
		metrics: m,
	}
}

// Normalize loads path and pads or trims it to the model window.
// The window is always NumSamples long; ClipSeconds below 30 zeroes the tail.
func (n *Normalizer) Normalize(ctx context.Context, path string) (*Buffer, error) {
	samples, format, err := n.Load(ctx, path)
	if err != nil {
		n.metrics.RecordAudioLoadFailure()
		return nil, err
	}

	keep := samples
	if limit := n.config.ClipSeconds * SampleRate; len(keep) > limit {
		keep = keep[:limit]
	}

	buf := &Buffer{
		Samples:       PadOrTrim(keep, NumSamples),
		SampleRate:    SampleRate,
		SourceSamples: len(samples),
		Format:        format,
		Path:          path,
	}
	n.metrics.RecordAudioLoaded(buf.SourceDuration().Seconds())

	n.logger.Debug("Audio normalized",
		slog.String("path", path),
		slog.String("format", format.String()),
		slog.Duration("source_duration", buf.SourceDuration()),
		slog.Bool("truncated", buf.Truncated()))

	return buf, nil
}

// Load decodes path to mono float32 at SampleRate without padding.
func (n *Normalizer) Load(ctx context.Context, path string) ([]float32, Format, error) {
	format, err := DetectFileFormat(path)
	if err != nil {
		return nil, FormatUnknown, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	var samples []float32
	switch format {
	case FormatWAV:
		samples, err = decodeWAVFile(path)
	case FormatMP3:
		samples, err = decodeMP3File(path)
	default:
		samples, err = n.decodeFFmpeg(ctx, path)
	}
	if err != nil {
		return nil, format, fmt.Errorf("%w: %s (%s): %w", ErrLoad, path, format, err)
	}
	if len(samples) == 0 {
		return nil, format, fmt.Errorf("%w: %s (%s): no audio samples decoded", ErrLoad, path, format)
	}

	return samples, format, nil
}

// decodeWAVFile reads PCM WAV of any rate, 8 to 32 bits, mono or stereo.
func decodeWAVFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("read wav format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return nil, fmt.Errorf("unsupported wav encoding %d (only PCM is supported)", format.AudioFormat)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", format.NumChannels)
	}
	if format.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	var scale float32
	var offset int
	switch format.BitsPerSample {
	case 8:
		// 8-bit WAV is unsigned
		scale, offset = 128, 128
	case 16, 24, 32:
		scale = float32(int64(1) << (format.BitsPerSample - 1))
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", format.BitsPerSample)
	}

	channels := int(format.NumChannels)
	var mono []float32
	for {
		batch, err := reader.ReadSamples(4096)
		for _, s := range batch {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += float32(reader.IntValue(s, uint(c))-offset) / scale
			}
			mono = append(mono, sum/float32(channels))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
	}

	return Resample(mono, int(format.SampleRate), SampleRate), nil
}

// decodeMP3File decodes MPEG audio; go-mp3 always yields 16-bit LE stereo.
func decodeMP3File(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("open mp3 stream: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	stereo := PCM16ToFloat32(raw)
	return Resample(Downmix(stereo, 2), dec.SampleRate(), SampleRate), nil
}

// decodeFFmpeg pipes the file through ffmpeg to mono s16le at SampleRate.
func (n *Normalizer) decodeFFmpeg(ctx context.Context, path string) ([]float32, error) {
	if n.config.DecodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.DecodeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, n.config.FFmpegPath,
		"-nostdin",
		"-threads", "0",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	n.logger.Debug("Executing ffmpeg", slog.String("command", cmd.String()))

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), lastLine(stderr.String()))
		}
		return nil, fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	return PCM16ToFloat32(out), nil
}

// PCM16ToFloat32 converts little-endian signed 16-bit PCM to floats in [-1, 1).
func PCM16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
