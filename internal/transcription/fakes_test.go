package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records calls and returns a fixed text.
type fakeEngine struct {
	text  string
	err   error
	panic bool
	delay time.Duration

	mu       sync.Mutex
	calls    int
	lastOpts Options
	active   int32
	peak     int32
	closed   bool
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Transcribe(ctx context.Context, buf *audio.Buffer, opts Options) (string, error) {
	n := atomic.AddInt32(&e.active, 1)
	defer atomic.AddInt32(&e.active, -1)
	for {
		peak := atomic.LoadInt32(&e.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&e.peak, peak, n) {
			break
		}
	}

	e.mu.Lock()
	e.calls++
	e.lastOpts = opts
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.panic {
		panic("model exploded")
	}
	return e.text, e.err
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func staticLoader(e Engine) Loader {
	return func(ctx context.Context) (Engine, error) {
		return e, nil
	}
}

var errLoadFailed = errors.New("model file missing")

func testBuffer(v float32) *audio.Buffer {
	samples := make([]float32, audio.NumSamples)
	for i := 0; i < audio.SampleRate; i++ {
		samples[i] = v
	}
	return &audio.Buffer{Samples: samples, SampleRate: audio.SampleRate, SourceSamples: audio.SampleRate}
}
