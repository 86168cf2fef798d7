package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
	"github.com/kodexArg/telegram-voice-to-text/internal/download"
	"github.com/kodexArg/telegram-voice-to-text/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// fetcher serves payloads by file id and fails the first failures[id] calls.
type fetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	failures map[string][]error
	calls    map[string]int
}

func newFetcher() *fetcher {
	return &fetcher{
		payloads: make(map[string][]byte),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *fetcher) Fetch(ctx context.Context, ref download.FileRef) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ref.FileID]++
	if errs := f.failures[ref.FileID]; len(errs) > 0 {
		f.failures[ref.FileID] = errs[1:]
		return nil, errs[0]
	}
	data, ok := f.payloads[ref.FileID]
	if !ok {
		return nil, download.Permanent(fmt.Errorf("file %s not found", ref.FileID))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fetcher) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeClock struct {
	mu    sync.Mutex
	total time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.total += d
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// engine answers with the text keyed by the first sample level in sixteenths.
type engine struct {
	texts map[int]string
	err   error
}

func (e *engine) Name() string { return "fake" }

func (e *engine) Transcribe(ctx context.Context, buf *audio.Buffer, opts transcription.Options) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.texts[level(buf.Samples[0])], nil
}

func (e *engine) Close() error { return nil }

func level(v float32) int {
	return int(math.Round(float64(v) * 16))
}

// recorder collects emitted transcripts.
type recorder struct {
	mu    sync.Mutex
	sent  []TranscriptResult
	err   error
	panic bool
}

func (r *recorder) Emit(ctx context.Context, result TranscriptResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		panic("send exploded")
	}
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, result)
	return nil
}

func (r *recorder) Sent() []TranscriptResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscriptResult(nil), r.sent...)
}

type harness struct {
	pipeline *Pipeline
	fetcher  *fetcher
	clock    *fakeClock
	engine   *engine
	emitter  *recorder
	dir      string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		fetcher: newFetcher(),
		clock:   &fakeClock{},
		engine:  &engine{texts: map[int]string{}},
		emitter: &recorder{},
		dir:     t.TempDir(),
	}
	logger := testLogger()

	dl := download.NewDownloader(h.fetcher, download.DefaultConfig(), logger,
		download.WithSleeper(h.clock.Sleep))
	norm := audio.NewNormalizer(audio.NormalizerConfig{
		FFmpegPath:    filepath.Join(h.dir, "no-ffmpeg"),
		DecodeTimeout: time.Second,
		ClipSeconds:   audio.ChunkSeconds,
	}, logger, nil)
	cache := transcription.NewModelCache(func(ctx context.Context) (transcription.Engine, error) {
		return h.engine, nil
	}, logger, nil)
	adapter := transcription.NewAdapter(cache, transcription.AdapterConfig{Language: "es", Serialize: true}, logger)

	cfg.AudioDir = filepath.Join(h.dir, "audios")
	h.pipeline = New(cfg, dl, norm, adapter, h.emitter, logger)
	return h
}

// voice registers a one second WAV clip filled with v under id.
func (h *harness) voice(t *testing.T, id string, v float32) InboundAudioEvent {
	t.Helper()
	samples := make([]float32, audio.SampleRate)
	for i := range samples {
		samples[i] = v
	}
	data, err := audio.EncodeWAV(samples, audio.SampleRate)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	h.fetcher.mu.Lock()
	h.fetcher.payloads[id] = data
	h.fetcher.mu.Unlock()
	return voiceEvent(id)
}

func voiceEvent(id string) InboundAudioEvent {
	return InboundAudioEvent{
		UpdateID:       1,
		ConversationID: 42,
		MessageID:      7,
		Kind:           KindVoice,
		File:           &download.FileRef{FileID: id, UniqueID: "u-" + id},
		ReceivedAt:     time.Now(),
	}
}

func states(o Outcome) []State {
	out := make([]State, len(o.Transitions))
	for i, tr := range o.Transitions {
		out[i] = tr.State
	}
	return out
}

func TestProcessDeliversTranscript(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)
	h.engine.texts[level(0.25)] = "hola"

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateDone)
	is.True(out.Delivered)
	is.Equal(out.Attempts, 1)
	is.Equal(out.Text, "hola")
	is.Equal(out.Reason, ReasonNone)
	is.True(out.EventID != "")
	is.Equal(states(out), []State{
		StateReceived, StateLocated, StateDownloading, StateDownloaded,
		StateNormalizing, StateTranscribing, StateDelivering, StateDone,
	})

	sent := h.emitter.Sent()
	is.Equal(len(sent), 1)
	is.Equal(sent[0], TranscriptResult{ConversationID: 42, ReplyToMessageID: 7, Text: "hola", Language: "es"})

	_, err := os.Stat(filepath.Join(h.dir, "audios", "u-f1.ogg"))
	is.NoErr(err) // file kept by default
}

func TestProcessRecoversAfterTransientFailures(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)
	h.engine.texts[level(0.25)] = "hola"
	h.fetcher.failures["f1"] = []error{timeoutErr{}, timeoutErr{}}

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateDone)
	is.Equal(out.Attempts, 3)
	is.Equal(h.clock.Total(), 10*time.Second)
	is.Equal(len(h.emitter.Sent()), 1)
}

func TestProcessDownloadExhausted(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)
	h.fetcher.failures["f1"] = []error{
		timeoutErr{}, timeoutErr{}, timeoutErr{}, timeoutErr{}, timeoutErr{},
	}

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonDownloadExhausted)
	is.Equal(out.Attempts, 5)
	is.Equal(h.fetcher.Calls("f1"), 5)
	is.Equal(h.clock.Total(), 25*time.Second)
	is.True(errors.Is(out.Err, download.ErrExhausted))
	is.Equal(len(h.emitter.Sent()), 0)

	_, err := os.Stat(filepath.Join(h.dir, "audios", "u-f1.ogg"))
	is.True(errors.Is(err, os.ErrNotExist))
}

func TestProcessDownloadRejected(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})

	out := h.pipeline.Process(context.Background(), voiceEvent("missing"))

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonDownloadRejected)
	is.Equal(out.Attempts, 1)
	is.Equal(h.clock.Total(), time.Duration(0))
	is.True(errors.Is(out.Err, download.ErrRejected))
}

func TestProcessSkipsNonAudio(t *testing.T) {
	tests := []struct {
		name string
		ev   InboundAudioEvent
	}{
		{"text", InboundAudioEvent{Kind: KindText, ConversationID: 1}},
		{"other", InboundAudioEvent{Kind: KindOther, ConversationID: 1}},
		{"voice without file", InboundAudioEvent{Kind: KindVoice, ConversationID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			h := newHarness(t, Config{})

			out := h.pipeline.Process(context.Background(), tt.ev)

			is.Equal(out.State, StateSkipped)
			is.Equal(out.Reason, ReasonNoAudio)
			is.Equal(states(out), []State{StateReceived, StateSkipped})
			is.Equal(len(h.fetcher.calls), 0)
			is.Equal(len(h.emitter.Sent()), 0)
		})
	}
}

func TestProcessAudioLoadError(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	h.fetcher.payloads["f1"] = []byte("definitely not audio")

	out := h.pipeline.Process(context.Background(), voiceEvent("f1"))

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonAudioLoad)
	is.True(errors.Is(out.Err, audio.ErrLoad))
	is.Equal(len(h.emitter.Sent()), 0)
}

func TestProcessTranscriptionError(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)
	h.engine.err = errors.New("decoder crashed")

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonTranscription)
	is.True(errors.Is(out.Err, transcription.ErrTranscription))
	is.Equal(len(h.emitter.Sent()), 0)
}

func TestProcessDeliveryError(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)
	h.engine.texts[level(0.25)] = "hola"
	h.emitter.err = errors.New("chat not found")

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonDelivery)
	is.True(errors.Is(out.Err, ErrDelivery))
	is.True(!out.Delivered)
}

func TestProcessPanicFailsWithStageReason(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)
	h.engine.texts[level(0.25)] = "hola"
	h.emitter.panic = true

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonDelivery)
	is.True(out.Err != nil)
	is.True(out.Duration > 0)

	stats := h.pipeline.Tracker().Stats()
	is.Equal(stats.Active, 0)
	is.Equal(stats.Failed, uint64(1))
	is.Equal(stats.ByReason[string(ReasonDelivery)], 1)
}

func TestStageReason(t *testing.T) {
	tests := []struct {
		state State
		want  Reason
	}{
		{StateReceived, ReasonInternal},
		{StateLocated, ReasonInternal},
		{StateDownloading, ReasonDownloadRejected},
		{StateDownloaded, ReasonAudioLoad},
		{StateNormalizing, ReasonAudioLoad},
		{StateTranscribing, ReasonTranscription},
		{StateDelivering, ReasonDelivery},
	}
	for _, tt := range tests {
		if got := stageReason(tt.state); got != tt.want {
			t.Errorf("Expected %s for %s, got %s", tt.want, tt.state, got)
		}
	}
}

func TestProcessEmptyTranscriptNotSent(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateDone)
	is.True(!out.Delivered)
	is.Equal(len(h.emitter.Sent()), 0)
}

func TestProcessDeletesFileWhenConfigured(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{DeleteAfterProcessing: true})
	ev := h.voice(t, "f1", 0.25)
	h.engine.texts[level(0.25)] = "hola"

	out := h.pipeline.Process(context.Background(), ev)

	is.Equal(out.State, StateDone)
	_, err := os.Stat(out.Path)
	is.True(errors.Is(err, os.ErrNotExist))
}

func TestProcessCanceled(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{})
	ev := h.voice(t, "f1", 0.25)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.pipeline.Process(ctx, ev)

	is.Equal(out.State, StateFailed)
	is.Equal(out.Reason, ReasonCanceled)
	is.Equal(h.fetcher.Calls("f1"), 0)
}

func TestDispatchConcurrentRunsStayIsolated(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, Config{MaxConcurrent: 4})

	const n = 8
	events := make([]InboundAudioEvent, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("f%d", i)
		v := float32(i+1) / 16
		h.engine.texts[level(v)] = "texto " + id
		events[i] = h.voice(t, id, v)
		events[i].ConversationID = int64(100 + i)
		events[i].MessageID = i
	}
	h.fetcher.failures["f3"] = []error{
		timeoutErr{}, timeoutErr{}, timeoutErr{}, timeoutErr{}, timeoutErr{},
	}

	for _, ev := range events {
		h.pipeline.Dispatch(context.Background(), ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	is.NoErr(h.pipeline.Wait(ctx))

	sent := h.emitter.Sent()
	is.Equal(len(sent), n-1)
	for _, r := range sent {
		is.Equal(r.Text, fmt.Sprintf("texto f%d", r.ConversationID-100))
		is.Equal(int64(r.ReplyToMessageID), r.ConversationID-100)
	}

	stats := h.pipeline.Tracker().Stats()
	is.Equal(stats.Total, uint64(n))
	is.Equal(stats.Delivered, uint64(n-1))
	is.Equal(stats.Failed, uint64(1))
	is.Equal(stats.ByReason[string(ReasonDownloadExhausted)], 1)
	is.Equal(stats.Active, 0)
}

func TestStateMovesOnlyForward(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateReceived, StateLocated, true},
		{StateReceived, StateSkipped, true},
		{StateLocated, StateSkipped, false},
		{StateDownloading, StateFailed, true},
		{StateTranscribing, StateDownloaded, false},
		{StateDelivering, StateDone, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateDone, false},
		{StateSkipped, StateLocated, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.canMove(tt.to); got != tt.want {
				t.Errorf("Expected canMove=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestOutcomeFailKeepsFirstReason(t *testing.T) {
	is := is.New(t)
	o := &Outcome{State: StateTranscribing}

	o.fail(ReasonTranscription, errors.New("first"))
	o.fail(ReasonDelivery, errors.New("second"))

	is.Equal(o.Reason, ReasonTranscription)
	is.Equal(o.Error, "first")
	is.Equal(o.Label(), "transcription_error")
}

func TestLocate(t *testing.T) {
	ref := &download.FileRef{FileID: "abc", UniqueID: "u"}
	tests := []struct {
		name    string
		ev      InboundAudioEvent
		wantErr bool
	}{
		{"voice", InboundAudioEvent{Kind: KindVoice, File: ref}, false},
		{"audio", InboundAudioEvent{Kind: KindAudio, File: ref}, false},
		{"text", InboundAudioEvent{Kind: KindText, File: ref}, true},
		{"empty file id", InboundAudioEvent{Kind: KindVoice, File: &download.FileRef{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Locate(tt.ev)
			if tt.wantErr {
				if !errors.Is(err, ErrNoAudioPresent) {
					t.Errorf("Expected ErrNoAudioPresent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != *ref {
				t.Errorf("Expected %+v, got %+v", *ref, got)
			}
		})
	}
}
