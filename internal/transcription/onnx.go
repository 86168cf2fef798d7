package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/kodexArg/telegram-voice-to-text/internal/audio"
)

// Model file names inside {model_dir}/{model}/.
const (
	EncoderFile   = "encoder_model.onnx"
	DecoderFile   = "decoder_model.onnx"
	TokenizerFile = "tokenizer.json"
)

// Whisper special tokens.
const (
	tokenSOT          = "<|startoftranscript|>"
	tokenEOT          = "<|endoftext|>"
	tokenNoTimestamps = "<|notimestamps|>"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per process.
func ensureOrtEnv(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = os.Getenv("ONNXRUNTIME_LIB")
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}

		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXConfig locates and tunes the offline Whisper model.
type ONNXConfig struct {
	ModelDir          string
	Model             string
	NumMels           int
	MaxTokens         int
	SharedLibraryPath string
	IntraOpThreads    int
}

// ONNXWhisper runs Whisper encoder and decoder graphs on the CPU with
// greedy decoding.
type ONNXWhisper struct {
	config    ONNXConfig
	encoder   *ort.DynamicAdvancedSession
	decoder   *ort.DynamicAdvancedSession
	tokenizer *tokenizer.Tokenizer
	vocab     map[string]int
	eot       int
	logger    *slog.Logger
}

// NewONNXWhisper loads the model graphs and tokenizer.
func NewONNXWhisper(config ONNXConfig, logger *slog.Logger) (*ONNXWhisper, error) {
	if config.NumMels == 0 {
		config.NumMels = 80
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 224
	}

	dir := filepath.Join(config.ModelDir, config.Model)
	encoderPath := filepath.Join(dir, EncoderFile)
	decoderPath := filepath.Join(dir, DecoderFile)
	tokenizerPath := filepath.Join(dir, TokenizerFile)

	for _, p := range []string{encoderPath, decoderPath, tokenizerPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model file not found: %s (run 'voicebot models download %s' first)", p, config.Model)
		}
	}

	if err := ensureOrtEnv(config.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	tk, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	vocab := tk.GetVocab(true)
	eot, ok := vocab[tokenEOT]
	if !ok {
		return nil, fmt.Errorf("tokenizer has no %s token", tokenEOT)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	threads := config.IntraOpThreads
	if threads <= 0 {
		threads = max(1, runtime.NumCPU()/2)
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	encoder, err := ort.NewDynamicAdvancedSession(encoderPath,
		[]string{"input_features"}, []string{"last_hidden_state"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder session: %w", err)
	}

	decoder, err := ort.NewDynamicAdvancedSession(decoderPath,
		[]string{"input_ids", "encoder_hidden_states"}, []string{"logits"}, options)
	if err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("failed to create decoder session: %w", err)
	}

	logger.Info("Loaded ONNX Whisper model",
		slog.String("model", config.Model),
		slog.String("dir", dir),
		slog.Int("threads", threads))

	return &ONNXWhisper{
		config:    config,
		encoder:   encoder,
		decoder:   decoder,
		tokenizer: tk,
		vocab:     vocab,
		eot:       eot,
		logger:    logger,
	}, nil
}

// Name returns the engine name
func (w *ONNXWhisper) Name() string {
	return "onnx:" + w.config.Model
}

// Transcribe encodes the window once and decodes tokens greedily.
func (w *ONNXWhisper) Transcribe(ctx context.Context, buf *audio.Buffer, opts Options) (string, error) {
	if opts.FP16 {
		return "", fmt.Errorf("half precision is not supported by the CPU runtime")
	}

	prompt, err := w.prompt(opts)
	if err != nil {
		return "", err
	}

	features, frames, err := LogMelSpectrogram(audio.PadOrTrim(buf.Samples, audio.NumSamples), w.config.NumMels)
	if err != nil {
		return "", fmt.Errorf("feature extraction failed: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(w.config.NumMels), int64(frames)), features)
	if err != nil {
		return "", fmt.Errorf("failed to create feature tensor: %w", err)
	}
	defer input.Destroy()

	encoded := []ort.Value{nil}
	if err := w.encoder.Run([]ort.Value{input}, encoded); err != nil {
		return "", fmt.Errorf("encoder run failed: %w", err)
	}
	hidden := encoded[0]
	defer hidden.Destroy()

	tokens := append([]int64(nil), prompt...)
	var textIDs []int

	for step := 0; step < w.config.MaxTokens; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		next, err := w.decodeStep(tokens, hidden)
		if err != nil {
			return "", err
		}
		if next == w.eot {
			break
		}
		tokens = append(tokens, int64(next))
		textIDs = append(textIDs, next)
	}

	return w.tokenizer.Decode(textIDs, true), nil
}

// decodeStep runs the decoder over the full token sequence and picks the
// next token from the last position.
func (w *ONNXWhisper) decodeStep(tokens []int64, hidden ort.Value) (int, error) {
	ids, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to create token tensor: %w", err)
	}
	defer ids.Destroy()

	outputs := []ort.Value{nil}
	if err := w.decoder.Run([]ort.Value{ids, hidden}, outputs); err != nil {
		return 0, fmt.Errorf("decoder run failed: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected logits type %T", outputs[0])
	}

	shape := logits.GetShape()
	if len(shape) != 3 {
		return 0, fmt.Errorf("unexpected logits shape %v", shape)
	}
	vocabSize := int(shape[2])
	data := logits.GetData()
	last := data[len(data)-vocabSize:]

	return greedyToken(last, w.eot), nil
}

// prompt builds <|startoftranscript|><|lang|><|transcribe|><|notimestamps|>.
func (w *ONNXWhisper) prompt(opts Options) ([]int64, error) {
	task := opts.Task
	if task == "" {
		task = TaskTranscribe
	}
	names := []string{
		tokenSOT,
		"<|" + opts.Language + "|>",
		"<|" + task + "|>",
		tokenNoTimestamps,
	}
	ids := make([]int64, len(names))
	for i, name := range names {
		id, ok := w.vocab[name]
		if !ok {
			return nil, fmt.Errorf("tokenizer has no %s token", name)
		}
		ids[i] = int64(id)
	}
	return ids, nil
}

// Close releases the ONNX sessions
func (w *ONNXWhisper) Close() error {
	var firstErr error
	if w.encoder != nil {
		firstErr = w.encoder.Destroy()
		w.encoder = nil
	}
	if w.decoder != nil {
		if err := w.decoder.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.decoder = nil
	}
	return firstErr
}

// greedyToken returns the highest scoring id among text tokens and the
// end-of-text token. Ids above eot are special or timestamp tokens and
// never chosen.
func greedyToken(logits []float32, eot int) int {
	limit := eot + 1
	if limit > len(logits) {
		limit = len(logits)
	}
	best := 0
	for i := 1; i < limit; i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return best
}
