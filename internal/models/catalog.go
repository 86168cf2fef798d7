package models

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kodexArg/telegram-voice-to-text/internal/transcription"
)

// DefaultBaseURL is the Hugging Face Hub host.
const DefaultBaseURL = "https://huggingface.co"

// File maps a path in the remote repo to the name the engine loads.
type File struct {
	Remote string
	Local  string
	SHA256 string // empty skips verification
}

// Model describes a downloadable Whisper export.
type Model struct {
	Name     string
	Repo     string
	Revision string
	Files    []File
}

func whisperONNX(name string) Model {
	return Model{
		Name:     name,
		Repo:     "onnx-community/whisper-" + name,
		Revision: "main",
		Files: []File{
			{Remote: "onnx/encoder_model.onnx", Local: transcription.EncoderFile},
			{Remote: "onnx/decoder_model.onnx", Local: transcription.DecoderFile},
			{Remote: "tokenizer.json", Local: transcription.TokenizerFile},
		},
	}
}

var catalog = map[string]Model{
	"tiny":  whisperONNX("tiny"),
	"base":  whisperONNX("base"),
	"small": whisperONNX("small"),
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Model, error) {
	m, ok := catalog[name]
	if !ok {
		return Model{}, fmt.Errorf("unknown model %q (available: %v)", name, Names())
	}
	return m, nil
}

// Names lists the catalog in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dir returns where the files of m live under base.
func (m Model) Dir(base string) string {
	return filepath.Join(base, m.Name)
}
