// Package transcription turns normalized audio into text.
//
// The Adapter is the pipeline's only entry point: it fixes the language
// and precision, serializes engine calls and maps every engine failure to
// ErrTranscription. Engines are loaded once through a ModelCache. The
// default engine runs Whisper ONNX graphs in process; whisper-server and
// openai engines call a local inference server over HTTP.
package transcription
