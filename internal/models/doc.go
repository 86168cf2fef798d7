// Package models downloads Whisper ONNX exports for the offline engine.
//
// Files are flattened into {model_dir}/{name}/ under the names the engine
// expects, and skipped when already present with a matching SHA-256.
package models
