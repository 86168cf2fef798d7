// Package audio decodes downloaded media into the fixed-length mono
// buffers the speech model consumes.
//
// WAV and MP3 are decoded in process. Ogg/Opus voice notes and any other
// container go through an ffmpeg subprocess. Every buffer is 16 kHz mono
// float32, zero padded or truncated to a 30 second window.
package audio
