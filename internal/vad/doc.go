// Package vad provides an energy based voice activity detector.
// It splits a clip into fixed windows, marks windows whose RMS level
// crosses a threshold and groups them into speech segments.
package vad
