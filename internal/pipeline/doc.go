// Package pipeline turns inbound chat messages into transcripts.
//
// Each event runs on its own goroutine through a forward-only state machine:
//
//	Received -> Located -> Downloading -> Downloaded -> Normalizing ->
//	Transcribing -> Delivering -> Done
//
// with Failed(reason) reachable from any active state and Skipped reachable
// only from Received when the message carries no audio. A failed run is
// recorded on its Outcome and in metrics; it never affects other runs.
package pipeline
