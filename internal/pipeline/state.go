package pipeline

import (
	"fmt"
	"time"
)

// State is a step of a pipeline run. Runs only move forward.
type State int

const (
	StateReceived State = iota
	StateLocated
	StateDownloading
	StateDownloaded
	StateNormalizing
	StateTranscribing
	StateDelivering
	StateDone
	StateFailed
	StateSkipped
)

var stateNames = map[State]string{
	StateReceived:     "received",
	StateLocated:      "located",
	StateDownloading:  "downloading",
	StateDownloaded:   "downloaded",
	StateNormalizing:  "normalizing",
	StateTranscribing: "transcribing",
	StateDelivering:   "delivering",
	StateDone:         "done",
	StateFailed:       "failed",
	StateSkipped:      "skipped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped
}

// canMove reports whether a run in s may move to next.
func (s State) canMove(next State) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateSkipped:
		return s == StateReceived
	case StateFailed:
		return true
	default:
		return next > s
	}
}

// Reason explains why a run failed.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoAudio           Reason = "no_audio_present"
	ReasonDownloadRejected  Reason = "download_rejected"
	ReasonDownloadExhausted Reason = "download_exhausted"
	ReasonAudioLoad         Reason = "audio_load_error"
	ReasonTranscription     Reason = "transcription_error"
	ReasonDelivery          Reason = "delivery_error"
	ReasonCanceled          Reason = "canceled"
	ReasonInternal          Reason = "internal_error"
)

// Transition records when a run entered a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Outcome is the record of one pipeline run.
type Outcome struct {
	EventID        string        `json:"event_id"`
	UpdateID       int           `json:"update_id"`
	ConversationID int64         `json:"conversation_id"`
	MessageID      int           `json:"message_id"`
	Kind           MessageKind   `json:"kind"`
	State          State         `json:"state"`
	Reason         Reason        `json:"reason,omitempty"`
	Err            error         `json:"-"`
	Error          string        `json:"error,omitempty"`
	Path           string        `json:"path,omitempty"`
	Attempts       int           `json:"download_attempts,omitempty"`
	Text           string        `json:"text,omitempty"`
	Delivered      bool          `json:"delivered"`
	Transitions    []Transition  `json:"transitions"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
}

// Label is the metrics label of a finished run.
func (o *Outcome) Label() string {
	switch o.State {
	case StateFailed:
		return string(o.Reason)
	default:
		return o.State.String()
	}
}

// stageReason is the failure reason of a fault raised while in state s.
func stageReason(s State) Reason {
	switch s {
	case StateDownloading:
		return ReasonDownloadRejected
	case StateDownloaded, StateNormalizing:
		return ReasonAudioLoad
	case StateTranscribing:
		return ReasonTranscription
	case StateDelivering:
		return ReasonDelivery
	default:
		return ReasonInternal
	}
}

// advance moves the run to next, ignoring backward moves.
func (o *Outcome) advance(next State) bool {
	if !o.State.canMove(next) {
		return false
	}
	o.State = next
	o.Transitions = append(o.Transitions, Transition{State: next, At: time.Now()})
	return true
}

func (o *Outcome) fail(reason Reason, err error) {
	if o.advance(StateFailed) {
		o.Reason = reason
		o.Err = err
		if err != nil {
			o.Error = err.Error()
		}
	}
}

// clone returns a copy safe to hand to other goroutines.
func (o *Outcome) clone() Outcome {
	c := *o
	c.Transitions = append([]Transition(nil), o.Transitions...)
	return c
}
