package download

import (
	"context"
	"errors"
	"net"
	"os"
)

var (
	// ErrTransient marks a fetch fault that may succeed if retried:
	// timeouts, connection resets, 5xx and rate limiting.
	ErrTransient = errors.New("transient fetch error")

	// ErrPermanent marks a fetch fault that will not succeed if retried:
	// unknown file, expired reference, oversized media.
	ErrPermanent = errors.New("permanent fetch error")

	// ErrRejected is returned when a permanent fault ends the task after one attempt.
	ErrRejected = errors.New("download rejected")

	// ErrExhausted is returned when every attempt ended in a transient fault.
	ErrExhausted = errors.New("download attempts exhausted")
)

// FetchError wraps an underlying fetch failure with its retry classification.
type FetchError struct {
	Err       error
	Retryable bool
}

func (e *FetchError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes both the classification sentinel and the cause.
func (e *FetchError) Unwrap() []error {
	kind := ErrPermanent
	if e.Retryable {
		kind = ErrTransient
	}
	return []error{kind, e.Err}
}

// Transient classifies err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Err: err, Retryable: true}
}

// Permanent classifies err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Err: err, Retryable: false}
}

// IsTransient reports whether err should be retried. Explicit
// classification wins; unclassified network timeouts and deadline
// expiry count as transient, everything else as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
