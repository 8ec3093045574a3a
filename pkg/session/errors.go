package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session: already running")

	// ErrNotRunning is returned by Submit when no session is running.
	ErrNotRunning = errors.New("session: not running")

	// ErrNoProvider is returned when no inference provider is configured.
	ErrNoProvider = errors.New("session: inference provider is required")

	// ErrNoSink is returned when no synthesis sink is configured.
	ErrNoSink = errors.New("session: synthesis sink is required")

	// ErrNoRecognizer is returned in voice mode without a recognizer.
	ErrNoRecognizer = errors.New("session: recognizer is required in voice mode")

	// ErrUnknownState is returned when decoding an unknown state name.
	ErrUnknownState = errors.New("session: unknown state")

	// ErrUnknownSendMode is returned by ParseSendMode.
	ErrUnknownSendMode = errors.New("session: unknown send mode")

	// ErrEmptyTranscript rejects a send with nothing recognized.
	ErrEmptyTranscript = errors.New("session: nothing to send")

	// ErrBusy rejects a prompt while a reply is in progress.
	ErrBusy = errors.New("session: reply in progress")

	// ErrEmptyInput rejects a blank prompt.
	ErrEmptyInput = errors.New("session: empty input")

	// ErrInferenceUnavailable ends a session after repeated inference failures.
	ErrInferenceUnavailable = errors.New("session: inference service unavailable")

	// ErrRecognizerStopped ends a session whose recognizer gave up.
	ErrRecognizerStopped = errors.New("session: recognizer stopped")
)

// SinkError reports a synthesizer that could not be recovered.
type SinkError struct {
	Unit int
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("session: synthesizer failed at unit %d: %v", e.Unit, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// RejectedError reports operator input that was refused. The session
// state is unchanged.
type RejectedError struct {
	Input string
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session: rejected %q: %v", e.Input, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}
