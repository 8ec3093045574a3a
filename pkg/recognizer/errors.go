package recognizer

import "errors"

var (
	// ErrNoCommand is returned when no recognizer command is configured.
	ErrNoCommand = errors.New("recognizer: command required")

	// ErrInvalidRetries is returned for a negative retry count.
	ErrInvalidRetries = errors.New("recognizer: max retries must not be negative")

	// ErrRetriesExhausted is returned by Run after too many consecutive failures.
	ErrRetriesExhausted = errors.New("recognizer: retries exhausted")
)
