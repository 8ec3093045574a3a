package history

import "errors"

var (
	// ErrNilTurn is returned when Append receives a nil turn.
	ErrNilTurn = errors.New("history: nil turn")

	// ErrClosed is returned by a closed store.
	ErrClosed = errors.New("history: store closed")

	// ErrNoDatabaseURL is returned when a Postgres store has no URL.
	ErrNoDatabaseURL = errors.New("history: database URL is required")
)
