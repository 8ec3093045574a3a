package control

import "errors"

var (
	// ErrUnknownCommand is returned by Parse for unrecognized input.
	ErrUnknownCommand = errors.New("control: unknown command")

	// ErrNotFIFO is returned when the channel path exists but is not a named pipe.
	ErrNotFIFO = errors.New("control: path is not a named pipe")

	// ErrNoChannel is returned by Send when the channel file does not exist.
	ErrNoChannel = errors.New("control: channel does not exist")
)
