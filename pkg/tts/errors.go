package tts

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNoModel is returned when the voice model path is missing.
	ErrNoModel = errors.New("tts: voice model required")

	// ErrNoBinary is returned when the synthesizer binary is missing.
	ErrNoBinary = errors.New("tts: synthesizer binary required")

	// ErrClosed is returned by Accept after Close.
	ErrClosed = errors.New("tts: sink closed")
)
