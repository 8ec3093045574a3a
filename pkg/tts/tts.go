// Package tts delivers utterance units to a speech synthesizer.
//
// The synthesizer is an external process (Piper) that reads one line of
// text per utterance on stdin and writes raw PCM to stdout, which is
// piped straight into a playback process (aplay). All units for a session
// pass through one Sink, one at a time, in the order they were produced.
//
// Example usage:
//
//	sink, _ := tts.NewPiper(ctx,
//	    tts.WithModel("en_GB-cori-medium.onnx"),
//	    tts.WithStderrLog(logFile),
//	)
//	defer sink.Close()
//
//	sink.Accept(ctx, segment.Unit{Text: "Hello world."})
package tts

import (
	"context"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

// Sink accepts utterance units for synthesis.
type Sink interface {
	// Accept writes one unit and returns once the synthesizer has it.
	// A dead synthesizer is reported as a process.BrokenPipeError.
	Accept(ctx context.Context, u segment.Unit) error

	// Close stops the synthesizer, letting queued audio finish within
	// the grace period.
	Close() error
}

// Restarter is implemented by sinks that can relaunch a dead synthesizer.
type Restarter interface {
	Restart(ctx context.Context) error
}
