package tts

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

// Recorder is a Sink that keeps every accepted unit. It stands in for
// the synthesizer in text-only sessions and in tests.
type Recorder struct {
	// AcceptFunc, when set, is called before the unit is recorded. An
	// error rejects the unit.
	AcceptFunc func(ctx context.Context, u segment.Unit) error

	// Echo, when set, receives each unit's text as it is accepted.
	Echo io.Writer

	mu     sync.Mutex
	units  []segment.Unit
	closed bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Accept records u.
func (r *Recorder) Accept(ctx context.Context, u segment.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.AcceptFunc != nil {
		if err := r.AcceptFunc(ctx, u); err != nil {
			return err
		}
	}
	r.units = append(r.units, u)
	if r.Echo != nil {
		fmt.Fprint(r.Echo, u.Text)
	}
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Units returns a copy of the accepted units.
func (r *Recorder) Units() []segment.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]segment.Unit, len(r.units))
	copy(out, r.units)
	return out
}

// Texts returns the text of each accepted unit.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.units))
	for i, u := range r.units {
		out[i] = u.Text
	}
	return out
}

// Reset clears recorded units and reopens the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = nil
	r.closed = false
}

// Verify Recorder implements Sink at compile time.
var _ Sink = (*Recorder)(nil)
