// Package segment splits a streamed reply into speakable units.
//
// Text fragments are accumulated until a fragment carries a boundary
// punctuation mark; the whole buffer is then emitted as one Unit. Short
// units let playback start before generation finishes, at the cost of the
// occasional mid-clause break.
package segment

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects a boundary punctuation set.
type Mode int

const (
	// Minimal splits on sentence terminators only.
	Minimal Mode = iota

	// Extended also splits on clause punctuation.
	Extended
)

// Boundary sets.
const (
	MinimalBoundaries  = ".?!"
	ExtendedBoundaries = ".?!,;:"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("segment: unknown mode")

// ParseMode parses "minimal" or "extended".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal, nil
	case "extended":
		return Extended, nil
	}
	return Minimal, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Minimal:
		return "minimal"
	case Extended:
		return "extended"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Boundaries returns the punctuation set for the mode.
func (m Mode) Boundaries() string {
	if m == Extended {
		return ExtendedBoundaries
	}
	return MinimalBoundaries
}

// Unit is one emitted chunk of synthesizable text. Text is not trimmed.
type Unit struct {
	Index int
	Text  string
}

// Segmenter accumulates fragments and emits units. It is not safe for
// concurrent use; one reply is segmented by one goroutine.
type Segmenter struct {
	boundaries string
	buf        strings.Builder
	next       int
}

// New returns a Segmenter for mode.
func New(mode Mode) *Segmenter {
	return NewWithBoundaries(mode.Boundaries())
}

// NewWithBoundaries returns a Segmenter that splits on any rune in chars.
func NewWithBoundaries(chars string) *Segmenter {
	return &Segmenter{boundaries: chars}
}

// Feed appends delta. When delta contains a boundary character the whole
// buffer is flushed as a single unit, however many boundaries it holds.
func (s *Segmenter) Feed(delta string) (Unit, bool) {
	if delta == "" {
		return Unit{}, false
	}
	s.buf.WriteString(delta)
	if !strings.ContainsAny(delta, s.boundaries) {
		return Unit{}, false
	}
	return s.flush()
}

// Finalize flushes the remainder as a last unit. An empty or
// whitespace-only remainder is dropped, so calling Finalize twice is safe.
func (s *Segmenter) Finalize() (Unit, bool) {
	return s.flush()
}

// Pending returns the buffered text not yet emitted.
func (s *Segmenter) Pending() string {
	return s.buf.String()
}

// Reset discards buffered text and restarts unit numbering.
func (s *Segmenter) Reset() {
	s.buf.Reset()
	s.next = 0
}

func (s *Segmenter) flush() (Unit, bool) {
	text := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return Unit{}, false
	}
	u := Unit{Index: s.next, Text: text}
	s.next++
	return u, true
}
