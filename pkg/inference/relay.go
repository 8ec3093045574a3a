package inference

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

// Records iterates over a stream until its Done record. A stream that
// ends with io.EOF before a Done record yields a synthetic final record
// with Truncated set. Any other error is yielded once and ends the
// sequence.
func Records(stream Stream) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				yield(&Record{Done: true, Truncated: true}, nil)
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) || rec.Done {
				return
			}
		}
	}
}

// RelayResult summarizes one relayed reply.
type RelayResult struct {
	// Text is the full reply as received.
	Text string

	// Units is the number of units emitted.
	Units int

	// Truncated is set when the stream ended without completing.
	Truncated bool

	// FirstDelta is the time from Relay start to the first non-empty delta.
	FirstDelta time.Duration
}

// Relay feeds every delta from stream into seg and passes each emitted
// unit to emit, in order, from the calling goroutine. When the stream
// completes, or ends early, the remainder is finalized and emitted.
//
// An error from the stream or from emit ends the relay and is returned
// with the partial result. The stream is not closed.
func Relay(ctx context.Context, stream Stream, seg *segment.Segmenter, emit func(segment.Unit) error) (RelayResult, error) {
	var res RelayResult
	var text strings.Builder
	start := time.Now()

	for rec, err := range Records(stream) {
		if err != nil {
			res.Text = text.String()
			return res, err
		}
		if err := ctx.Err(); err != nil {
			res.Text = text.String()
			return res, err
		}

		if rec.Delta != "" {
			if res.FirstDelta == 0 {
				res.FirstDelta = time.Since(start)
			}
			text.WriteString(rec.Delta)
			if u, ok := seg.Feed(rec.Delta); ok {
				if err := emit(u); err != nil {
					res.Text = text.String()
					return res, err
				}
				res.Units++
			}
		}

		if rec.Done {
			res.Truncated = rec.Truncated
			if u, ok := seg.Finalize(); ok {
				if err := emit(u); err != nil {
					res.Text = text.String()
					return res, err
				}
				res.Units++
			}
		}
	}

	res.Text = text.String()
	return res, nil
}
