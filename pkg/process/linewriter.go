package process

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineBytes bounds the buffered partial line. A longer run without a
// newline is delivered as one line.
const maxLineBytes = 64 * 1024

// lineWriter is an io.Writer that calls fn once per newline-terminated line.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(string)
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		w.fn(line)
	}
	if len(w.buf) >= maxLineBytes {
		line := string(w.buf)
		w.buf = w.buf[:0]
		w.fn(line)
	}
	return len(p), nil
}

// Flush delivers any trailing text that was not newline-terminated.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) == 0 {
		return
	}
	line := strings.TrimSuffix(string(w.buf), "\r")
	w.buf = nil
	w.fn(line)
}
