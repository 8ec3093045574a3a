package inference

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// GenerateFunc is called when Generate is invoked.
	GenerateFunc func(ctx context.Context, req *Request) (Stream, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	// NameOverride replaces the default name "mock".
	NameOverride string

	mu       sync.Mutex
	calls    []MockCall
	requests []Request
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock provider that streams reply word by word.
func NewMock(reply string) *Mock {
	return &Mock{
		GenerateFunc: func(ctx context.Context, req *Request) (Stream, error) {
			return NewScriptedStream(Words(reply)...), nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Name returns "mock" unless overridden.
func (m *Mock) Name() string {
	if m.NameOverride != "" {
		return m.NameOverride
	}
	return "mock"
}

// Generate calls GenerateFunc and records the call and request.
func (m *Mock) Generate(ctx context.Context, req *Request) (Stream, error) {
	m.record("Generate")
	if req != nil {
		m.mu.Lock()
		m.requests = append(m.requests, *req)
		m.mu.Unlock()
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return nil, WrapError(m.Name(), ErrProviderUnavailable)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// record adds a call to the tracking list.
func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Requests returns every request passed to Generate.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Request, len(m.requests))
	copy(result, m.requests)
	return result
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.requests = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		GenerateFunc: func(ctx context.Context, req *Request) (Stream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Words splits text into word-sized deltas the way token streams arrive:
// each delta after the first keeps its leading space.
func Words(text string) []string {
	fields := strings.Fields(text)
	for i := 1; i < len(fields); i++ {
		fields[i] = " " + fields[i]
	}
	return fields
}

// ScriptedStream replays fixed records.
type ScriptedStream struct {
	records []Record
	err     error
	pos     int
	closed  bool
}

// NewScriptedStream returns a stream yielding one record per delta
// followed by a Done record.
func NewScriptedStream(deltas ...string) *ScriptedStream {
	records := make([]Record, 0, len(deltas)+1)
	for _, d := range deltas {
		records = append(records, Record{Delta: d})
	}
	records = append(records, Record{Done: true})
	return &ScriptedStream{records: records}
}

// NewRecordStream returns a stream yielding exactly records, then err
// (io.EOF when err is nil).
func NewRecordStream(err error, records ...Record) *ScriptedStream {
	return &ScriptedStream{records: records, err: err}
}

// Recv returns the next scripted record.
func (s *ScriptedStream) Recv() (*Record, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.pos >= len(s.records) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return &r, nil
}

// Close marks the stream closed.
func (s *ScriptedStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *ScriptedStream) Closed() bool {
	return s.closed
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
