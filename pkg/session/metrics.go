package session

import (
	"sync"
	"time"
)

// Metrics tracks latency for one reply. Durations are measured from the
// moment the prompt was sent.
type Metrics struct {
	SendTime       time.Time `json:"send_time"`
	FirstDeltaTime time.Time `json:"first_delta_time"`
	FirstUnitTime  time.Time `json:"first_unit_time"`
	DoneTime       time.Time `json:"done_time"`

	FirstDelta time.Duration `json:"first_delta"`
	FirstUnit  time.Duration `json:"first_unit"`
	Total      time.Duration `json:"total"`

	Units     int  `json:"units"`
	Truncated bool `json:"truncated"`
	Failed    bool `json:"failed"`
}

// maxHistory is how many turns Average covers.
const maxHistory = 100

// MetricsCollector collects latency metrics across replies.
// It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics
	turns   int
	failed  int

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, maxHistory),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkSend starts a new turn.
func (m *MetricsCollector) MarkSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{SendTime: time.Now()}
}

// MarkFirstDelta records the first streamed text.
func (m *MetricsCollector) MarkFirstDelta() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstDeltaTime.IsZero() {
		m.current.FirstDeltaTime = time.Now()
		m.current.FirstDelta = m.since(m.current.FirstDeltaTime)
		m.notify()
	}
}

// MarkUnit records a unit handed to the synthesizer.
func (m *MetricsCollector) MarkUnit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Units++
	if m.current.FirstUnitTime.IsZero() {
		m.current.FirstUnitTime = time.Now()
		m.current.FirstUnit = m.since(m.current.FirstUnitTime)
		m.notify()
	}
}

// MarkDone closes the turn and archives it.
func (m *MetricsCollector) MarkDone(truncated, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = time.Now()
	m.current.Total = m.since(m.current.DoneTime)
	m.current.Truncated = truncated
	m.current.Failed = failed

	m.turns++
	if failed {
		m.failed++
	}
	m.history = append(m.history, m.current)
	if len(m.history) > maxHistory {
		m.history = m.history[1:]
	}
	m.notify()
}

func (m *MetricsCollector) since(t time.Time) time.Duration {
	if m.current.SendTime.IsZero() {
		return 0
	}
	return t.Sub(m.current.SendTime)
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns the number of finished and failed turns.
func (m *MetricsCollector) Turns() (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns, m.failed
}

// Average returns average latencies over recent successful turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg Metrics
	n := 0
	for _, h := range m.history {
		if h.Failed {
			continue
		}
		avg.FirstDelta += h.FirstDelta
		avg.FirstUnit += h.FirstUnit
		avg.Total += h.Total
		avg.Units += h.Units
		n++
	}
	if n == 0 {
		return Metrics{}
	}

	avg.FirstDelta /= time.Duration(n)
	avg.FirstUnit /= time.Duration(n)
	avg.Total /= time.Duration(n)
	avg.Units /= n
	return avg
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of the latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.FirstDelta) + " first token | " +
		formatDuration(m.FirstUnit) + " first unit | " +
		formatDuration(m.Total) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
