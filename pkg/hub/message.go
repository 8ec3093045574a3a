// Package hub fans session events out to websocket clients using the
// channel-based broadcast pattern: one goroutine owns the client set.
package hub

// Message is one encoded event queued for clients.
type Message struct {
	Data []byte
}

// NewMessage wraps pre-encoded JSON.
func NewMessage(data []byte) Message {
	return Message{Data: data}
}
