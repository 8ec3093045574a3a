// Package history stores finished conversation turns and renders them into
// prompts so replies can refer back to earlier exchanges.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Turn is one user prompt and the assistant's full reply.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Truncated bool      `json:"truncated,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists turns.
type Store interface {
	// Append saves a turn, assigning ID and CreatedAt when unset.
	Append(ctx context.Context, turn *Turn) error

	// Recent returns up to n turns of a session, oldest first.
	// An empty sessionID matches every session.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)

	// Close releases the store.
	Close() error
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// prepare fills the generated fields of a turn.
func prepare(turn *Turn) error {
	if turn == nil {
		return ErrNilTurn
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Placeholders understood by BuildPrompt.
const (
	HistoryPlaceholder = "{history}"
	InputPlaceholder   = "{input}"
)

// FormatTurns renders turns as a plain transcript, one speaker per line.
func FormatTurns(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Human: ")
		b.WriteString(t.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Assistant)
	}
	return b.String()
}

// BuildPrompt fills template with the formatted turns and the new input.
// An empty template returns input unchanged.
func BuildPrompt(template string, turns []Turn, input string) string {
	if template == "" {
		return input
	}
	r := strings.NewReplacer(
		HistoryPlaceholder, FormatTurns(turns),
		InputPlaceholder, input,
	)
	return r.Replace(template)
}
