package control

import (
	"fmt"
	"strings"
)

// Command is a session-level control command.
type Command string

// Known commands.
const (
	Pause  Command = "pause"
	Resume Command = "resume"
	Clear  Command = "clear"
	Send   Command = "send"
	Quit   Command = "quit"
)

var aliases = map[string]Command{
	"pause":  Pause,
	"resume": Resume,
	"clear":  Clear,
	"send":   Send,
	"quit":   Quit,
	"w":      Send,
	"e":      Clear,
	"q":      Quit,
	"exit":   Quit,
}

// Commands returns every known command in a stable order.
func Commands() []Command {
	return []Command{Pause, Resume, Clear, Send, Quit}
}

// Parse maps operator input onto a Command. Input is trimmed and
// case-insensitive; the console shortcuts w, e, q and exit are accepted.
func Parse(s string) (Command, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if cmd, ok := aliases[key]; ok {
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case Pause, Resume, Clear, Send, Quit:
		return true
	}
	return false
}

// String returns the wire form of the command.
func (c Command) String() string {
	return string(c)
}
