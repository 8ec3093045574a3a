package session

import "fmt"

// State is the supervisor's position in the session lifecycle.
type State int32

const (
	// Idle is the state before Run.
	Idle State = iota

	// Capturing waits for the recognizer with an empty transcript.
	Capturing

	// AwaitingCommand holds a non-empty transcript until it is sent or cleared.
	AwaitingCommand

	// ProcessingReply streams a reply to the synthesizer with the
	// recognizer paused.
	ProcessingReply

	// ShuttingDown stops every process and removes the pipes.
	ShuttingDown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case AwaitingCommand:
		return "awaiting_command"
	case ProcessingReply:
		return "processing_reply"
	case ShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name as produced by String.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= ShuttingDown; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownState, text)
}

// SendMode decides when a transcript goes to the inference service.
type SendMode string

const (
	// SendManual waits for an explicit send command.
	SendManual SendMode = "manual"

	// SendAuto sends every recognized fragment as soon as it arrives.
	SendAuto SendMode = "auto"
)

// ParseSendMode accepts "manual" or "auto".
func ParseSendMode(s string) (SendMode, error) {
	switch m := SendMode(s); m {
	case SendManual, SendAuto:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSendMode, s)
}
