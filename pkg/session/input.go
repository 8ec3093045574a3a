package session

import "strings"

// InputKind distinguishes operator commands from typed prompts.
type InputKind int

const (
	// CommandInput is a control command line such as "send" or "q".
	CommandInput InputKind = iota

	// TextInput is a prompt to send as is.
	TextInput
)

// Input is one operator action delivered through Submit.
type Input struct {
	Kind InputKind
	Line string
}

// Command returns a command input for line. The line is parsed by the
// supervisor so bad commands are reported there.
func Command(line string) Input {
	return Input{Kind: CommandInput, Line: strings.TrimSpace(line)}
}

// Text returns a prompt input.
func Text(prompt string) Input {
	return Input{Kind: TextInput, Line: strings.TrimSpace(prompt)}
}
