package control

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"pause", Pause},
		{"resume", Resume},
		{"clear", Clear},
		{"send", Send},
		{"quit", Quit},
		{"  PAUSE \n", Pause},
		{"w", Send},
		{"e", Clear},
		{"q", Quit},
		{"exit", Quit},
		{"Exit", Quit},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUnknown(t *testing.T) {
	for _, in := range []string{"", "stop", "pause now", "x"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("Parse(%q) error = %v, want ErrUnknownCommand", in, err)
		}
	}
}

func TestCommandValid(t *testing.T) {
	for _, cmd := range Commands() {
		if !cmd.Valid() {
			t.Errorf("%q should be valid", cmd)
		}
	}
	if Command("w").Valid() {
		t.Error("aliases are not wire commands")
	}
}
