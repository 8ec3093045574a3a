// Package console is the interactive terminal surface: it echoes the
// session as it runs and turns typed lines into session input.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/session"
)

// ANSI colors.
const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	dim    = "\033[2m"
)

// Printer writes session events to a terminal.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	color   bool
	midLine bool
}

// NewPrinter returns a printer writing to w. color enables ANSI escapes.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(c, s string) string {
	if !p.color {
		return s
	}
	return c + s + reset
}

// line prints one full line, ending any reply in progress first.
func (p *Printer) line(c, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
	fmt.Fprintln(p.w, p.paint(c, s))
}

// Info prints a status line.
func (p *Printer) Info(format string, args ...any) {
	p.line(yellow, fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(err error) {
	p.line(red, "Error: "+err.Error())
}

// Help prints the keys accepted in mode.
func (p *Printer) Help(mode session.InputMode) {
	if mode == session.TextMode {
		p.Info("Type a message and press Enter. Type 'exit' or 'q' to quit.")
		return
	}
	p.Info("Speak, then type 'w' to send, 'e' to clear, 'q' to quit.")
}

// Observer returns a session observer that echoes the session.
func (p *Printer) Observer() session.Observer {
	return session.Observer{
		OnState: func(from, to session.State) {
			if to == session.ShuttingDown {
				p.Info("Shutting down...")
			}
		},
		OnTranscript: func(fragment string, transcript []string) {
			p.line(cyan, "You: "+fragment)
		},
		OnPrompt: func(prompt string) {
			p.line(dim, "Sending: "+prompt)
		},
		OnUnit: func(u segment.Unit) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if !p.midLine {
				fmt.Fprint(p.w, p.paint(green, "Assistant: "))
				p.midLine = true
			}
			fmt.Fprint(p.w, p.paint(green, u.Text))
		},
		OnReplyDone: func(s session.ReplySummary) {
			p.mu.Lock()
			if p.midLine {
				fmt.Fprintln(p.w)
				p.midLine = false
			}
			p.mu.Unlock()
			if s.Truncated {
				p.Info("(reply cut short)")
			}
		},
		OnError: p.Error,
	}
}

// quitWords end a text-mode session.
var quitWords = map[string]bool{"exit": true, "q": true, "quit": true}

// ParseLine maps one typed line to session input. Blank lines report false.
// In text mode every line except a quit word is a prompt; in voice mode
// every line is a command.
func ParseLine(line string, mode session.InputMode) (session.Input, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return session.Input{}, false
	}
	if mode == session.TextMode && !quitWords[strings.ToLower(line)] {
		return session.Text(line), true
	}
	return session.Command(line), true
}

// ReadInput reads lines from r and submits them until ctx is done, r
// ends, or submit fails. End of input and cancellation return nil.
func ReadInput(ctx context.Context, r io.Reader, mode session.InputMode, submit func(context.Context, session.Input) error) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			in, ok := ParseLine(line, mode)
			if !ok {
				continue
			}
			if err := submit(ctx, in); err != nil {
				if errors.Is(err, session.ErrNotRunning) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
