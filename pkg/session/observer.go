package session

import (
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

// ReplySummary describes one finished reply.
type ReplySummary struct {
	Prompt    string        `json:"prompt"`
	Reply     string        `json:"reply"`
	Units     int           `json:"units"`
	Truncated bool          `json:"truncated"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// Observer receives session events. Every field is optional.
//
// Callbacks run on the supervisor goroutine, except OnUnit which runs on
// the reply goroutine. They must return quickly.
type Observer struct {
	OnState      func(from, to State)
	OnTranscript func(fragment string, transcript []string)
	OnPrompt     func(prompt string)
	OnUnit       func(u segment.Unit)
	OnReplyDone  func(summary ReplySummary)
	OnError      func(err error)
}

type observers []Observer

func (o observers) state(from, to State) {
	for _, ob := range o {
		if ob.OnState != nil {
			ob.OnState(from, to)
		}
	}
}

func (o observers) transcript(fragment string, t *Transcript) {
	for _, ob := range o {
		if ob.OnTranscript != nil {
			ob.OnTranscript(fragment, t.Fragments())
		}
	}
}

func (o observers) prompt(p string) {
	for _, ob := range o {
		if ob.OnPrompt != nil {
			ob.OnPrompt(p)
		}
	}
}

func (o observers) unit(u segment.Unit) {
	for _, ob := range o {
		if ob.OnUnit != nil {
			ob.OnUnit(u)
		}
	}
}

func (o observers) replyDone(s ReplySummary) {
	for _, ob := range o {
		if ob.OnReplyDone != nil {
			ob.OnReplyDone(s)
		}
	}
}

func (o observers) error(err error) {
	for _, ob := range o {
		if ob.OnError != nil {
			ob.OnError(err)
		}
	}
}
