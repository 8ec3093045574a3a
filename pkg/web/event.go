package web

import (
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/session"
)

// Event types pushed on /ws/events.
const (
	EventStatus     = "status"
	EventState      = "state"
	EventTranscript = "transcript"
	EventPrompt     = "prompt"
	EventUnit       = "unit"
	EventReply      = "reply"
	EventError      = "error"
)

// Event is one session event as sent to dashboards.
type Event struct {
	Type       string                `json:"type"`
	Time       time.Time             `json:"time"`
	From       string                `json:"from,omitempty"`
	State      string                `json:"state,omitempty"`
	Text       string                `json:"text,omitempty"`
	Transcript []string              `json:"transcript,omitempty"`
	Unit       int                   `json:"unit,omitempty"`
	Reply      *session.ReplySummary `json:"reply,omitempty"`
	Status     *session.Status       `json:"status,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Observer returns a session observer that broadcasts every event.
func (s *Server) Observer() session.Observer {
	return session.Observer{
		OnState: func(from, to session.State) {
			s.publish(Event{Type: EventState, From: from.String(), State: to.String()})
		},
		OnTranscript: func(fragment string, transcript []string) {
			s.publish(Event{Type: EventTranscript, Text: fragment, Transcript: transcript})
		},
		OnPrompt: func(prompt string) {
			s.publish(Event{Type: EventPrompt, Text: prompt})
		},
		OnUnit: func(u segment.Unit) {
			s.publish(Event{Type: EventUnit, Unit: u.Index, Text: u.Text})
		},
		OnReplyDone: func(summary session.ReplySummary) {
			ev := Event{Type: EventReply, Reply: &summary}
			if summary.Err != nil {
				ev.Error = summary.Err.Error()
			}
			s.publish(ev)
		},
		OnError: func(err error) {
			s.publish(Event{Type: EventError, Error: err.Error()})
		},
	}
}

func (s *Server) publish(ev Event) {
	ev.Time = time.Now()
	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("encode event", "type", ev.Type, "error", err)
	}
}
