package session

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

// InputMode selects where prompts come from.
type InputMode string

const (
	// VoiceMode takes prompts from the recognizer.
	VoiceMode InputMode = "voice"

	// TextMode takes typed prompts only. No recognizer runs.
	TextMode InputMode = "text"
)

// DefaultErrorPhrase is spoken when a reply cannot be generated.
const DefaultErrorPhrase = "Error from server."

// Config configures a Supervisor.
type Config struct {
	Mode        InputMode
	SendMode    SendMode
	SegmentMode segment.Mode

	// System is passed to the provider with every request.
	System string

	// PromptTemplate renders {history} and {input}. Empty sends the
	// transcript as is.
	PromptTemplate string

	// HistoryTurns is how many earlier turns fill {history}.
	HistoryTurns int

	// ErrorPhrase is spoken when inference fails. Empty disables it.
	ErrorPhrase string

	// MaxInferenceFailures consecutive failed replies end the session.
	// Zero never gives up.
	MaxInferenceFailures int

	// ControlTimeout bounds each pause or resume sent to the recognizer.
	ControlTimeout time.Duration

	// ShutdownTimeout bounds waiting for the reply and recognizer tasks
	// during shutdown.
	ShutdownTimeout time.Duration

	// SessionID tags history turns. Generated when empty.
	SessionID string

	Logger *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Config)

// DefaultConfig returns a voice session in manual send mode.
func DefaultConfig() *Config {
	return &Config{
		Mode:                 VoiceMode,
		SendMode:             SendManual,
		SegmentMode:          segment.Extended,
		ErrorPhrase:          DefaultErrorPhrase,
		MaxInferenceFailures: 3,
		ControlTimeout:       2 * time.Second,
		ShutdownTimeout:      5 * time.Second,
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithMode sets the input mode.
func WithMode(mode InputMode) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithSendMode sets the send mode.
func WithSendMode(mode SendMode) Option {
	return func(c *Config) {
		c.SendMode = mode
	}
}

// WithSegmentMode sets the boundary set used to split replies.
func WithSegmentMode(mode segment.Mode) Option {
	return func(c *Config) {
		c.SegmentMode = mode
	}
}

// WithSystem sets the system prompt.
func WithSystem(system string) Option {
	return func(c *Config) {
		c.System = system
	}
}

// WithPromptTemplate renders prompts with the last turns of history.
func WithPromptTemplate(template string, turns int) Option {
	return func(c *Config) {
		c.PromptTemplate = template
		c.HistoryTurns = turns
	}
}

// WithErrorPhrase sets the phrase spoken on inference failures.
func WithErrorPhrase(phrase string) Option {
	return func(c *Config) {
		c.ErrorPhrase = phrase
	}
}

// WithMaxInferenceFailures sets how many failed replies in a row end the session.
func WithMaxInferenceFailures(n int) Option {
	return func(c *Config) {
		c.MaxInferenceFailures = n
	}
}

// WithControlTimeout bounds pause and resume sends.
func WithControlTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ControlTimeout = d
	}
}

// WithShutdownTimeout bounds shutdown waits.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithSessionID sets the session identifier.
func WithSessionID(id string) Option {
	return func(c *Config) {
		c.SessionID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
