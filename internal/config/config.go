// Package config holds the voiceloop runtime configuration.
// Loading from the environment lives in load.go; flag parsing is done in cmd/voiceloop.
package config

import (
	"fmt"
	"time"
)

// Input modes.
const (
	ModeVoice = "voice"
	ModeText  = "text"
)

// Send modes.
const (
	SendManual = "manual"
	SendAuto   = "auto"
)

// Inference backends.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config holds all configuration for a voiceloop session.
type Config struct {
	Env string

	// Logging
	LogLevel string
	LogFile  string

	// Session behavior
	InputMode            string // "voice" or "text"
	SendMode             string // "manual" or "auto"
	SegmentMode          string // "minimal" or "extended"
	ErrorPhrase          string // spoken when inference fails; empty disables
	MaxInferenceFailures int
	ControlTimeout       time.Duration

	// Inference
	Backend         string // "ollama" or "openai"; the other one becomes the fallback when FallbackEnabled
	FallbackEnabled bool
	OllamaURL       string
	OllamaModel     string
	NumCtx          int
	KeepAlive       string
	StreamTimeout   time.Duration
	ManageOllama    bool
	OllamaBinary    string
	OpenAIBaseURL   string
	OpenAIKey       string
	OpenAIModel     string

	// Prompt and history
	PromptTemplate string
	HistoryTurns   int
	HistoryFile    string
	DatabaseURL    string

	// Synthesizer and playback
	PiperBinary    string
	PiperModel     string
	PiperLogFile   string
	PlaybackBinary string
	SampleRate     int
	NoAudio        bool

	// Recognizer
	RecognizerCommand string
	RecognizerArgs    []string
	Container         string
	Mic               string
	RecognizerPipe    string
	CycleTimeout      time.Duration
	RestartOnFailure  bool
	MaxRetries        int
	RetryBackoff      time.Duration

	// Process lifecycle
	GracePeriod time.Duration

	// Operator surfaces
	ControlPipe   string
	DashboardAddr string // empty disables the dashboard
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	switch c.InputMode {
	case ModeVoice, ModeText:
	default:
		return fmt.Errorf("INPUT_MODE must be %q or %q, got %q", ModeVoice, ModeText, c.InputMode)
	}
	switch c.SendMode {
	case SendManual, SendAuto:
	default:
		return fmt.Errorf("SEND_MODE must be %q or %q, got %q", SendManual, SendAuto, c.SendMode)
	}
	switch c.SegmentMode {
	case "minimal", "extended":
	default:
		return fmt.Errorf("SEGMENT_MODE must be minimal or extended, got %q", c.SegmentMode)
	}
	switch c.Backend {
	case BackendOllama:
		if c.OllamaURL == "" || c.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_URL and OLLAMA_MODEL are required for the ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAIBaseURL == "" || c.OpenAIModel == "" {
			return fmt.Errorf("OPENAI_BASE_URL and OPENAI_MODEL are required for the openai backend")
		}
	default:
		return fmt.Errorf("BACKEND must be %q or %q, got %q", BackendOllama, BackendOpenAI, c.Backend)
	}
	if c.NumCtx <= 0 {
		return fmt.Errorf("NUM_CTX must be positive, got %d", c.NumCtx)
	}
	if !c.NoAudio && (c.PiperBinary == "" || c.PiperModel == "") {
		return fmt.Errorf("PIPER_BINARY and PIPER_MODEL are required unless NO_AUDIO=true")
	}
	if c.InputMode == ModeVoice {
		if c.RecognizerCommand == "" {
			return fmt.Errorf("RECOGNIZER_COMMAND is required in voice mode")
		}
		if c.RecognizerPipe == "" {
			return fmt.Errorf("RECOGNIZER_PIPE is required in voice mode")
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("GRACE_PERIOD must be positive, got %s", c.GracePeriod)
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("HISTORY_TURNS must not be negative, got %d", c.HistoryTurns)
	}
	return nil
}

// IsDevelopment reports whether ENV is development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AutoSend reports whether every recognized fragment is sent immediately.
func (c *Config) AutoSend() bool {
	return c.SendMode == SendAuto
}
