package tts

import (
	"io"
	"log/slog"
	"strconv"
	"time"
)

// Config holds synthesizer and playback configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Synthesizer
	Binary    string
	Model     string
	ExtraArgs []string

	// Playback
	PlaybackBinary string
	SampleRate     int
	BufferSize     int
	NoPlayback     bool

	// StderrLog receives synthesizer and playback stderr verbatim.
	StderrLog io.Writer

	// GracePeriod bounds how long Close waits for audio to drain.
	GracePeriod time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring sinks.
type Option func(*Config)

// WithBinary sets the synthesizer executable.
func WithBinary(path string) Option {
	return func(c *Config) {
		c.Binary = path
	}
}

// WithModel sets the voice model path.
func WithModel(path string) Option {
	return func(c *Config) {
		c.Model = path
	}
}

// WithExtraArgs appends synthesizer arguments.
func WithExtraArgs(args ...string) Option {
	return func(c *Config) {
		c.ExtraArgs = append(c.ExtraArgs, args...)
	}
}

// WithPlayback sets the playback executable.
func WithPlayback(path string) Option {
	return func(c *Config) {
		c.PlaybackBinary = path
	}
}

// WithSampleRate sets the PCM sample rate passed to playback.
func WithSampleRate(hz int) Option {
	return func(c *Config) {
		c.SampleRate = hz
	}
}

// WithoutPlayback discards synthesized audio.
func WithoutPlayback() Option {
	return func(c *Config) {
		c.NoPlayback = true
	}
}

// WithStderrLog copies process stderr to w.
func WithStderrLog(w io.Writer) Option {
	return func(c *Config) {
		c.StderrLog = w
	}
}

// WithGracePeriod sets the shutdown grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) {
		c.GracePeriod = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns defaults for a Piper binary next to the working
// directory, playing through ALSA.
func DefaultConfig() *Config {
	return &Config{
		Binary:         "./piper",
		PlaybackBinary: "aplay",
		SampleRate:     22050,
		BufferSize:     2048,
		GracePeriod:    3 * time.Second,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return ErrNoBinary
	}
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}

// SynthArgs returns the synthesizer arguments.
func (c *Config) SynthArgs() []string {
	args := []string{"--model", c.Model, "--output-raw"}
	return append(args, c.ExtraArgs...)
}

// PlaybackArgs returns aplay arguments for raw 16-bit little-endian PCM.
func (c *Config) PlaybackArgs() []string {
	return []string{
		"-r", strconv.Itoa(c.SampleRate),
		"-f", "S16_LE",
		"-t", "raw",
		"-B", strconv.Itoa(c.BufferSize),
	}
}
