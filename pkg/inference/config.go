package inference

import (
	"context"
	"log/slog"
	"time"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string // service base URL
	APIKey  string // optional for local services

	// Request defaults
	Model       string
	NumCtx      int
	KeepAlive   string
	Temperature float64

	// Timeouts
	Timeout       time.Duration // health checks and other short requests
	StreamTimeout time.Duration // whole streamed generation

	// Retry configuration for opening a stream
	MaxRetries int
	RetryDelay time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the service base URL.
// Examples: "http://localhost:11434", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithNumCtx sets the default context window size.
func WithNumCtx(n int) Option {
	return func(c *Config) { c.NumCtx = n }
}

// WithKeepAlive sets how long the service keeps the model loaded.
func WithKeepAlive(d string) Option {
	return func(c *Config) { c.KeepAlive = d }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout sets the timeout for short requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithStreamTimeout sets the upper bound on one streamed generation.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) { c.StreamTimeout = d }
}

// WithRetry configures retry behavior for opening a stream.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for a local Ollama server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:11434",
		Model:         "tinydolphin",
		NumCtx:        2048,
		Timeout:       10 * time.Second,
		StreamTimeout: 2 * time.Minute,
		MaxRetries:    1,
		RetryDelay:    200 * time.Millisecond,
		Logger:        slog.Default(),
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
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}

// streamContext bounds one generation by StreamTimeout when set.
func (c *Config) streamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.StreamTimeout > 0 {
		return context.WithTimeout(ctx, c.StreamTimeout)
	}
	return context.WithCancel(ctx)
}
