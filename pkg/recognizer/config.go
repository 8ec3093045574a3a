package recognizer

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// Config holds recognizer launch and restart configuration.
type Config struct {
	// Command and Args launch one recognition cycle. Args may contain the
	// placeholders {container}, {mic} and {pipe}.
	Command string
	Args    []string

	Container string
	Mic       string
	Pipe      string

	// CycleTimeout bounds one cycle; the process is then stopped and relaunched.
	CycleTimeout time.Duration

	// RelaunchDelay is the pause after a clean exit.
	RelaunchDelay time.Duration

	// RestartOnFailure relaunches after a non-zero exit. Without it the
	// first failure ends Run.
	RestartOnFailure bool

	// MaxRetries is the number of consecutive failed cycles tolerated.
	MaxRetries int

	// Backoff is the first retry delay; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// GracePeriod bounds stopping a cycle that timed out.
	GracePeriod time.Duration

	// StderrLog receives recognizer stderr verbatim.
	StderrLog io.Writer

	Logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Config)

// WithCommand sets the command and argument template.
func WithCommand(command string, args ...string) Option {
	return func(c *Config) {
		c.Command = command
		c.Args = args
	}
}

// WithContainer sets the {container} placeholder value.
func WithContainer(name string) Option {
	return func(c *Config) { c.Container = name }
}

// WithMic sets the {mic} placeholder value.
func WithMic(id string) Option {
	return func(c *Config) { c.Mic = id }
}

// WithPipe sets the {pipe} placeholder value.
func WithPipe(path string) Option {
	return func(c *Config) { c.Pipe = path }
}

// WithCycleTimeout sets the per-cycle timeout.
func WithCycleTimeout(d time.Duration) Option {
	return func(c *Config) { c.CycleTimeout = d }
}

// WithRelaunchDelay sets the delay after a clean exit.
func WithRelaunchDelay(d time.Duration) Option {
	return func(c *Config) { c.RelaunchDelay = d }
}

// WithRestart enables relaunch after failures, up to maxRetries
// consecutive failures, starting at backoff.
func WithRestart(maxRetries int, backoff time.Duration) Option {
	return func(c *Config) {
		c.RestartOnFailure = true
		c.MaxRetries = maxRetries
		c.Backoff = backoff
	}
}

// WithoutRestart makes the first failure end Run.
func WithoutRestart() Option {
	return func(c *Config) { c.RestartOnFailure = false }
}

// WithGracePeriod sets the stop grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) { c.GracePeriod = d }
}

// WithStderrLog copies recognizer stderr to w.
func WithStderrLog(w io.Writer) Option {
	return func(c *Config) { c.StderrLog = w }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the containerized ASR example setup.
func DefaultConfig() *Config {
	return &Config{
		Command: "docker",
		Args: []string{
			"exec", "-i", "{container}",
			"python3", "-u", "examples/asr.py",
			"--mic", "{mic}",
			"--pipe", "{pipe}",
		},
		CycleTimeout:     10 * time.Minute,
		RelaunchDelay:    100 * time.Millisecond,
		RestartOnFailure: true,
		MaxRetries:       3,
		Backoff:          500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
		GracePeriod:      3 * time.Second,
		Logger:           slog.Default(),
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
	if c.Command == "" {
		return ErrNoCommand
	}
	if c.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	return nil
}

// ExpandedArgs returns Args with placeholders substituted.
func (c *Config) ExpandedArgs() []string {
	r := strings.NewReplacer(
		"{container}", c.Container,
		"{mic}", c.Mic,
		"{pipe}", c.Pipe,
	)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// backoff returns the delay before the retry following the n-th
// consecutive failure.
func (c *Config) backoff(n int) time.Duration {
	d := c.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}
