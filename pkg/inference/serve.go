package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/process"
)

// ServeOptions configures ServeOllama.
type ServeOptions struct {
	// Binary is the ollama executable. Defaults to "ollama".
	Binary string

	// Args default to ["serve"].
	Args []string

	// ReadyTimeout bounds the wait for the first successful health check.
	ReadyTimeout time.Duration

	// PollInterval is the delay between health checks.
	PollInterval time.Duration

	// GracePeriod is used to stop a server that never became ready.
	GracePeriod time.Duration

	Logger *slog.Logger
}

func (o *ServeOptions) defaults() {
	if o.Binary == "" {
		o.Binary = "ollama"
	}
	if len(o.Args) == 0 {
		o.Args = []string{"serve"}
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 15 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ServeOllama makes sure an inference server is answering p.Health. When
// it already is, ServeOllama returns a nil handle. Otherwise it launches
// the server and polls until it is healthy, the process exits, or
// ReadyTimeout elapses. The caller owns the returned handle and stops it
// at shutdown.
func ServeOllama(ctx context.Context, p Provider, opts ServeOptions) (*process.Handle, error) {
	opts.defaults()
	logger := opts.Logger.With("component", "inference.serve")

	if err := p.Health(ctx); err == nil {
		logger.Info("inference server already running", "provider", p.Name())
		return nil, nil
	}

	h, err := process.Start(ctx, process.Spec{
		Name:    "ollama",
		Command: opts.Binary,
		Args:    opts.Args,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.Done():
			return nil, fmt.Errorf("%w: server exited with code %d", ErrServerNotReady, h.ExitCode())
		case <-readyCtx.Done():
			_ = h.Stop(opts.GracePeriod)
			return nil, fmt.Errorf("%w: not healthy after %s", ErrServerNotReady, opts.ReadyTimeout)
		case <-ticker.C:
		}

		if err := p.Health(readyCtx); err == nil {
			logger.Info("inference server ready", "pid", h.PID())
			return h, nil
		}
	}
}
