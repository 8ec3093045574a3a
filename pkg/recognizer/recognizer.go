// Package recognizer runs the external speech recognizer in a loop.
//
// Each cycle launches a fresh recognizer process, forwards every
// transcript line it prints as a Fragment event, and waits for the process
// to exit or for the cycle timeout. Clean exits are relaunched after a
// short delay. Failures are relaunched with exponential backoff until
// MaxRetries consecutive failures, after which Run gives up.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/process"
)

// EventKind identifies a recognizer event.
type EventKind int

const (
	// Fragment carries one recognized transcript line.
	Fragment EventKind = iota

	// Started reports a newly launched cycle.
	Started

	// Failed reports a cycle that exited non-zero or could not launch.
	Failed
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case Fragment:
		return "fragment"
	case Started:
		return "started"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is sent by Run to its output channel.
type Event struct {
	Kind     EventKind
	Text     string
	Cycle    int
	PID      int
	ExitCode int
	Err      error
	Time     time.Time
}

// Runner relaunches the recognizer until its context is done.
type Runner struct {
	cfg    *Config
	logger *slog.Logger
}

// New creates a Runner.
func New(opts ...Option) (*Runner, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "recognizer"),
	}, nil
}

// Config returns the runner configuration.
func (r *Runner) Config() Config {
	return *r.cfg
}

// Run loops until ctx is done, which is a clean return with nil error.
// It returns ErrRetriesExhausted, wrapping the last cycle error, when
// restarts are enabled and too many consecutive cycles fail, or the first
// cycle error when they are not.
//
// Run never closes out.
func (r *Runner) Run(ctx context.Context, out chan<- Event) error {
	failures := 0

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}

		err := r.runCycle(ctx, cycle, out)
		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			failures = 0
			if !sleep(ctx, r.cfg.RelaunchDelay) {
				return nil
			}
			continue
		}

		failures++
		code := -1
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		r.logger.Error("recognizer cycle failed",
			"cycle", cycle,
			"exit_code", code,
			"consecutive_failures", failures,
			"error", err,
		)
		r.emit(ctx, out, Event{Kind: Failed, Cycle: cycle, ExitCode: code, Err: err})

		if !r.cfg.RestartOnFailure {
			return err
		}
		if failures > r.cfg.MaxRetries {
			return fmt.Errorf("%w after %d consecutive failures: %w", ErrRetriesExhausted, failures, err)
		}

		delay := r.cfg.backoff(failures)
		r.logger.Info("relaunching recognizer", "delay", delay, "attempt", failures)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// runCycle runs one recognizer process to completion. A cycle that hits
// the timeout is stopped and counts as clean.
func (r *Runner) runCycle(ctx context.Context, cycle int, out chan<- Event) error {
	h, err := process.Start(ctx, process.Spec{
		Name:    "recognizer",
		Command: r.cfg.Command,
		Args:    r.cfg.ExpandedArgs(),
		OnStdoutLine: func(line string) {
			text := strings.TrimSpace(line)
			if text == "" {
				return
			}
			r.emit(ctx, out, Event{Kind: Fragment, Text: text, Cycle: cycle})
		},
		StderrLog: r.cfg.StderrLog,
		Logger:    r.cfg.Logger,
	})
	if err != nil {
		return err
	}
	r.emit(ctx, out, Event{Kind: Started, Cycle: cycle, PID: h.PID()})

	var timeout <-chan time.Time
	if r.cfg.CycleTimeout > 0 {
		timer := time.NewTimer(r.cfg.CycleTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-h.Done():
	case <-timeout:
		r.logger.Info("recognizer cycle timed out", "cycle", cycle, "timeout", r.cfg.CycleTimeout)
		if err := h.Stop(r.cfg.GracePeriod); err != nil {
			r.logger.Warn("recognizer stop", "error", err)
		}
		return nil
	case <-ctx.Done():
		if err := h.Stop(r.cfg.GracePeriod); err != nil {
			r.logger.Warn("recognizer stop", "error", err)
		}
		return nil
	}

	if h.State() == process.Failed {
		return h.Err()
	}
	return nil
}

func (r *Runner) emit(ctx context.Context, out chan<- Event, ev Event) {
	ev.Time = time.Now()
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// sleep waits for d or ctx. It reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
