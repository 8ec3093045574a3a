package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/process"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Piper is a Sink backed by a long-lived Piper process whose raw audio
// output is piped into a playback process.
type Piper struct {
	cfg    *Config
	logger *slog.Logger

	// base bounds the processes' lifetime, including restarted ones.
	base context.Context

	mu       sync.Mutex
	synth    *process.Handle
	player   *process.Handle
	closed   bool
	accepted int
	restarts int
}

// NewPiper launches the synthesizer and, unless disabled, the player.
// ctx bounds the lifetime of every process the sink launches, including
// those started by Restart.
func NewPiper(ctx context.Context, opts ...Option) (*Piper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Piper{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "tts.piper"),
		base:   ctx,
	}
	if err := p.start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// start launches the processes. Caller holds mu or has exclusive access.
func (p *Piper) start(ctx context.Context) error {
	var audioOut *os.File

	if !p.cfg.NoPlayback {
		r, w, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("tts: audio pipe: %w", err)
		}
		player, err := process.Start(ctx, process.Spec{
			Name:      "aplay",
			Command:   p.cfg.PlaybackBinary,
			Args:      p.cfg.PlaybackArgs(),
			Stdin:     r,
			StderrLog: p.cfg.StderrLog,
			Logger:    p.cfg.Logger,
		})
		// The child holds its own copy of the read end.
		r.Close()
		if err != nil {
			w.Close()
			return err
		}
		p.player = player
		audioOut = w
	}

	spec := process.Spec{
		Name:      "piper",
		Command:   p.cfg.Binary,
		Args:      p.cfg.SynthArgs(),
		StderrLog: p.cfg.StderrLog,
		Logger:    p.cfg.Logger,
	}
	if audioOut != nil {
		spec.Stdout = audioOut
	}
	synth, err := process.Start(ctx, spec)
	if audioOut != nil {
		// The child holds its own copy of the write end; closing ours lets
		// the player see EOF when the synthesizer exits.
		audioOut.Close()
	}
	if err != nil {
		if p.player != nil {
			_ = p.player.Stop(p.cfg.GracePeriod)
			p.player = nil
		}
		return err
	}
	p.synth = synth

	p.logger.Info("synthesizer started",
		"model", p.cfg.Model,
		"playback", !p.cfg.NoPlayback,
	)
	return nil
}

// Accept writes the unit's text as one line. Line breaks inside the unit
// are replaced by spaces so the synthesizer sees a single utterance.
// Blank units are ignored.
func (p *Piper) Accept(ctx context.Context, u segment.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.synth == nil {
		return &process.BrokenPipeError{Name: "piper"}
	}

	text := newlines.Replace(u.Text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := p.synth.WriteLine(text); err != nil {
		p.logger.Error("write to synthesizer failed", "unit", u.Index, "error", err)
		return err
	}
	p.accepted++
	p.logger.Debug("unit accepted", "unit", u.Index, "len", len(text))
	return nil
}

// Restart stops whatever is left of the processes and launches new ones.
// ctx only aborts the restart; the new processes live as long as the
// context given to NewPiper.
func (p *Piper) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.stopLocked()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.restarts++
	p.logger.Warn("restarting synthesizer", "restarts", p.restarts)
	return p.start(p.base)
}

// Close ends input, gives queued audio up to the grace period to play,
// and stops both processes.
func (p *Piper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.stopLocked()
}

func (p *Piper) stopLocked() error {
	var errs []error
	grace := p.cfg.GracePeriod

	for _, h := range []*process.Handle{p.synth, p.player} {
		if h == nil {
			continue
		}
		// Closing input lets the synthesizer finish its last line and the
		// player drain its buffer before being signalled.
		_ = h.CloseStdin()
		timer := time.NewTimer(grace)
		select {
		case <-h.Done():
		case <-timer.C:
		}
		timer.Stop()
		if err := h.Stop(grace); err != nil {
			errs = append(errs, err)
		}
	}
	p.synth = nil
	p.player = nil
	return errors.Join(errs...)
}

// State returns the synthesizer process state.
func (p *Piper) State() process.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.synth == nil {
		return process.Terminated
	}
	return p.synth.State()
}

// Accepted returns the number of units written since launch.
func (p *Piper) Accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

// Verify Piper implements Sink and Restarter at compile time.
var (
	_ Sink      = (*Piper)(nil)
	_ Restarter = (*Piper)(nil)
)
