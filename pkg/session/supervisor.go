// Package session runs one voice-assistant session: it routes recognized
// speech to the inference service, streams the reply through the
// segmenter into the synthesizer, and reacts to operator commands.
//
// A single goroutine, the one calling Run, owns the transcript and the
// state machine. Everything else reaches it through channels.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/history"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
	"github.com/teslashibe/go-voiceloop/pkg/process"
	"github.com/teslashibe/go-voiceloop/pkg/recognizer"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

const (
	eventBuffer    = 64
	inputBuffer    = 16
	historyTimeout = 5 * time.Second
)

// Recognizer produces recognizer events until ctx is done.
type Recognizer interface {
	Run(ctx context.Context, out chan<- recognizer.Event) error
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	Provider inference.Provider
	Sink     tts.Sink

	// Recognizer is required in voice mode and ignored in text mode.
	Recognizer Recognizer

	// RecognizerPipe receives pause and resume around each reply.
	RecognizerPipe *control.Channel

	// OperatorPipe is read for operator commands.
	OperatorPipe *control.Channel

	History history.Store
	Metrics *MetricsCollector
}

// Status is a snapshot of a running session.
type Status struct {
	SessionID         string    `json:"session_id"`
	State             State     `json:"state"`
	Mode              InputMode `json:"mode"`
	SendMode          SendMode  `json:"send_mode"`
	Provider          string    `json:"provider"`
	Transcript        []string  `json:"transcript"`
	Paused            bool      `json:"paused"`
	InferenceFailures int       `json:"inference_failures"`
	StartedAt         time.Time `json:"started_at"`
}

// Supervisor is the session state machine.
type Supervisor struct {
	cfg       *Config
	deps      Deps
	logger    *slog.Logger
	metrics   *MetricsCollector
	observers observers

	state   atomic.Int32
	running atomic.Bool
	status  atomic.Pointer[Status]
	inputs  chan Input
	done    chan struct{}

	// Owned by the Run goroutine.
	transcript  Transcript
	failures    int
	paused      bool
	startedAt   time.Time
	events      chan recognizer.Event
	recDone     chan error
	listenDone  chan error
	replyDone   chan replyResult
	replyCancel context.CancelFunc
}

// New creates a Supervisor.
func New(deps Deps, opts ...Option) (*Supervisor, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if deps.Provider == nil {
		return nil, ErrNoProvider
	}
	if deps.Sink == nil {
		return nil, ErrNoSink
	}
	if cfg.Mode != TextMode && deps.Recognizer == nil {
		return nil, ErrNoRecognizer
	}
	if _, err := ParseSendMode(string(cfg.SendMode)); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = history.NewSessionID()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetricsCollector()
	}

	s := &Supervisor{
		cfg:     cfg,
		deps:    deps,
		logger:  cfg.Logger.With("component", "session", "session_id", cfg.SessionID),
		metrics: deps.Metrics,
		inputs:  make(chan Input, inputBuffer),
		done:    make(chan struct{}),
	}
	s.publish()
	return s, nil
}

// Observe registers an observer. Call it before Run.
func (s *Supervisor) Observe(o Observer) {
	s.observers = append(s.observers, o)
}

// State returns the current state. Safe from any goroutine.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Status returns the latest snapshot. Safe from any goroutine.
func (s *Supervisor) Status() Status {
	return *s.status.Load()
}

// SessionID returns the session identifier.
func (s *Supervisor) SessionID() string {
	return s.cfg.SessionID
}

// Metrics returns the latency collector.
func (s *Supervisor) Metrics() *MetricsCollector {
	return s.metrics
}

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Submit hands operator input to the session. It returns ErrNotRunning
// before Run starts and after it ends.
func (s *Supervisor) Submit(ctx context.Context, in Input) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	// A buffered send would still succeed after Run ends.
	select {
	case <-s.done:
		return ErrNotRunning
	default:
	}
	select {
	case s.inputs <- in:
		return nil
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until ctx is done, the operator quits, or the
// pipeline can no longer make progress. Shutdown always runs before Run
// returns. A quit or cancellation returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.openPipes(); err != nil {
		s.shutdown(cancel)
		return err
	}

	s.events = make(chan recognizer.Event, eventBuffer)
	if s.cfg.Mode == VoiceMode {
		s.recDone = make(chan error, 1)
		go func() { s.recDone <- s.deps.Recognizer.Run(runCtx, s.events) }()
	}
	if s.deps.OperatorPipe != nil {
		s.listenDone = make(chan error, 1)
		go func() {
			s.listenDone <- s.deps.OperatorPipe.Listen(runCtx, func(line string) {
				select {
				case s.inputs <- Command(line):
				case <-runCtx.Done():
				}
			})
		}()
	}

	s.logger.Info("session started",
		"mode", s.cfg.Mode,
		"send_mode", s.cfg.SendMode,
		"provider", s.deps.Provider.Name(),
	)
	s.setState(Capturing)

	err := s.loop(runCtx)
	if err != nil {
		s.logger.Error("session failed", "error", err)
		s.observers.error(err)
	}
	s.shutdown(cancel)
	return err
}

func (s *Supervisor) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown requested", "reason", context.Cause(ctx))
			return nil

		case ev := <-s.events:
			s.handleEvent(ctx, ev)

		case err := <-s.recDone:
			s.recDone = nil
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("exited")
			}
			return fmt.Errorf("%w: %w", ErrRecognizerStopped, err)

		case err := <-s.listenDone:
			s.listenDone = nil
			if err != nil && ctx.Err() == nil {
				s.logger.Error("operator pipe closed", "error", err)
				s.observers.error(err)
			}

		case in := <-s.inputs:
			if s.handleInput(ctx, in) {
				s.logger.Info("quit requested")
				return nil
			}

		case res := <-s.replyDone:
			if err := s.finishReply(ctx, res); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev recognizer.Event) {
	switch ev.Kind {
	case recognizer.Fragment:
		s.transcript.Append(ev.Text)
		s.logger.Info("transcript fragment", "text", ev.Text, "fragments", s.transcript.Len())
		s.observers.transcript(ev.Text, &s.transcript)
		if s.State() == ProcessingReply {
			// Held for the next turn.
			s.publish()
			return
		}
		s.setState(AwaitingCommand)
		if s.cfg.SendMode == SendAuto {
			s.sendTranscript(ctx)
		}

	case recognizer.Started:
		s.logger.Debug("recognizer cycle started", "cycle", ev.Cycle, "pid", ev.PID)

	case recognizer.Failed:
		err := fmt.Errorf("recognizer cycle %d exited with code %d: %w", ev.Cycle, ev.ExitCode, ev.Err)
		s.logger.Warn("recognizer failed", "cycle", ev.Cycle, "exit_code", ev.ExitCode, "error", ev.Err)
		s.observers.error(err)
	}
}

// handleInput applies one operator input and reports whether to quit.
func (s *Supervisor) handleInput(ctx context.Context, in Input) bool {
	if in.Kind == TextInput {
		switch {
		case in.Line == "":
			s.reject(in.Line, ErrEmptyInput)
		case s.State() == ProcessingReply:
			s.reject(in.Line, ErrBusy)
		default:
			s.startReply(ctx, in.Line)
		}
		return false
	}

	cmd, err := control.Parse(in.Line)
	if err != nil {
		s.reject(in.Line, err)
		return false
	}
	s.logger.Info("command received", "command", cmd)

	switch cmd {
	case control.Quit:
		return true

	case control.Clear:
		s.transcript.Reset()
		if s.State() == AwaitingCommand {
			s.setState(Capturing)
		} else {
			s.publish()
		}

	case control.Send:
		s.sendTranscript(ctx)

	case control.Pause, control.Resume:
		if s.State() == ProcessingReply {
			s.reject(in.Line, ErrBusy)
			return false
		}
		s.forward(ctx, cmd)
		s.paused = cmd == control.Pause
		s.publish()
	}
	return false
}

func (s *Supervisor) reject(line string, err error) {
	rejected := &RejectedError{Input: line, Err: err}
	s.logger.Warn("input rejected", "input", line, "error", err)
	s.observers.error(rejected)
}

// sendTranscript flushes the transcript into a new reply.
func (s *Supervisor) sendTranscript(ctx context.Context) {
	if s.State() == ProcessingReply {
		s.reject(string(control.Send), ErrBusy)
		return
	}
	if s.transcript.Empty() {
		s.reject(string(control.Send), ErrEmptyTranscript)
		return
	}
	text := s.transcript.Text()
	s.transcript.Reset()
	s.startReply(ctx, text)
}

// forward sends cmd to the recognizer pipe, bounded by ControlTimeout.
// A missing reader is logged, never fatal.
func (s *Supervisor) forward(ctx context.Context, cmd control.Command) {
	if s.deps.RecognizerPipe == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.ControlTimeout)
	defer cancel()
	if err := s.deps.RecognizerPipe.Send(sendCtx, cmd); err != nil && ctx.Err() == nil {
		s.logger.Warn("recognizer control not delivered", "command", cmd, "error", err)
	}
}

func (s *Supervisor) openPipes() error {
	for _, p := range []*control.Channel{s.deps.RecognizerPipe, s.deps.OperatorPipe} {
		if p == nil {
			continue
		}
		if err := p.Reset(); err != nil {
			return fmt.Errorf("session: prepare pipe %s: %w", p.Path(), err)
		}
	}
	return nil
}

// shutdown stops the reply, the recognizer and the operator listener,
// each bounded by ShutdownTimeout, then closes the sink and removes the
// pipes.
func (s *Supervisor) shutdown(cancel context.CancelFunc) {
	s.setState(ShuttingDown)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer waitCancel()

	if s.replyDone != nil {
		select {
		case <-s.replyDone:
		case <-waitCtx.Done():
			s.logger.Warn("reply did not stop in time")
		}
		s.replyDone = nil
	}
	for name, ch := range map[string]chan error{"recognizer": s.recDone, "operator pipe": s.listenDone} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-waitCtx.Done():
			s.logger.Warn("task did not stop in time", "task", name)
		}
	}

	if err := s.deps.Sink.Close(); err != nil {
		s.logger.Warn("close synthesizer", "error", err)
	}
	for _, p := range []*control.Channel{s.deps.RecognizerPipe, s.deps.OperatorPipe} {
		if p == nil {
			continue
		}
		if err := p.Remove(); err != nil {
			s.logger.Warn("remove pipe", "path", p.Path(), "error", err)
		}
	}
	s.logger.Info("session ended", "uptime", time.Since(s.startedAt).Round(time.Millisecond))
}

func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		s.logger.Debug("state changed", "from", from, "to", to)
		s.observers.state(from, to)
	}
	s.publish()
}

// publish stores a fresh Status. Run goroutine only, or before Run.
func (s *Supervisor) publish() {
	s.status.Store(&Status{
		SessionID:         s.cfg.SessionID,
		State:             s.State(),
		Mode:              s.cfg.Mode,
		SendMode:          s.cfg.SendMode,
		Provider:          s.deps.Provider.Name(),
		Transcript:        s.transcript.Fragments(),
		Paused:            s.paused,
		InferenceFailures: s.failures,
		StartedAt:         s.startedAt,
	})
}

// replyResult is sent from the reply goroutine back to the loop.
type replyResult struct {
	prompt   string
	relay    inference.RelayResult
	inferErr error
	sinkErr  error
	duration time.Duration
}

func (s *Supervisor) startReply(ctx context.Context, text string) {
	s.setState(ProcessingReply)
	s.logger.Info("sending prompt", "text", text)
	s.observers.prompt(text)

	replyCtx, cancel := context.WithCancel(ctx)
	done := make(chan replyResult, 1)
	s.replyCancel = cancel
	s.replyDone = done
	go func() { done <- s.reply(replyCtx, text) }()
}

// reply runs on its own goroutine. It is the only caller of Sink.Accept
// while it runs, and only one reply runs at a time.
func (s *Supervisor) reply(ctx context.Context, text string) replyResult {
	start := time.Now()
	res := replyResult{prompt: text}

	s.forward(ctx, control.Pause)

	s.metrics.MarkSend()
	relay, err := s.generate(ctx, s.buildPrompt(ctx, text))
	res.relay = relay

	var sinkErr *SinkError
	switch {
	case err == nil:
		s.remember(ctx, text, relay)
	case errors.As(err, &sinkErr):
		res.sinkErr = err
	case ctx.Err() == nil:
		res.inferErr = err
		if phraseErr := s.speakError(ctx, relay.Units); phraseErr != nil {
			res.sinkErr = phraseErr
		}
	}
	s.metrics.MarkDone(relay.Truncated, err != nil)

	if ctx.Err() == nil {
		s.forward(ctx, control.Resume)
	}
	res.duration = time.Since(start)
	return res
}

func (s *Supervisor) generate(ctx context.Context, prompt string) (inference.RelayResult, error) {
	stream, err := s.deps.Provider.Generate(ctx, &inference.Request{
		Prompt: prompt,
		System: s.cfg.System,
	})
	if err != nil {
		return inference.RelayResult{}, err
	}
	defer stream.Close()

	observed := &observedStream{Stream: stream, metrics: s.metrics}
	return inference.Relay(ctx, observed, segment.New(s.cfg.SegmentMode), func(u segment.Unit) error {
		return s.deliver(ctx, u)
	})
}

// deliver hands one unit to the sink. A broken pipe gets one restart and
// one retry of the same unit.
func (s *Supervisor) deliver(ctx context.Context, u segment.Unit) error {
	err := s.deps.Sink.Accept(ctx, u)
	if err != nil && process.IsBrokenPipe(err) {
		if r, ok := s.deps.Sink.(tts.Restarter); ok {
			s.logger.Warn("synthesizer pipe broken, restarting", "unit", u.Index, "error", err)
			if rerr := r.Restart(ctx); rerr != nil {
				err = errors.Join(err, rerr)
			} else {
				err = s.deps.Sink.Accept(ctx, u)
			}
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SinkError{Unit: u.Index, Err: err}
	}
	s.metrics.MarkUnit()
	s.observers.unit(u)
	return nil
}

func (s *Supervisor) speakError(ctx context.Context, index int) error {
	if s.cfg.ErrorPhrase == "" {
		return nil
	}
	err := s.deliver(ctx, segment.Unit{Index: index, Text: s.cfg.ErrorPhrase})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Supervisor) buildPrompt(ctx context.Context, text string) string {
	if s.cfg.PromptTemplate == "" {
		return text
	}
	var turns []history.Turn
	if s.deps.History != nil && s.cfg.HistoryTurns > 0 {
		hctx, cancel := context.WithTimeout(ctx, historyTimeout)
		defer cancel()
		recent, err := s.deps.History.Recent(hctx, s.cfg.SessionID, s.cfg.HistoryTurns)
		if err != nil {
			s.logger.Warn("history unavailable", "error", err)
		}
		turns = recent
	}
	return history.BuildPrompt(s.cfg.PromptTemplate, turns, text)
}

func (s *Supervisor) remember(ctx context.Context, text string, relay inference.RelayResult) {
	if s.deps.History == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	err := s.deps.History.Append(hctx, &history.Turn{
		SessionID: s.cfg.SessionID,
		User:      text,
		Assistant: relay.Text,
		Truncated: relay.Truncated,
	})
	if err != nil {
		s.logger.Warn("history append failed", "error", err)
	}
}

// finishReply runs on the loop once the reply goroutine returns. A
// non-nil error ends the session.
func (s *Supervisor) finishReply(ctx context.Context, res replyResult) error {
	s.replyDone = nil
	s.replyCancel()
	s.replyCancel = nil

	err := res.sinkErr
	if err == nil {
		err = res.inferErr
	}
	s.observers.replyDone(ReplySummary{
		Prompt:    res.prompt,
		Reply:     res.relay.Text,
		Units:     res.relay.Units,
		Truncated: res.relay.Truncated,
		Err:       err,
		Duration:  res.duration,
	})

	if res.sinkErr != nil {
		return res.sinkErr
	}
	if res.inferErr != nil {
		s.failures++
		s.logger.Error("inference failed",
			"error", res.inferErr,
			"consecutive_failures", s.failures,
		)
		s.observers.error(res.inferErr)
		if s.cfg.MaxInferenceFailures > 0 && s.failures >= s.cfg.MaxInferenceFailures {
			return fmt.Errorf("%w after %d consecutive failures: %w", ErrInferenceUnavailable, s.failures, res.inferErr)
		}
	} else {
		s.failures = 0
		m := s.metrics.Current()
		s.logger.Info("reply done",
			"units", res.relay.Units,
			"truncated", res.relay.Truncated,
			"latency", m.FormatLatency(),
		)
		if res.relay.Truncated {
			s.logger.Warn("reply stream ended early")
		}
	}

	if s.transcript.Empty() {
		s.setState(Capturing)
		return nil
	}
	s.setState(AwaitingCommand)
	if s.cfg.SendMode == SendAuto {
		s.sendTranscript(ctx)
	}
	return nil
}

// observedStream marks the first non-empty delta in the metrics.
type observedStream struct {
	inference.Stream
	metrics *MetricsCollector
	seen    bool
}

func (o *observedStream) Recv() (*inference.Record, error) {
	rec, err := o.Stream.Recv()
	if !o.seen && err == nil && rec != nil && rec.Delta != "" {
		o.seen = true
		o.metrics.MarkFirstDelta()
	}
	return rec, err
}
