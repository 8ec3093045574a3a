// Package process wraps long-lived external workers such as the speech
// recognizer, the synthesizer and the playback device.
//
// A Handle owns one operating-system process together with its input
// stream, a background drain of its error stream, and an explicit
// lifecycle State. Handles are single-use: a restarted worker gets a new
// Handle.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultWaitDelay bounds how long Wait keeps copying output after the
// process has exited or been signalled.
const DefaultWaitDelay = 2 * time.Second

// State is the lifecycle state of a Handle.
type State int32

const (
	NotStarted State = iota
	Running
	Terminating
	Terminated
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Spec describes a process to launch.
type Spec struct {
	// Name identifies the process in logs and errors.
	Name string

	Command string
	Args    []string

	// Env is appended to the current environment.
	Env []string
	Dir string

	// Stdin, when set, is connected to the process directly and
	// WriteLine is unavailable. When nil the handle owns a stdin pipe.
	Stdin io.Reader

	// Stdout receives raw output. Ignored when OnStdoutLine is set.
	Stdout io.Writer

	// OnStdoutLine is called once per stdout line, in order.
	OnStdoutLine func(line string)

	// StderrLog, when set, receives every stderr line verbatim in
	// addition to the logger.
	StderrLog io.Writer

	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration

	Logger *slog.Logger
}

// Handle is a running external process.
type Handle struct {
	name   string
	cmd    *exec.Cmd
	ctx    context.Context
	logger *slog.Logger

	state    atomic.Int32
	stopping atomic.Bool

	writeMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	stdoutLines *lineWriter
	stderrLines *lineWriter

	done     chan struct{}
	exitCode int
	err      error
}

// Start launches the process described by spec. Cancelling ctx sends
// SIGTERM and, after the wait delay, SIGKILL.
//
// A failure to launch returns a *LaunchError.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Name == "" {
		spec.Name = spec.Command
	}
	if spec.Command == "" {
		return nil, &LaunchError{Name: spec.Name, Err: ErrNoCommand}
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handle{
		name:     spec.Name,
		ctx:      ctx,
		logger:   logger.With("component", "process", "process", spec.Name),
		done:     make(chan struct{}),
		exitCode: -1,
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = spec.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, &LaunchError{Name: spec.Name, Command: spec.Command, Err: err}
		}
		h.stdin = stdin
	}

	switch {
	case spec.OnStdoutLine != nil:
		h.stdoutLines = newLineWriter(spec.OnStdoutLine)
		cmd.Stdout = h.stdoutLines
	case spec.Stdout != nil:
		cmd.Stdout = spec.Stdout
	}

	stderrLog := spec.StderrLog
	h.stderrLines = newLineWriter(func(line string) {
		if line == "" {
			return
		}
		h.logger.Error("process stderr", "line", line)
		if stderrLog != nil {
			_, _ = io.WriteString(stderrLog, line+"\n")
		}
	})
	cmd.Stderr = h.stderrLines

	h.state.Store(int32(NotStarted))
	if err := cmd.Start(); err != nil {
		h.state.Store(int32(Failed))
		close(h.done)
		return nil, &LaunchError{Name: spec.Name, Command: spec.Command, Err: err}
	}
	h.cmd = cmd
	h.state.Store(int32(Running))
	h.logger.Info("process started", "pid", cmd.Process.Pid, "command", spec.Command)

	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	if h.stdoutLines != nil {
		h.stdoutLines.Flush()
	}
	h.stderrLines.Flush()

	code := -1
	if ps := h.cmd.ProcessState; ps != nil {
		code = ps.ExitCode()
	}

	requested := h.stopping.Load() || h.ctx.Err() != nil ||
		State(h.state.Load()) == Terminating
	final := Terminated
	if err != nil && !requested {
		final = Failed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = &ExitError{Name: h.name, Code: code, Err: err}
		}
	}

	h.writeMu.Lock()
	h.stdinClosed = true
	h.writeMu.Unlock()

	h.exitCode = code
	h.err = err
	h.state.Store(int32(final))

	if final == Failed {
		h.logger.Error("process failed", "exit_code", code, "error", err)
	} else {
		h.logger.Info("process exited", "exit_code", code)
	}
	close(h.done)
}

// Name returns the process name.
func (h *Handle) Name() string {
	return h.name
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// PID returns the operating-system process id.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Err returns the wait error once the process has exited. An unrequested
// non-zero exit is reported as *ExitError.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteLine writes text followed by a newline to the process input.
// Concurrent calls never interleave. Writing to a closed or exited
// process returns a *BrokenPipeError.
func (h *Handle) WriteLine(text string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.stdin == nil {
		return ErrNoStdin
	}
	if h.stdinClosed || h.State() != Running {
		return &BrokenPipeError{Name: h.name}
	}
	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		return &BrokenPipeError{Name: h.name, Err: err}
	}
	return nil
}

// CloseStdin closes the process input, signalling end of data.
func (h *Handle) CloseStdin() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.stdin == nil || h.stdinClosed {
		return nil
	}
	h.stdinClosed = true
	return h.stdin.Close()
}

// Stop closes stdin, sends SIGTERM and waits up to grace for the process
// to exit. A process still running after grace is killed and Stop
// returns a *TimeoutError. The final state is Terminated either way.
// Stop on a handle that is not running is a no-op.
func (h *Handle) Stop(grace time.Duration) error {
	h.stopping.Store(true)
	if !h.state.CompareAndSwap(int32(Running), int32(Terminating)) {
		if h.State() == Terminating {
			<-h.done
		}
		return nil
	}

	_ = h.CloseStdin()
	if err := h.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.logger.Warn("terminate signal failed", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}

	h.logger.Warn("process ignored terminate, killing", "grace", grace)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.logger.Error("kill failed", "error", err)
	}
	<-h.done
	return &TimeoutError{Name: h.name, Grace: grace}
}
