package process

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions.
var (
	// ErrBrokenPipe matches any write to a closed or dead process input.
	ErrBrokenPipe = errors.New("process: broken pipe")

	// ErrNoStdin is returned by WriteLine when the caller supplied its own Stdin.
	ErrNoStdin = errors.New("process: stdin not owned by handle")

	// ErrNoCommand is returned by Start when Spec.Command is empty.
	ErrNoCommand = errors.New("process: command required")
)

// LaunchError is returned when a process could not be started.
type LaunchError struct {
	Name    string
	Command string
	Err     error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("process [%s]: launch %q: %v", e.Name, e.Command, e.Err)
}

// Unwrap returns the underlying error.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// BrokenPipeError is returned when writing to a process whose input is gone.
type BrokenPipeError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *BrokenPipeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("process [%s]: broken pipe", e.Name)
	}
	return fmt.Sprintf("process [%s]: broken pipe: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *BrokenPipeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBrokenPipe.
func (e *BrokenPipeError) Is(target error) bool {
	return target == ErrBrokenPipe
}

// TimeoutError is returned by Stop when the process ignored the
// termination request and had to be killed.
type TimeoutError struct {
	Name  string
	Grace time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process [%s]: did not exit within %s, killed", e.Name, e.Grace)
}

// ExitError describes a process that exited with a non-zero status.
type ExitError struct {
	Name string
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("process [%s]: exited with code %d", e.Name, e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// IsBrokenPipe reports whether err is a broken pipe from WriteLine.
func IsBrokenPipe(err error) bool {
	return errors.Is(err, ErrBrokenPipe)
}
