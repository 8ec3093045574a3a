// Package control implements the out-of-band command channel used to
// pause, resume and steer a running session.
//
// A Channel is a named pipe at a filesystem path. Any process may write
// a single command line to it; exactly one reader consumes the lines.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPollInterval is how often Send retries while no reader is present.
const DefaultPollInterval = 50 * time.Millisecond

// Config configures a Channel.
type Config struct {
	PollInterval time.Duration
	Mode         uint32
	Logger       *slog.Logger
}

// Option configures a Channel.
type Option func(*Config)

// WithPollInterval sets how often Send retries while waiting for a reader.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithMode sets the permission bits of a newly created pipe.
func WithMode(mode uint32) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Channel is a named-pipe command channel.
type Channel struct {
	path   string
	cfg    Config
	logger *slog.Logger

	// sendMu keeps lines from concurrent senders in one process ordered.
	sendMu sync.Mutex
}

// New returns a Channel for path. The pipe is not created until
// CreateIfAbsent or Reset is called.
func New(path string, opts ...Option) *Channel {
	cfg := Config{
		PollInterval: DefaultPollInterval,
		Mode:         0o660,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		path:   path,
		cfg:    cfg,
		logger: logger.With("component", "control.channel", "path", path),
	}
}

// Path returns the filesystem path of the pipe.
func (c *Channel) Path() string {
	return c.path
}

// CreateIfAbsent creates the pipe unless a pipe already exists at the
// path. A stale regular file left at the path is replaced.
func (c *Channel) CreateIfAbsent() error {
	info, err := os.Lstat(c.path)
	switch {
	case err == nil && info.Mode()&fs.ModeNamedPipe != 0:
		return nil
	case err == nil:
		c.logger.Warn("replacing stale non-pipe file")
		if err := os.Remove(c.path); err != nil {
			return fmt.Errorf("control: remove stale file: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("control: stat: %w", err)
	}
	return c.mkfifo()
}

// Reset removes whatever is at the path, ignoring a missing file, and
// creates a fresh pipe. Sessions call it at start to clear leftovers from
// a crashed predecessor.
func (c *Channel) Reset() error {
	if err := c.Remove(); err != nil {
		return err
	}
	return c.mkfifo()
}

// Remove deletes the pipe. A missing file is not an error.
func (c *Channel) Remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("control: remove: %w", err)
	}
	return nil
}

func (c *Channel) mkfifo() error {
	if err := unix.Mkfifo(c.path, c.cfg.Mode); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("control: mkfifo %s: %w", c.path, err)
	}
	c.logger.Debug("pipe created")
	return nil
}

// Send delivers one command. It waits until a reader has the pipe open,
// polling until ctx is done.
func (c *Channel) Send(ctx context.Context, cmd Command) error {
	return c.SendLine(ctx, cmd.String())
}

// SendLine delivers one raw line. Embedded newlines are replaced by
// spaces so the line stays a single record.
func (c *Channel) SendLine(ctx context.Context, line string) error {
	line = strings.ReplaceAll(line, "\n", " ")

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	f, err := c.openWriter(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("control: write %q: %w", line, err)
	}
	c.logger.Debug("command sent", "line", line)
	return nil
}

// openWriter opens the write end without blocking. ENXIO means no reader
// has the pipe open yet.
func (c *Channel) openWriter(ctx context.Context) (*os.File, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(c.path, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}
		switch {
		case errors.Is(err, unix.ENXIO):
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrNoChannel, c.path)
		default:
			return nil, fmt.Errorf("control: open %s: %w", c.path, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("control: no reader on %s: %w", c.path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Listen reads the pipe until ctx is done, calling fn once per non-empty
// line in arrival order. Only one Listen may run per pipe.
//
// The pipe is opened read-write so that writers coming and going never
// produce end-of-file.
func (c *Channel) Listen(ctx context.Context, fn func(line string)) error {
	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("control: stat: %w", err)
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		return fmt.Errorf("%w: %s", ErrNotFIFO, c.path)
	}

	f, err := os.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("control: open %s: %w", c.path, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("control: read: %w", err)
	}
	return nil
}
