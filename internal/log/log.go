// Package log provides structured logging for go-voiceloop.
// It wraps slog with sensible defaults and an append-only log file sink.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	logger *slog.Logger
	file   *os.File
	once   sync.Once
)

// Options controls where and how much the global logger writes.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// File is appended to when set. Parent directories are created.
	File string

	// Console mirrors log lines to stderr in addition to File.
	Console bool
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger. Only the first call has any effect.
func Init(opts Options) error {
	var initErr error
	once.Do(func() {
		var out io.Writer = os.Stderr
		if opts.File != "" {
			f, err := openAppend(opts.File)
			if err != nil {
				initErr = err
				return
			}
			file = f
			out = f
			if opts.Console {
				out = io.MultiWriter(f, os.Stderr)
			}
		}
		logger = New(out, opts.Level)
		slog.SetDefault(logger)
	})
	return initErr
}

// New builds a logger writing to w. Use this in tests and tools that need
// a private logger instead of the global one.
func New(w io.Writer, level string) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: ParseLevel(level)}

	// Use JSON in production, text in development
	if os.Getenv("GO_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	if file == nil {
		return nil
	}
	return file.Close()
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		_ = Init(Options{Level: "info"})
	}
	return logger
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
