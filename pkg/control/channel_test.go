package control

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/log"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control_pipe")
	return New(path, WithLogger(log.Discard()), WithPollInterval(5*time.Millisecond))
}

func isFIFO(t *testing.T, path string) bool {
	t.Helper()
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Mode()&fs.ModeNamedPipe != 0
}

func TestCreateIfAbsentIdempotent(t *testing.T) {
	ch := newTestChannel(t)

	if err := ch.CreateIfAbsent(); err != nil {
		t.Fatalf("CreateIfAbsent failed: %v", err)
	}
	if err := ch.CreateIfAbsent(); err != nil {
		t.Fatalf("second CreateIfAbsent failed: %v", err)
	}
	if !isFIFO(t, ch.Path()) {
		t.Error("expected a named pipe")
	}
}

func TestCreateIfAbsentReplacesStaleFile(t *testing.T) {
	ch := newTestChannel(t)
	if err := os.WriteFile(ch.Path(), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ch.CreateIfAbsent(); err != nil {
		t.Fatalf("CreateIfAbsent failed: %v", err)
	}
	if !isFIFO(t, ch.Path()) {
		t.Error("stale file was not replaced by a pipe")
	}
}

func TestResetAndRemove(t *testing.T) {
	ch := newTestChannel(t)

	// Missing file is ignored.
	if err := ch.Remove(); err != nil {
		t.Fatalf("Remove on missing file: %v", err)
	}
	if err := ch.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := ch.Reset(); err != nil {
		t.Fatalf("second Reset failed: %v", err)
	}
	if !isFIFO(t, ch.Path()) {
		t.Error("expected a named pipe after Reset")
	}
	if err := ch.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := ch.Remove(); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	if _, err := os.Stat(ch.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("pipe still present: %v", err)
	}
}

func TestSendOrderObserved(t *testing.T) {
	ch := newTestChannel(t)
	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	defer ch.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan string, 16)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- ch.Listen(ctx, func(line string) { lines <- line })
	}()

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	for _, cmd := range []Command{Pause, Resume, Pause, Resume} {
		if err := ch.Send(sendCtx, cmd); err != nil {
			t.Fatalf("Send(%s) failed: %v", cmd, err)
		}
	}

	want := []string{"pause", "resume", "pause", "resume"}
	for i, w := range want {
		select {
		case got := <-lines:
			if got != w {
				t.Errorf("line %d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}

	cancel()
	select {
	case err := <-listenErr:
		if err != nil {
			t.Errorf("Listen returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestSendWithoutReaderTimesOut(t *testing.T) {
	ch := newTestChannel(t)
	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	defer ch.Remove()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := ch.Send(ctx, Pause)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestSendMissingChannel(t *testing.T) {
	ch := newTestChannel(t)

	err := ch.Send(context.Background(), Quit)
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("Expected ErrNoChannel, got %v", err)
	}
}

func TestListenRejectsRegularFile(t *testing.T) {
	ch := newTestChannel(t)
	if err := os.WriteFile(ch.Path(), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err := ch.Listen(context.Background(), func(string) {})
	if !errors.Is(err, ErrNotFIFO) {
		t.Fatalf("Expected ErrNotFIFO, got %v", err)
	}
}

func TestSendLineCollapsesNewlines(t *testing.T) {
	ch := newTestChannel(t)
	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	defer ch.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan string, 4)
	go ch.Listen(ctx, func(line string) { lines <- line })

	if err := ch.SendLine(ctx, "hello\nworld"); err != nil {
		t.Fatalf("SendLine failed: %v", err)
	}
	select {
	case got := <-lines:
		if got != "hello world" {
			t.Errorf("line = %q, want %q", got, "hello world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
