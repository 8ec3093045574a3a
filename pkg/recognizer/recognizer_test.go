package recognizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/process"
)

func newTestRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{
		WithLogger(log.Discard()),
		WithRelaunchDelay(10 * time.Millisecond),
		WithGracePeriod(time.Second),
	}, opts...)
	r, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestRunForwardsFragments(t *testing.T) {
	r := newTestRunner(t,
		WithCommand("sh", "-c", "echo 'hello there'; echo; echo '  how are you  '; sleep 30"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 16)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, out) }()

	var fragments []string
	timeout := time.After(5 * time.Second)
	for len(fragments) < 2 {
		select {
		case ev := <-out:
			if ev.Kind == Fragment {
				fragments = append(fragments, ev.Text)
			}
		case <-timeout:
			t.Fatalf("timed out, got %q", fragments)
		}
	}
	if fragments[0] != "hello there" || fragments[1] != "how are you" {
		t.Errorf("fragments = %q", fragments)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRelaunchesAfterCleanExit(t *testing.T) {
	r := newTestRunner(t, WithCommand("sh", "-c", "echo tick"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 64)
	go r.Run(ctx, out)

	ticks := 0
	timeout := time.After(5 * time.Second)
	for ticks < 3 {
		select {
		case ev := <-out:
			if ev.Kind == Fragment && ev.Text == "tick" {
				ticks++
			}
			if ev.Kind == Failed {
				t.Fatalf("unexpected failure: %v", ev.Err)
			}
		case <-timeout:
			t.Fatalf("only %d cycles ran", ticks)
		}
	}
}

func TestRunRetriesThenGivesUp(t *testing.T) {
	r := newTestRunner(t,
		WithCommand("sh", "-c", "exit 2"),
		WithRestart(2, time.Millisecond),
	)

	out := make(chan Event, 64)
	err := r.Run(context.Background(), out)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Expected ErrRetriesExhausted, got %v", err)
	}
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 2 {
		t.Errorf("Expected wrapped exit code 2, got %v", err)
	}

	close(out)
	var started, failed int
	for ev := range out {
		switch ev.Kind {
		case Started:
			started++
		case Failed:
			failed++
			if ev.ExitCode != 2 {
				t.Errorf("Failed event exit code = %d", ev.ExitCode)
			}
		}
	}
	// One launch plus MaxRetries relaunches.
	if started != 3 {
		t.Errorf("started %d cycles, want 3", started)
	}
	if failed != 3 {
		t.Errorf("failed %d cycles, want 3", failed)
	}
}

func TestRunWithoutRestart(t *testing.T) {
	r := newTestRunner(t,
		WithCommand("sh", "-c", "exit 1"),
		WithoutRestart(),
	)

	out := make(chan Event, 16)
	err := r.Run(context.Background(), out)
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected ExitError, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("no retries should have been attempted")
	}
}

func TestRunLaunchFailureCounts(t *testing.T) {
	r := newTestRunner(t,
		WithCommand("/nonexistent/asr"),
		WithRestart(1, time.Millisecond),
	)

	err := r.Run(context.Background(), make(chan Event, 16))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Expected ErrRetriesExhausted, got %v", err)
	}
	var launchErr *process.LaunchError
	if !errors.As(err, &launchErr) {
		t.Errorf("Expected wrapped LaunchError, got %v", err)
	}
}

func TestRunCycleTimeoutRelaunches(t *testing.T) {
	r := newTestRunner(t,
		WithCommand("sleep", "30"),
		WithCycleTimeout(100*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 16)
	go r.Run(ctx, out)

	started := 0
	timeout := time.After(5 * time.Second)
	for started < 2 {
		select {
		case ev := <-out:
			if ev.Kind == Started {
				started++
			}
			if ev.Kind == Failed {
				t.Fatalf("timed-out cycle reported as failure: %v", ev.Err)
			}
		case <-timeout:
			t.Fatal("cycle was not relaunched after timeout")
		}
	}
}

func TestRunSuccessResetsFailures(t *testing.T) {
	// Alternate failing and succeeding cycles using a marker file: with
	// MaxRetries 1, two failures in a row would end Run.
	dir := t.TempDir()
	script := `if [ -f ` + dir + `/ok ]; then rm ` + dir + `/ok; echo fine; else touch ` + dir + `/ok; exit 1; fi`
	r := newTestRunner(t,
		WithCommand("sh", "-c", script),
		WithRestart(1, time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 64)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, out) }()

	fine := 0
	timeout := time.After(5 * time.Second)
	for fine < 3 {
		select {
		case ev := <-out:
			if ev.Kind == Fragment {
				fine++
			}
		case err := <-done:
			t.Fatalf("Run ended early: %v", err)
		case <-timeout:
			t.Fatal("timed out")
		}
	}
}

func TestExpandedArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Container = "charming_benz"
	cfg.Mic = "11"
	cfg.Pipe = "voice_recognition_pipe"

	got := strings.Join(cfg.ExpandedArgs(), " ")
	want := "exec -i charming_benz python3 -u examples/asr.py --mic 11 --pipe voice_recognition_pipe"
	if got != want {
		t.Errorf("ExpandedArgs = %q, want %q", got, want)
	}
}

func TestBackoff(t *testing.T) {
	cfg := &Config{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.backoff(tt.n); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(WithCommand(""), WithLogger(log.Discard())); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Expected ErrNoCommand, got %v", err)
	}
	if _, err := New(WithRestart(-1, 0), WithLogger(log.Discard())); !errors.Is(err, ErrInvalidRetries) {
		t.Errorf("Expected ErrInvalidRetries, got %v", err)
	}
}
