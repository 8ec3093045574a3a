package tts_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/process"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// writeScript creates an executable shell script standing in for piper or aplay.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitForState(t *testing.T, p *tts.Piper, want process.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", p.State(), want)
}

func TestPiperDeliversUnitsInOrder(t *testing.T) {
	dir := t.TempDir()
	linesFile := filepath.Join(dir, "lines.txt")
	audioFile := filepath.Join(dir, "audio.raw")

	// The fake synthesizer logs each input line and "renders" it to stdout.
	piper := writeScript(t, dir, "piper", `while IFS= read -r line; do
  echo "$line" >> "`+linesFile+`"
  echo "pcm:$line"
done`)
	aplay := writeScript(t, dir, "aplay", `cat > "`+audioFile+`"`)

	sink, err := tts.NewPiper(context.Background(),
		tts.WithBinary(piper),
		tts.WithModel("voice.onnx"),
		tts.WithPlayback(aplay),
		tts.WithGracePeriod(2*time.Second),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewPiper failed: %v", err)
	}

	ctx := context.Background()
	units := []segment.Unit{
		{Index: 0, Text: "Hello world."},
		{Index: 1, Text: " How are\nyou?"},
		{Index: 2, Text: " Bye"},
	}
	for _, u := range units {
		if err := sink.Accept(ctx, u); err != nil {
			t.Fatalf("Accept(%d) failed: %v", u.Index, err)
		}
	}
	if sink.Accepted() != 3 {
		t.Errorf("Accepted = %d, want 3", sink.Accepted())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines, err := os.ReadFile(linesFile)
	if err != nil {
		t.Fatal(err)
	}
	want := "Hello world.\n How are you?\n Bye\n"
	if string(lines) != want {
		t.Errorf("synthesizer input = %q, want %q", lines, want)
	}

	audio, err := os.ReadFile(audioFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(audio), "pcm:Hello world.") || !strings.Contains(string(audio), "pcm: Bye") {
		t.Errorf("player input = %q", audio)
	}

	if err := sink.Accept(ctx, units[0]); !errors.Is(err, tts.ErrClosed) {
		t.Errorf("Accept after Close = %v, want ErrClosed", err)
	}
}

func TestPiperBrokenPipeAndRestart(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")
	linesFile := filepath.Join(dir, "lines.txt")

	// First launch exits at once; later launches read normally.
	piper := writeScript(t, dir, "piper", `if [ ! -f "`+marker+`" ]; then
  touch "`+marker+`"
  exit 0
fi
while IFS= read -r line; do echo "$line" >> "`+linesFile+`"; done`)

	sink, err := tts.NewPiper(context.Background(),
		tts.WithBinary(piper),
		tts.WithModel("voice.onnx"),
		tts.WithoutPlayback(),
		tts.WithGracePeriod(time.Second),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewPiper failed: %v", err)
	}
	defer sink.Close()

	waitForState(t, sink, process.Terminated)

	ctx := context.Background()
	unit := segment.Unit{Text: "Are you there?"}
	err = sink.Accept(ctx, unit)
	if !process.IsBrokenPipe(err) {
		t.Fatalf("Accept on dead synthesizer = %v, want broken pipe", err)
	}

	if err := sink.Restart(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if err := sink.Accept(ctx, unit); err != nil {
		t.Fatalf("Accept after restart failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines, _ := os.ReadFile(linesFile)
	if string(lines) != "Are you there?\n" {
		t.Errorf("synthesizer input = %q", lines)
	}
}

func TestPiperRestartOutlivesCallerContext(t *testing.T) {
	dir := t.TempDir()
	piper := writeScript(t, dir, "piper", `cat >/dev/null`)

	sink, err := tts.NewPiper(context.Background(),
		tts.WithBinary(piper),
		tts.WithModel("voice.onnx"),
		tts.WithoutPlayback(),
		tts.WithGracePeriod(time.Second),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewPiper failed: %v", err)
	}
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Restart(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	cancel()
	time.Sleep(100 * time.Millisecond)

	if st := sink.State(); st != process.Running {
		t.Fatalf("state after caller cancel = %s, want running", st)
	}
	if err := sink.Accept(context.Background(), segment.Unit{Text: "still here"}); err != nil {
		t.Errorf("Accept after restart failed: %v", err)
	}

	done, stop := context.WithCancel(context.Background())
	stop()
	if err := sink.Restart(done); !errors.Is(err, context.Canceled) {
		t.Errorf("Restart with cancelled ctx = %v", err)
	}
}

func TestPiperLaunchError(t *testing.T) {
	_, err := tts.NewPiper(context.Background(),
		tts.WithBinary("/nonexistent/piper"),
		tts.WithModel("voice.onnx"),
		tts.WithoutPlayback(),
		tts.WithLogger(log.Discard()),
	)
	var launchErr *process.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("Expected LaunchError, got %v", err)
	}
}

func TestPiperStderrLogged(t *testing.T) {
	dir := t.TempDir()
	piper := writeScript(t, dir, "piper", `echo "loading voice" >&2
cat >/dev/null`)

	var stderr bytes.Buffer
	sink, err := tts.NewPiper(context.Background(),
		tts.WithBinary(piper),
		tts.WithModel("voice.onnx"),
		tts.WithoutPlayback(),
		tts.WithStderrLog(&stderr),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewPiper failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !strings.Contains(stderr.String(), "loading voice") {
		t.Errorf("stderr log = %q", stderr.String())
	}
}

func TestConfigValidate(t *testing.T) {
	_, err := tts.NewPiper(context.Background(), tts.WithLogger(log.Discard()))
	if !errors.Is(err, tts.ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}
	_, err = tts.NewPiper(context.Background(), tts.WithBinary(""), tts.WithModel("m"), tts.WithLogger(log.Discard()))
	if !errors.Is(err, tts.ErrNoBinary) {
		t.Errorf("Expected ErrNoBinary, got %v", err)
	}
}

func TestPlaybackArgs(t *testing.T) {
	cfg := tts.DefaultConfig()
	got := strings.Join(cfg.PlaybackArgs(), " ")
	if got != "-r 22050 -f S16_LE -t raw -B 2048" {
		t.Errorf("PlaybackArgs = %q", got)
	}
	cfg.Model = "voice.onnx"
	if got := strings.Join(cfg.SynthArgs(), " "); got != "--model voice.onnx --output-raw" {
		t.Errorf("SynthArgs = %q", got)
	}
}

func TestRecorder(t *testing.T) {
	var echo bytes.Buffer
	rec := tts.NewRecorder()
	rec.Echo = &echo
	ctx := context.Background()

	rec.Accept(ctx, segment.Unit{Index: 0, Text: "One."})
	rec.Accept(ctx, segment.Unit{Index: 1, Text: " Two."})

	if got := rec.Texts(); len(got) != 2 || got[0] != "One." || got[1] != " Two." {
		t.Errorf("Texts = %q", got)
	}
	if echo.String() != "One. Two." {
		t.Errorf("echo = %q", echo.String())
	}

	rec.Close()
	if err := rec.Accept(ctx, segment.Unit{Text: "x"}); !errors.Is(err, tts.ErrClosed) {
		t.Errorf("Accept after Close = %v", err)
	}

	rec.Reset()
	reject := errors.New("rejected")
	rec.AcceptFunc = func(ctx context.Context, u segment.Unit) error { return reject }
	if err := rec.Accept(ctx, segment.Unit{Text: "x"}); !errors.Is(err, reject) {
		t.Errorf("Accept = %v, want rejection", err)
	}
	if len(rec.Units()) != 0 {
		t.Error("rejected unit was recorded")
	}
}
