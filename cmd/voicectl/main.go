// voicectl - control a running voiceloop session
//
//	voicectl send pause|resume|clear|send|quit
//	voicectl prompt "what time is it"
//	voicectl status
//	voicectl watch
//
// send writes to the control pipe unless -addr is given, in which case it
// goes through the operator API like the other subcommands.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-voiceloop/internal/httpc"
	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/web"
)

func main() {
	pipe := flag.String("pipe", envOr("CONTROL_PIPE", "voiceloop_control"), "Control pipe path")
	addr := flag.String("addr", os.Getenv("VOICELOOP_ADDR"), "Operator API address, e.g. localhost:8080")
	timeout := flag.Duration("timeout", 5*time.Second, "Timeout for send, prompt and status")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch args := flag.Args(); args[0] {
	case "send":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = send(ctx, *pipe, *addr, args[1], *timeout)
	case "prompt":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		err = prompt(ctx, requireAddr(*addr), strings.Join(args[1:], " "), *timeout)
	case "status":
		err = status(ctx, requireAddr(*addr), *timeout)
	case "watch":
		err = watch(ctx, requireAddr(*addr))
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: voicectl [flags] send <command> | prompt <text> | status | watch")
	fmt.Fprintln(os.Stderr, "commands:", commandList())
	flag.PrintDefaults()
}

func commandList() string {
	names := make([]string, 0, len(control.Commands()))
	for _, c := range control.Commands() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireAddr(addr string) string {
	if addr == "" {
		fmt.Fprintln(os.Stderr, "voicectl: -addr or VOICELOOP_ADDR is required")
		os.Exit(2)
	}
	return addr
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func send(ctx context.Context, pipe, addr, name string, timeout time.Duration) error {
	cmd, err := control.Parse(name)
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, commandList())
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if addr != "" {
		return post(ctx, baseURL(addr)+"/api/commands/"+url.PathEscape(cmd.String()), nil)
	}
	if err := control.New(pipe).Send(ctx, cmd); err != nil {
		return fmt.Errorf("send %s to %s: %w", cmd, pipe, err)
	}
	return nil
}

func prompt(ctx context.Context, addr, text string, timeout time.Duration) error {
	body, err := json.Marshal(web.PromptRequest{Text: text})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return post(ctx, baseURL(addr)+"/api/prompt", body)
}

func post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpc.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func status(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := httpc.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status: %s", resp.Status)
	}

	var st web.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	fmt.Printf("session:    %s\n", st.SessionID)
	fmt.Printf("state:      %s\n", st.State)
	fmt.Printf("mode:       %s (%s send)\n", st.Mode, st.SendMode)
	fmt.Printf("provider:   %s\n", st.Provider)
	fmt.Printf("paused:     %t\n", st.Paused)
	fmt.Printf("failures:   %d\n", st.InferenceFailures)
	fmt.Printf("clients:    %d\n", st.Clients)
	fmt.Printf("transcript: %s\n", strings.Join(st.Transcript, " "))
	return nil
}

func watch(ctx context.Context, addr string) error {
	target := "ws" + strings.TrimPrefix(baseURL(addr), "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev web.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printEvent(os.Stdout, ev)
	}
}

func printEvent(w io.Writer, ev web.Event) {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Type {
	case web.EventState:
		fmt.Fprintf(w, "%s state      %s -> %s\n", ts, ev.From, ev.State)
	case web.EventTranscript, web.EventPrompt:
		fmt.Fprintf(w, "%s %-10s %s\n", ts, ev.Type, ev.Text)
	case web.EventUnit:
		fmt.Fprintf(w, "%s unit %-5d %s\n", ts, ev.Unit, ev.Text)
	case web.EventReply:
		if ev.Reply != nil {
			fmt.Fprintf(w, "%s reply      %d units in %s truncated=%t\n", ts, ev.Reply.Units, ev.Reply.Duration, ev.Reply.Truncated)
		}
	case web.EventStatus:
		if ev.Status != nil {
			fmt.Fprintf(w, "%s status     %s %s\n", ts, ev.Status.SessionID, ev.Status.State)
		}
	case web.EventError:
		fmt.Fprintf(w, "%s error      %s\n", ts, ev.Error)
	default:
		fmt.Fprintf(w, "%s %s\n", ts, ev.Type)
	}
}
