package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/log"
)

func newTestOllama(t *testing.T, url string, opts ...Option) *Ollama {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(url),
		WithModel("tinydolphin"),
		WithLogger(log.Discard()),
		WithRetry(0, 0),
	}, opts...)
	o, err := NewOllama(opts...)
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	return o
}

func collect(t *testing.T, s Stream) ([]Record, error) {
	t.Helper()
	var out []Record
	for rec, err := range Records(s) {
		if err != nil {
			return out, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func TestOllamaGeneratePayload(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected /api/generate, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprintln(w, `{"response":"Hi.","done":true}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL, WithNumCtx(2048), WithKeepAlive("5m"))
	stream, err := o.Generate(context.Background(), &Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer stream.Close()
	if _, err := collect(t, stream); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if got.Model != "tinydolphin" || got.Prompt != "hello" || !got.Stream {
		t.Errorf("unexpected payload: %+v", got)
	}
	if got.Options.NumCtx != 2048 {
		t.Errorf("num_ctx = %d, want 2048", got.Options.NumCtx)
	}
	if got.KeepAlive != "5m" {
		t.Errorf("keep_alive = %q, want 5m", got.KeepAlive)
	}
}

func TestOllamaStreamSkipsMalformedLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `{"response": not json`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"response":" world.","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL)
	stream, err := o.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer stream.Close()

	records, err := collect(t, stream)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(records), records)
	}
	if records[0].Delta != "Hello" || records[1].Delta != " world." {
		t.Errorf("deltas = %q, %q", records[0].Delta, records[1].Delta)
	}
	if !records[2].Done || records[2].Truncated {
		t.Errorf("final record = %+v", records[2])
	}

	// After the final record the stream is exhausted.
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv after done = %v, want io.EOF", err)
	}
}

func TestOllamaStreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Cut","done":false}`)
		fmt.Fprint(w, `{"response":" off`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL)
	stream, err := o.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer stream.Close()

	records, err := collect(t, stream)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	last := records[len(records)-1]
	if !last.Done || !last.Truncated {
		t.Errorf("last record = %+v, want truncated done", last)
	}
	if records[0].Delta != "Cut" {
		t.Errorf("first delta = %q", records[0].Delta)
	}
}

func TestOllamaInStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not loaded"}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL)
	stream, err := o.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer stream.Close()

	_, err = collect(t, stream)
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error = %v", err)
	}
}

func TestOllamaAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found"}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL)
	_, err := o.Generate(context.Background(), &Request{Prompt: "hi", Model: "nope"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if !apiErr.IsNotFound() {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "model 'nope' not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestOllamaRetriesServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"response":"ok","done":true}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL, WithRetry(2, time.Millisecond))
	stream, err := o.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	stream.Close()
	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestOllamaUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	o := newTestOllama(t, url)
	_, err := o.Generate(context.Background(), &Request{Prompt: "hi"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected ProviderError, got %T: %v", err, err)
	}
	if provErr.Provider != "ollama" {
		t.Errorf("provider = %q", provErr.Provider)
	}
}

func TestOllamaEmptyPrompt(t *testing.T) {
	o := newTestOllama(t, "http://127.0.0.1:1")
	if _, err := o.Generate(context.Background(), &Request{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("Expected ErrEmptyPrompt, got %v", err)
	}
}

func TestOllamaHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("Expected /api/tags, got %s", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL)
	if err := o.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	healthy.Store(false)
	if err := o.Health(context.Background()); err == nil {
		t.Fatal("Expected health error")
	}
}

func TestStreamRecvAfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"a","done":false}`)
	}))
	defer server.Close()

	o := newTestOllama(t, server.URL)
	stream, err := o.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	stream.Close()
	if _, err := stream.Recv(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv after Close = %v, want ErrStreamClosed", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewOllama(WithBaseURL(""), WithLogger(log.Discard())); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("Expected ErrNoBaseURL, got %v", err)
	}
	if _, err := NewOllama(WithModel(""), WithLogger(log.Discard())); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}
}
