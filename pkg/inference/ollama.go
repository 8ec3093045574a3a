package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const providerOllama = "ollama"

// maxRecordBytes bounds one NDJSON line.
const maxRecordBytes = 1 << 20

// Ollama streams generations from the native Ollama /api/generate endpoint.
type Ollama struct {
	baseURL string
	config  *Config
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// NewOllama creates an Ollama provider.
func NewOllama(opts ...Option) (*Ollama, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		// Streams are bounded by a context deadline, not a client timeout.
		stream: httpc.NewClient(0),
		logger: cfg.Logger.With("component", "inference.ollama"),
	}, nil
}

// Name returns "ollama".
func (o *Ollama) Name() string {
	return providerOllama
}

// Generate starts a streaming generation.
func (o *Ollama) Generate(ctx context.Context, req *Request) (Stream, error) {
	if req == nil || req.Prompt == "" {
		return nil, WrapError(providerOllama, ErrEmptyPrompt)
	}

	body, err := json.Marshal(o.buildPayload(req))
	if err != nil {
		return nil, WrapError(providerOllama, fmt.Errorf("marshal payload: %w", err))
	}

	streamCtx, cancel := o.config.streamContext(ctx)

	resp, err := o.doWithRetry(streamCtx, "/api/generate", body)
	if err != nil {
		cancel()
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	o.logger.Debug("stream opened", "model", o.modelFor(req), "prompt_len", len(req.Prompt))
	return &ollamaStream{
		ctx:     streamCtx,
		cancel:  cancel,
		body:    resp.Body,
		scanner: scanner,
		logger:  o.logger,
	}, nil
}

func (o *Ollama) modelFor(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return o.config.Model
}

func (o *Ollama) buildPayload(req *Request) generateRequest {
	numCtx := req.NumCtx
	if numCtx == 0 {
		numCtx = o.config.NumCtx
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.config.Temperature
	}
	keepAlive := req.KeepAlive
	if keepAlive == "" {
		keepAlive = o.config.KeepAlive
	}

	return generateRequest{
		Model:     o.modelFor(req),
		Prompt:    req.Prompt,
		System:    req.System,
		Stream:    true,
		KeepAlive: keepAlive,
		Options: generateOptions{
			NumCtx:      numCtx,
			Temperature: temperature,
		},
	}
}

// Health checks that the server answers /api/tags.
func (o *Ollama) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return WrapError(providerOllama, err)
	}
	resp, err := o.http.Do(httpReq)
	if err != nil {
		return WrapError(providerOllama, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (o *Ollama) Close() error {
	o.http.CloseIdleConnections()
	o.stream.CloseIdleConnections()
	return nil
}

// doWithRetry posts body to path. Transport errors, 429 and 5xx are retried.
func (o *Ollama) doWithRetry(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, WrapError(providerOllama, ctx.Err())
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerOllama, fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if o.config.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
		}

		resp, err := o.stream.Do(httpReq)
		if err != nil {
			lastErr = WrapError(providerOllama, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			o.logger.Warn("request failed, retrying",
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = o.parseError(resp)
			resp.Body.Close()
			o.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, o.parseError(resp)
		}
		return resp, nil
	}

	return nil, lastErr
}

// parseError reads an error response. Ollama replies {"error": "..."}.
func (o *Ollama) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerOllama,
	}
}

// ollamaStream reads NDJSON generate records.
type ollamaStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger

	done   bool
	closed bool
}

// Recv returns the next record. Malformed lines are logged and skipped.
// A body that ends without a done record yields a final record with
// Truncated set.
func (s *ollamaStream) Recv() (*Record, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			decodeErr := &DecodeError{Provider: providerOllama, Line: string(line), Err: err}
			s.logger.Warn("skipping malformed record", "error", decodeErr)
			continue
		}
		if chunk.Error != "" {
			s.done = true
			return nil, WrapError(providerOllama, errors.New(chunk.Error))
		}

		if chunk.Done {
			s.done = true
		}
		return &Record{Delta: chunk.Response, Done: chunk.Done}, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			return nil, WrapError(providerOllama, fmt.Errorf("read stream: %w", s.ctx.Err()))
		}
		s.logger.Warn("stream broke before completion", "error", err)
	} else {
		s.logger.Warn("stream ended without done record")
	}
	return &Record{Done: true, Truncated: true}, nil
}

// Close stops the stream.
func (s *ollamaStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.body.Close()
}

type generateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   generateOptions `json:"options"`
}

type generateOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateChunk struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Verify Ollama implements Provider at compile time.
var _ Provider = (*Ollama)(nil)
