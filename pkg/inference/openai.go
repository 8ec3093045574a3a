package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI streams chat completions from any OpenAI-compatible API
// (OpenAI, Ollama's /v1, vLLM, llama.cpp server).
type OpenAI struct {
	client *openai.Client
	config *Config
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible provider. BaseURL must include
// the version prefix, for example "http://localhost:11434/v1".
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:11434/v1"
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	clientCfg.HTTPClient = httpc.NewClient(0)

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		logger: cfg.Logger.With("component", "inference.openai"),
	}, nil
}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return providerOpenAI
}

// Generate starts a streaming chat completion with the prompt as the
// single user message.
func (o *OpenAI) Generate(ctx context.Context, req *Request) (Stream, error) {
	if req == nil || req.Prompt == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyPrompt)
	}

	model := req.Model
	if model == "" {
		model = o.config.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.config.Temperature
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	streamCtx, cancel := o.config.streamContext(ctx)

	stream, err := o.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(temperature),
		Stream:      true,
	})
	if err != nil {
		cancel()
		return nil, mapOpenAIError(err)
	}

	o.logger.Debug("stream opened", "model", model, "prompt_len", len(req.Prompt))
	return &openaiStream{stream: stream, ctx: streamCtx, cancel: cancel, logger: o.logger}, nil
}

// Health lists models to confirm the endpoint and key are usable.
func (o *OpenAI) Health(ctx context.Context) error {
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}
	if _, err := o.client.ListModels(ctx); err != nil {
		return mapOpenAIError(err)
	}
	return nil
}

// Close is a no-op; the underlying client holds no resources.
func (o *OpenAI) Close() error {
	return nil
}

// mapOpenAIError converts go-openai errors into APIError.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Code:       code,
			Provider:   providerOpenAI,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
			Provider:   providerOpenAI,
		}
	}
	return WrapError(providerOpenAI, err)
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	done   bool
	closed bool
}

// Recv returns the next record. A finish reason marks the final record;
// a stream that simply ends is finalized without one. A transport break
// yields a final record with Truncated set, like the Ollama stream.
func (s *openaiStream) Recv() (*Record, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.done {
		return nil, io.EOF
	}

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return &Record{Done: true}, nil
		}
		if err != nil {
			s.done = true
			var apiErr *openai.APIError
			if s.ctx.Err() != nil || errors.As(err, &apiErr) {
				return nil, mapOpenAIError(err)
			}
			s.logger.Warn("stream broke before completion", "error", err)
			return &Record{Done: true, Truncated: true}, nil
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		done := choice.FinishReason != ""
		if done {
			s.done = true
		}
		return &Record{Delta: choice.Delta.Content, Done: done}, nil
	}
}

// Close stops the stream.
func (s *openaiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stream.Close()
	s.cancel()
	return err
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)
