// Package inference streams text generations from a language-model service.
//
// Providers turn a prompt into a Stream of Records. Relay drives a
// segment.Segmenter from a Stream so that speakable units become available
// while the reply is still being generated.
//
// Example usage:
//
//	provider, _ := inference.NewOllama(
//	    inference.WithBaseURL("http://localhost:11434"),
//	    inference.WithModel("tinydolphin"),
//	)
//	defer provider.Close()
//
//	stream, _ := provider.Generate(ctx, &inference.Request{Prompt: "Hello!"})
//	defer stream.Close()
//
//	res, _ := inference.Relay(ctx, stream, segment.New(segment.Extended), func(u segment.Unit) error {
//	    return sink.Accept(ctx, u)
//	})
package inference

import "context"

// Provider is the interface every generation backend implements.
type Provider interface {
	// Generate starts a streaming generation for req.
	Generate(ctx context.Context, req *Request) (Stream, error)

	// Health checks that the service is reachable.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a lazy, finite, non-restartable sequence of Records.
type Stream interface {
	// Recv returns the next record. After a record with Done set, Recv
	// returns io.EOF.
	Recv() (*Record, error)

	// Close stops the stream and releases resources.
	Close() error
}

// Record is one decoded increment of a streamed generation.
type Record struct {
	// Delta is the incremental text, possibly empty.
	Delta string

	// Done marks the end of generation.
	Done bool

	// Truncated is set on the synthetic final record produced when the
	// service closed the stream without signalling completion.
	Truncated bool
}

// Request is a single generation request.
type Request struct {
	// Prompt is the full prompt text.
	Prompt string

	// System is an optional system instruction.
	System string

	// Model overrides the provider's default model.
	Model string

	// NumCtx overrides the context window size.
	NumCtx int

	// KeepAlive controls how long the service keeps the model loaded.
	KeepAlive string

	// Temperature controls randomness. Zero leaves the service default.
	Temperature float64
}
