package llm

import (
	"context"
)

// Client provides a provider-neutral interface for text generation.
// Implementations must be safe for concurrent use and must return only *Error values.
type Client interface {
	// Generate sends a single prompt with optional generation settings and returns
	// the complete response.
	Generate(ctx context.Context, prompt string, cfg Config) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string, cfg Config) (*Response, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, prompt string, cfg Config) (*Response, error) {
	return f(ctx, prompt, cfg)
}

var _ Client = ClientFunc(nil)
