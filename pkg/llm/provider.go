// Package llm is the model transport: a provider-neutral chat completion
// interface with streaming, used by the agent loop.
package llm

import "context"

// Provider is one OpenAI-compatible model backend. Implementations own the
// wire details: request formatting, authentication, SSE parsing.
type Provider interface {
	// Complete sends a chat completion request and blocks for the full
	// response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)

	// Stream sends a chat completion request and returns incremental
	// deltas. The reply pipeline depends on these for partial-text
	// delivery, so implementations must emit content as it arrives.
	Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

// Config carries the provider settings from the gateway config.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
