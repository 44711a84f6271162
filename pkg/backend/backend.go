// Package backend defines the execution boundary between the gateway core
// and the LLM client layer. The core never talks HTTP or provider SDKs;
// it hands a model identifier and a request to an Executor and gets back
// a response or an error.
package backend

import (
	"context"
	"time"
)

// Request is a provider-agnostic generation request.
// The core treats it as opaque payload; only the ID is inspected (for
// logging and attempt correlation).
type Request struct {
	// ID is the unique identifier for this request.
	// If empty, the gateway assigns one at entry.
	ID string

	// Prompt is the input text for single-turn generation.
	Prompt string

	// Messages is the conversation history for multi-turn generation.
	// When set, Prompt is ignored by most executors.
	Messages []Message

	// Parameters contains provider-specific generation parameters
	// (temperature, max_tokens, etc.). Passed through untouched.
	Parameters map[string]any
}

// Message is a single conversation turn.
type Message struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Response is a provider-agnostic generation response.
type Response struct {
	// Model is the model identifier that actually served the request.
	Model string

	// Content is the generated text.
	Content string

	// TokensUsed is the total token count reported by the backend
	// (0 if the backend does not report usage).
	TokensUsed int

	// Elapsed is the wall-clock duration of the backend call.
	Elapsed time.Duration
}

// Executor executes a request against a concrete backend model.
// Implementations are supplied by the LLM client layer and must respect
// context cancellation, returning promptly when the context is done.
//
// Executors must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, model string, req *Request) (*Response, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, model string, req *Request) (*Response, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, model string, req *Request) (*Response, error) {
	return f(ctx, model, req)
}
