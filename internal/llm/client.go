// Package llm provides clients for OpenAI-compatible chat completion
// services. Pipeline stages send prompts that demand structured JSON output
// and parse the reply themselves.
package llm

import "context"

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
}

// Client produces chat completions.
type Client interface {
	// Complete returns the assistant reply for the given request.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Provider identifies the backing provider, for logs and metrics.
	Provider() string
}
