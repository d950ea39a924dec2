// Package llm defines the Provider interface for chat language models.
//
// The voice pipeline needs one thing from a model: given a system prompt and
// a short conversation, return the complete reply text. Streaming is not part
// of the contract; synthesis starts once the whole reply is known.
//
// Implementations must be safe for concurrent use and return promptly when ctx
// is cancelled.
package llm

import "context"

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last entry is the user turn
	// being answered.
	Messages []Message

	// Temperature in [0.0, 2.0]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
