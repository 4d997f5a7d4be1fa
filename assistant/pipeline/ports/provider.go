package pipelineports

import (
	"context"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything a backend needs to produce a reply.
type PromptInput struct {
	System   string            // assembled system prompt (persona + grounding)
	Messages []PromptMessage   // ordered chat history (already windowed)
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling and limits for a single backend call.
type Options struct {
	Model        string
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	// TimeoutMs applies to the backend call only, not the overall request.
	TimeoutMs int
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the backend's non-streaming response.
type Completion struct {
	Text  string
	Usage *Usage // optional usage information
}

// CompletionChunk is the backend's streaming delta. A mid-stream failure is
// conveyed through Err on the final chunk before the channel closes.
type CompletionChunk struct {
	DeltaText string
	Done      bool
	Usage     *Usage // on final chunk when available
	Err       error
}

// Provider is the abstraction for all generative-model backends. Adapters
// may fail on transport or quota errors; they never consult the circuit
// breaker themselves.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}
