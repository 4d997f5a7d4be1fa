package pipelineports

import "context"

// Tracer emits structured events for observability: provider substitution,
// circuit state transitions, validation failures, retrieval degradation.
type Tracer interface {
	Event(ctx context.Context, name string, attrs map[string]any)
}
