package pipelineports

import (
	"context"
	"time"
)

// Turn represents a conversational exchange.
type Turn struct {
	Role      string    // "user" | "assistant"
	Content   string    // message text
	CreatedAt time.Time // server-side timestamp
}

// TurnStore persists conversation turns. Persistence is a collaborator of
// the pipeline, not part of it: the orchestrator writes best-effort and
// never fails a request on store errors.
type TurnStore interface {
	SaveTurn(ctx context.Context, conversationID string, turn Turn) error
	LoadRecent(ctx context.Context, conversationID string, k int) ([]Turn, error) // last-k turns, oldest first
}
