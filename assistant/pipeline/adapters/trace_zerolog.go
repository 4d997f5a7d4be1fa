package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// ZerologTracer implements the Tracer interface using zerolog.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a new zerolog tracer.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// Event logs a structured pipeline event.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	event := t.logger.Info()
	for k, v := range attrs {
		event = event.Interface(k, v)
	}
	event.
		Str("event", name).
		Time("timestamp", time.Now()).
		Msg("pipeline event")
}

// Ensure ZerologTracer implements the Tracer interface.
var _ ports.Tracer = (*ZerologTracer)(nil)
