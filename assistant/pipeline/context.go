package pipeline

import (
	"context"
	"sort"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// Conversation roles. The pipeline never persists turns; they are supplied
// by the caller per request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one entry of the caller-supplied history.
type ConversationTurn struct {
	Role    string
	Content string
}

// WindowStats are aggregate statistics for observability.
type WindowStats struct {
	Messages        int
	EstimatedTokens int
	BudgetUsedPct   float64
}

// ContextWindow is a bounded, chronologically ordered slice of history.
// Invariants: estimated cost ≤ budget (except a single over-budget turn),
// length ≤ the message cap, the earliest turn survives trimming unless the
// cap is 1, and relative order of retained turns is preserved.
type ContextWindow struct {
	Turns []ConversationTurn
	Stats WindowStats
}

// ContextConfig bounds the window built from an unbounded history.
type ContextConfig struct {
	MaxMessages   int     // hard cap on retained turns (default: 10)
	RecentCount   int     // most recent turns always kept verbatim (default: 5)
	MaxTokens     int     // estimated-token budget (default: 2000)
	MinRelevance  float64 // Jaccard threshold for older turns (default: 0.1)
	TokensPerChar float64 // estimation factor (default: 0.3)
}

// DefaultContextConfig returns sensible defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxMessages:   10,
		RecentCount:   5,
		MaxTokens:     2000,
		MinRelevance:  0.1,
		TokensPerChar: DefaultTokensPerChar,
	}
}

// ContextBuilder compresses conversation history into a bounded, relevant
// window. It is a pure, request-scoped computation: no shared state, safe to
// run fully in parallel across requests.
type ContextBuilder struct {
	cfg       ContextConfig
	extractor KeywordExtractor
	estimator TokenEstimator
	tracer    ports.Tracer
}

// NewContextBuilder creates a builder. Zero-value config fields fall back to
// defaults; a nil extractor falls back to the lexical strategy.
func NewContextBuilder(cfg ContextConfig, extractor KeywordExtractor, tracer ports.Tracer) *ContextBuilder {
	def := DefaultContextConfig()
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.RecentCount <= 0 {
		cfg.RecentCount = def.RecentCount
	}
	if cfg.RecentCount > cfg.MaxMessages {
		cfg.RecentCount = cfg.MaxMessages
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = def.MinRelevance
	}
	if extractor == nil {
		extractor = NewLexicalExtractor()
	}
	if tracer == nil {
		tracer = NopTracer{}
	}
	return &ContextBuilder{
		cfg:       cfg,
		extractor: extractor,
		estimator: NewTokenEstimator(cfg.TokensPerChar),
		tracer:    tracer,
	}
}

// indexedTurn carries the original position through relevance filtering, so
// chronological order is restored by index rather than by content equality
// (which is ambiguous for textually identical turns).
type indexedTurn struct {
	idx   int
	turn  ConversationTurn
	score float64
}

// BuildOptimalContext produces a ContextWindow from history plus the current
// message. It never fails: an internal fault falls back to the most recent
// RecentCount turns.
func (b *ContextBuilder) BuildOptimalContext(ctx context.Context, history []ConversationTurn, currentMessage string) (win ContextWindow) {
	defer func() {
		if rec := recover(); rec != nil {
			b.tracer.Event(ctx, "context_fallback", map[string]any{
				"panic":        rec,
				"history_size": len(history),
			})
			win = b.window(lastN(history, b.cfg.RecentCount))
		}
	}()

	kept := b.filterByRelevance(history, currentMessage)
	kept = b.capMessages(kept)
	kept = b.trimToBudget(kept)
	return b.window(kept)
}

// filterByRelevance keeps the most recent RecentCount turns verbatim and
// scores older turns against the current message, keeping the best
// MaxMessages - RecentCount of those above the relevance threshold.
func (b *ContextBuilder) filterByRelevance(history []ConversationTurn, currentMessage string) []ConversationTurn {
	if len(history) <= b.cfg.RecentCount {
		return history
	}

	split := len(history) - b.cfg.RecentCount
	older, recent := history[:split], history[split:]

	queryKeywords := b.extractor.Extract(currentMessage)

	scored := make([]indexedTurn, 0, len(older))
	for i, t := range older {
		score := Jaccard(b.extractor.Extract(t.Content), queryKeywords)
		if score < b.cfg.MinRelevance {
			continue
		}
		scored = append(scored, indexedTurn{idx: i, turn: t, score: score})
	}

	// Top-k by score, then restore chronological order by original index.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	slots := b.cfg.MaxMessages - b.cfg.RecentCount
	if slots < 0 {
		slots = 0
	}
	if len(scored) > slots {
		scored = scored[:slots]
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].idx < scored[j].idx })

	out := make([]ConversationTurn, 0, len(scored)+len(recent))
	for _, s := range scored {
		out = append(out, s.turn)
	}
	return append(out, recent...)
}

// capMessages enforces the hard message cap: the very first turn is kept as
// an anchor plus the most recent MaxMessages-1 turns. A cap of 1 keeps only
// the most recent turn.
func (b *ContextBuilder) capMessages(turns []ConversationTurn) []ConversationTurn {
	if len(turns) <= b.cfg.MaxMessages {
		return turns
	}
	if b.cfg.MaxMessages == 1 {
		return turns[len(turns)-1:]
	}
	out := make([]ConversationTurn, 0, b.cfg.MaxMessages)
	out = append(out, turns[0])
	return append(out, turns[len(turns)-(b.cfg.MaxMessages-1):]...)
}

// trimToBudget drops turns until the estimated cost fits the token budget.
// Middle turns (immediately after the anchor) go first, then the recent
// block oldest first. A single turn is returned even when it alone exceeds
// the budget.
func (b *ContextBuilder) trimToBudget(turns []ConversationTurn) []ConversationTurn {
	if b.estimator.EstimateTurns(turns) <= b.cfg.MaxTokens {
		return turns
	}

	trimmed := make([]ConversationTurn, len(turns))
	copy(trimmed, turns)

	// Phase 1: drop middle turns, preserving the anchor and the recent block.
	recentStart := len(trimmed) - b.cfg.RecentCount
	if recentStart < 1 {
		recentStart = 1
	}
	for recentStart > 1 && b.estimator.EstimateTurns(trimmed) > b.cfg.MaxTokens {
		trimmed = append(trimmed[:1], trimmed[2:]...)
		recentStart--
	}

	// Phase 2: drop from the recent block oldest first; the anchor is
	// sacrificed last, leaving the most recent turn on its own.
	for len(trimmed) > 1 && b.estimator.EstimateTurns(trimmed) > b.cfg.MaxTokens {
		if len(trimmed) == 2 {
			trimmed = trimmed[1:]
			break
		}
		trimmed = append(trimmed[:1], trimmed[2:]...)
	}
	return trimmed
}

// window wraps turns with aggregate stats.
func (b *ContextBuilder) window(turns []ConversationTurn) ContextWindow {
	tokens := b.estimator.EstimateTurns(turns)
	return ContextWindow{
		Turns: turns,
		Stats: WindowStats{
			Messages:        len(turns),
			EstimatedTokens: tokens,
			BudgetUsedPct:   100 * float64(tokens) / float64(b.cfg.MaxTokens),
		},
	}
}

// lastN returns the trailing n elements of turns.
func lastN(turns []ConversationTurn, n int) []ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
