package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// ErrNoProviderConfigured is returned when the orchestrator has no backend
// at all. This is a deployment fault and is surfaced to the caller directly.
var ErrNoProviderConfigured = errors.New("no generation provider configured")

// ErrAllProvidersUnavailable means every configured provider is circuit-open.
var ErrAllProvidersUnavailable = errors.New("all generation providers unavailable")

// GenerateOptions configures one generation request.
type GenerateOptions struct {
	Mode              string // persona mode, default general
	PreferredProvider string // caller's provider preference, may be substituted
	RequesterID       string // scopes personal-data retrieval categories
	ConversationID    string // enables best-effort turn persistence
	DisableRetrieval  bool
	Retrieval         RetrievalOptions
	Sampling          ports.Options
}

// Metadata describes how a successful response was produced.
type Metadata struct {
	RequestID      string
	Usage          *ports.Usage
	Elapsed        time.Duration
	Mode           string
	ContextTurns   int
	ContextTokens  int
	RetrievedCount int
}

// Result is the outcome of GenerateResponse. Adapter failures are returned
// as data (Success=false plus Error), never raised: cross-provider fallback
// policy belongs to the caller, and the orchestrator never retries a failed
// provider with a different one.
type Result struct {
	Success  bool
	Text     string
	Provider string
	Error    string
	Metadata *Metadata
}

// Orchestrator composes the breaker, context builder and retrieval augmentor
// into one request/response cycle against pluggable backend adapters. Each
// instance owns its breaker registry, so isolated instances (e.g. per
// tenant) do not share health state.
type Orchestrator struct {
	providers       map[string]ports.Provider
	defaultProvider string
	priority        []string

	breaker   *BreakerRegistry
	builder   *ContextBuilder
	augmentor *Augmentor // nil disables retrieval augmentation
	store     ports.TurnStore
	tracer    ports.Tracer
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Providers       map[string]ports.Provider
	DefaultProvider string
	Priority        []string // fixed substitution order
	Breaker         *BreakerRegistry
	Builder         *ContextBuilder
	Augmentor       *Augmentor      // optional
	Store           ports.TurnStore // optional
	Tracer          ports.Tracer
}

// NewOrchestrator creates an orchestrator. Breaker and builder fall back to
// defaults when nil; providers may be empty, in which case every request
// fails with ErrNoProviderConfigured.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Tracer == nil {
		cfg.Tracer = NopTracer{}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreakerRegistry(DefaultBreakerConfig(), cfg.Tracer)
	}
	if cfg.Builder == nil {
		cfg.Builder = NewContextBuilder(DefaultContextConfig(), nil, cfg.Tracer)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ports.Provider{}
	}
	if len(cfg.Priority) == 0 {
		for name := range cfg.Providers {
			cfg.Priority = append(cfg.Priority, name)
		}
		// Map iteration order is random; the fallback order must be stable
		// across instances.
		sort.Strings(cfg.Priority)
	}
	return &Orchestrator{
		providers:       cfg.Providers,
		defaultProvider: cfg.DefaultProvider,
		priority:        cfg.Priority,
		breaker:         cfg.Breaker,
		builder:         cfg.Builder,
		augmentor:       cfg.Augmentor,
		store:           cfg.Store,
		tracer:          cfg.Tracer,
	}
}

// SelectProvider resolves the provider for a request. A configured,
// non-circuit-open preference wins; otherwise the designated default, then
// the fixed priority order. Substitutions are logged.
func (o *Orchestrator) SelectProvider(ctx context.Context, preferred string) (string, error) {
	if len(o.providers) == 0 {
		return "", ErrNoProviderConfigured
	}

	if preferred != "" {
		if _, ok := o.providers[preferred]; ok && !o.breaker.IsOpen(preferred) {
			return preferred, nil
		}
	} else if o.defaultProvider != "" {
		if _, ok := o.providers[o.defaultProvider]; ok && !o.breaker.IsOpen(o.defaultProvider) {
			return o.defaultProvider, nil
		}
	}

	for _, name := range o.priority {
		if _, ok := o.providers[name]; !ok {
			continue
		}
		if o.breaker.IsOpen(name) {
			continue
		}
		// A substitution only happened when a stated preference or the
		// designated default was bypassed.
		if preferred != "" || o.defaultProvider != "" {
			o.tracer.Event(ctx, "provider_substituted", map[string]any{
				"preferred": preferred,
				"selected":  name,
			})
		}
		return name, nil
	}
	return "", ErrAllProvidersUnavailable
}

// preparePrompt bounds the history, runs retrieval and assembles the final
// prompt input shared by the sync and streaming paths.
func (o *Orchestrator) preparePrompt(ctx context.Context, message string, history []ConversationTurn, opts GenerateOptions) (ports.PromptInput, ContextWindow, Retrieval) {
	window := o.builder.BuildOptimalContext(ctx, history, message)

	var retrieved Retrieval
	if o.augmentor != nil && !opts.DisableRetrieval {
		retrieved = o.augmentor.RetrieveContext(ctx, message, opts.RequesterID, opts.Retrieval)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeGeneral
	}

	messages := make([]ports.PromptMessage, 0, len(window.Turns)+1)
	for _, t := range window.Turns {
		messages = append(messages, ports.PromptMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, ports.PromptMessage{Role: RoleUser, Content: message})

	return ports.PromptInput{
		System:   BuildSystemPrompt(mode, retrieved.FormattedContext),
		Messages: messages,
	}, window, retrieved
}

// GenerateResponse resolves a provider, builds the system prompt and invokes
// the adapter synchronously. Total generation failure is never silently
// swallowed: it is surfaced as Success=false with a message. Only the absence
// of any configured provider is returned as an error.
func (o *Orchestrator) GenerateResponse(ctx context.Context, message string, history []ConversationTurn, opts GenerateOptions) (Result, error) {
	provider, err := o.SelectProvider(ctx, opts.PreferredProvider)
	if err != nil {
		if errors.Is(err, ErrNoProviderConfigured) {
			return Result{}, err
		}
		return Result{Success: false, Error: err.Error()}, nil
	}

	input, window, retrieved := o.preparePrompt(ctx, message, history, opts)
	requestID := uuid.NewString()
	input.Meta = map[string]string{"request_id": requestID}

	start := time.Now()
	completion, err := o.providers[provider].Complete(ctx, input, opts.Sampling)
	if err != nil {
		o.breaker.RecordFailure(provider)
		return Result{
			Success:  false,
			Provider: provider,
			Error:    fmt.Sprintf("provider %s: %v", provider, err),
		}, nil
	}
	o.breaker.RecordSuccess(provider)

	o.persistTurns(ctx, opts.ConversationID, message, completion.Text)

	return Result{
		Success:  true,
		Text:     completion.Text,
		Provider: provider,
		Metadata: &Metadata{
			RequestID:      requestID,
			Usage:          completion.Usage,
			Elapsed:        time.Since(start),
			Mode:           orDefault(opts.Mode, ModeGeneral),
			ContextTurns:   window.Stats.Messages,
			ContextTokens:  window.Stats.EstimatedTokens,
			RetrievedCount: retrieved.Count,
		},
	}, nil
}

// StreamResponse performs the same provider resolution and prompt
// construction as GenerateResponse but yields incremental text fragments.
// Errors are raised through the error channel rather than normalized into a
// result, since already-emitted fragments cannot be retracted. A breaker
// failure is recorded even when cancellation caused the abort.
func (o *Orchestrator) StreamResponse(ctx context.Context, message string, history []ConversationTurn, opts GenerateOptions) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	provider, err := o.SelectProvider(ctx, opts.PreferredProvider)
	if err != nil {
		errCh <- err
		close(out)
		close(errCh)
		return out, errCh
	}

	input, _, _ := o.preparePrompt(ctx, message, history, opts)
	input.Meta = map[string]string{"request_id": uuid.NewString()}

	chunks, err := o.providers[provider].Stream(ctx, input, opts.Sampling)
	if err != nil {
		o.breaker.RecordFailure(provider)
		errCh <- fmt.Errorf("provider %s: %w", provider, err)
		close(out)
		close(errCh)
		return out, errCh
	}

	go func() {
		defer close(out)
		defer close(errCh)

		var full string
		for {
			select {
			case <-ctx.Done():
				o.breaker.RecordFailure(provider)
				errCh <- ctx.Err()
				return
			case chunk, ok := <-chunks:
				if !ok {
					// Adapter finished without an explicit Done marker.
					o.breaker.RecordSuccess(provider)
					o.persistTurns(ctx, opts.ConversationID, message, full)
					return
				}
				if chunk.Err != nil {
					o.breaker.RecordFailure(provider)
					errCh <- fmt.Errorf("provider %s: %w", provider, chunk.Err)
					return
				}
				if chunk.DeltaText != "" {
					full += chunk.DeltaText
					select {
					case out <- chunk.DeltaText:
					case <-ctx.Done():
						o.breaker.RecordFailure(provider)
						errCh <- ctx.Err()
						return
					}
				}
				if chunk.Done {
					o.breaker.RecordSuccess(provider)
					o.persistTurns(ctx, opts.ConversationID, message, full)
					return
				}
			}
		}
	}()

	return out, errCh
}

// persistTurns writes the exchange to the turn store best-effort. Store
// errors are logged, never surfaced.
func (o *Orchestrator) persistTurns(ctx context.Context, conversationID, userText, assistantText string) {
	if o.store == nil || conversationID == "" {
		return
	}
	now := time.Now()
	for _, turn := range []ports.Turn{
		{Role: RoleUser, Content: userText, CreatedAt: now},
		{Role: RoleAssistant, Content: assistantText, CreatedAt: now},
	} {
		if err := o.store.SaveTurn(ctx, conversationID, turn); err != nil {
			o.tracer.Event(ctx, "store_error", map[string]any{
				"conversation_id": conversationID,
				"error":           err.Error(),
			})
			return
		}
	}
}

// Breaker admin surface.

// BreakerState derives one provider's circuit state, side-effect free.
func (o *Orchestrator) BreakerState(provider string) CircuitState { return o.breaker.State(provider) }

// BreakerStatus snapshots every tracked provider.
func (o *Orchestrator) BreakerStatus() map[string]ProviderStatus { return o.breaker.Status() }

// ResetBreaker clears one provider's failure history.
func (o *Orchestrator) ResetBreaker(provider string) { o.breaker.Reset(provider) }

// ResetAllBreakers clears every provider's failure history.
func (o *Orchestrator) ResetAllBreakers() { o.breaker.ResetAll() }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
