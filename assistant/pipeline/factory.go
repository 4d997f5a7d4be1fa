package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/darapay/assistant-core/assistant/config"
	"github.com/darapay/assistant-core/assistant/db"
	"github.com/darapay/assistant-core/assistant/pipeline/adapters"
	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// Pipeline bundles the wired components of one assistant instance. The
// validator runs on the caller's side of the pipeline, so it is exposed
// alongside the orchestrator rather than invoked by it.
type Pipeline struct {
	Orchestrator *Orchestrator
	Builder      *ContextBuilder
	Augmentor    *Augmentor
	Validator    *ResponseValidator
	Breaker      *BreakerRegistry
}

// Factory creates and wires pipeline components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Embedder overrides the flat store's embedding function; required when
	// retrieval.store is "flat".
	Embedder adapters.EmbedFunc
}

// NewFactory creates a new pipeline factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreatePipeline wires a full pipeline from config.
func (f *Factory) CreatePipeline() (*Pipeline, error) {
	tracer := f.createTracer()

	searcher, err := f.createSearcher()
	if err != nil {
		return nil, err
	}

	store, err := f.createStore()
	if err != nil {
		return nil, err
	}

	providers, err := f.createProviders()
	if err != nil {
		return nil, err
	}

	breaker := NewBreakerRegistry(BreakerConfig{
		FailureThreshold: f.cfg.Breaker.FailureThreshold,
		Cooldown:         f.cfg.Breaker.Cooldown,
		HalfOpenAttempts: f.cfg.Breaker.HalfOpenAttempts,
	}, tracer)

	builder := NewContextBuilder(ContextConfig{
		MaxMessages:   f.cfg.Context.MaxMessages,
		RecentCount:   f.cfg.Context.RecentCount,
		MaxTokens:     f.cfg.Context.MaxTokens,
		MinRelevance:  f.cfg.Context.MinRelevance,
		TokensPerChar: f.cfg.Context.TokensPerChar,
	}, nil, tracer)

	var augmentor *Augmentor
	if f.cfg.Retrieval.Enabled {
		augmentor = NewAugmentor(searcher, RetrievalConfig{
			MaxResults:          f.cfg.Retrieval.MaxResults,
			SimilarityThreshold: f.cfg.Retrieval.SimilarityThreshold,
		}, tracer)
	}

	validator, err := NewResponseValidator(ValidatorConfig{
		MinLength:        f.cfg.Validation.MinLength,
		MaxLength:        f.cfg.Validation.MaxLength,
		MinScriptRatio:   f.cfg.Validation.MinScriptRatio,
		MinPlausibleRate: f.cfg.Validation.MinPlausibleRate,
		MaxPlausibleRate: f.cfg.Validation.MaxPlausibleRate,
	}, tracer)
	if err != nil {
		return nil, err
	}

	orchestrator := NewOrchestrator(OrchestratorConfig{
		Providers:       providers,
		DefaultProvider: f.cfg.Providers.Default,
		Priority:        f.cfg.Providers.Priority,
		Breaker:         breaker,
		Builder:         builder,
		Augmentor:       augmentor,
		Store:           store,
		Tracer:          tracer,
	})

	return &Pipeline{
		Orchestrator: orchestrator,
		Builder:      builder,
		Augmentor:    augmentor,
		Validator:    validator,
		Breaker:      breaker,
	}, nil
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Tracing.Enabled {
		return NopTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// createSearcher creates the vector-store collaborator from config.
func (f *Factory) createSearcher() (ports.VectorSearcher, error) {
	switch f.cfg.Retrieval.Store {
	case "chromem":
		return adapters.NewChromemStore(f.cfg.Retrieval.PersistDir, nil)
	case "flat":
		if f.Embedder == nil {
			return nil, fmt.Errorf("retrieval store %q requires an embedder", f.cfg.Retrieval.Store)
		}
		return adapters.NewFlatStore(f.Embedder, flatStoreDimension), nil
	case "none", "":
		return noopSearcher{}, nil
	default:
		return nil, fmt.Errorf("unknown retrieval store: %s", f.cfg.Retrieval.Store)
	}
}

// flatStoreDimension matches the embedding models DaraPay deploys with the
// flat store.
const flatStoreDimension = 768

// createStore creates the optional conversation turn store.
func (f *Factory) createStore() (ports.TurnStore, error) {
	if !f.cfg.Store.Enabled {
		return nil, nil
	}
	conn, err := db.Connect(f.cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return adapters.NewLibSQLTurnStore(conn), nil
}

// createProviders builds the backend adapter map from config.
func (f *Factory) createProviders() (map[string]ports.Provider, error) {
	providers := make(map[string]ports.Provider, len(f.cfg.Providers.Backends))
	for _, pc := range f.cfg.Providers.Backends {
		if pc.Name == "" {
			return nil, fmt.Errorf("provider with empty name in config")
		}
		switch pc.Type {
		case "openai":
			apiKey := os.Getenv(pc.APIKeyEnv)
			if pc.APIKeyEnv != "" && apiKey == "" {
				f.logger.Warn().Str("provider", pc.Name).Str("env", pc.APIKeyEnv).
					Msg("provider API key env var is empty")
			}
			providers[pc.Name] = adapters.NewOpenAIProvider(apiKey, pc.BaseURL, pc.Model)
		default:
			return nil, fmt.Errorf("unknown provider type %q for %s", pc.Type, pc.Name)
		}
	}
	return providers, nil
}

// noopSearcher satisfies VectorSearcher with empty results, for tests and
// deployments without a knowledge base.
type noopSearcher struct{}

func (noopSearcher) Search(context.Context, ports.SearchQuery) ([]ports.Snippet, error) {
	return nil, nil
}
func (noopSearcher) Count(context.Context, string) (int, error) { return 0, nil }

// Ensure the no-op type implements its interface.
var _ ports.VectorSearcher = noopSearcher{}
