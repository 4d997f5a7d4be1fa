package pipeline

import (
	"context"
	"sync"
	"time"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// CircuitState represents the derived state of one provider's circuit.
type CircuitState int

const (
	// CircuitClosed is the normal operation state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects all requests to the provider.
	CircuitOpen
	// CircuitHalfOpen admits a limited number of trial requests.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default: 3)
	Cooldown         time.Duration // time before admitting a probe (default: 60s)
	HalfOpenAttempts int           // trial calls admitted after cooldown (default: 1)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
		HalfOpenAttempts: 1,
	}
}

// providerHealth is the in-memory, process-lifetime record for one provider.
type providerHealth struct {
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
}

// ProviderStatus is a read-only snapshot for the admin surface.
type ProviderStatus struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

// BreakerRegistry tracks failure history per provider and gates whether a
// provider may be attempted. It never calls a provider itself: callers must
// check IsOpen before attempting and report the outcome with RecordSuccess
// or RecordFailure. There are no automatic retries.
//
// The registry is owned by an orchestrator instance and passed by handle, so
// isolated instances (e.g. per tenant) stay independent.
type BreakerRegistry struct {
	mu        sync.Mutex
	providers map[string]*providerHealth

	threshold        int
	cooldown         time.Duration
	halfOpenAttempts int

	tracer ports.Tracer
	now    func() time.Time // injectable for tests
}

// NewBreakerRegistry creates a registry. Zero-value config fields fall back
// to defaults.
func NewBreakerRegistry(cfg BreakerConfig, tracer ports.Tracer) *BreakerRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.HalfOpenAttempts <= 0 {
		cfg.HalfOpenAttempts = 1
	}
	if cfg.HalfOpenAttempts > cfg.FailureThreshold {
		cfg.HalfOpenAttempts = cfg.FailureThreshold
	}
	if tracer == nil {
		tracer = NopTracer{}
	}

	return &BreakerRegistry{
		providers:        make(map[string]*providerHealth),
		threshold:        cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		halfOpenAttempts: cfg.HalfOpenAttempts,
		tracer:           tracer,
		now:              time.Now,
	}
}

// health returns the record for a provider, creating it lazily.
// Callers must hold r.mu.
func (r *BreakerRegistry) health(provider string) *providerHealth {
	h, ok := r.providers[provider]
	if !ok {
		h = &providerHealth{}
		r.providers[provider] = h
	}
	return h
}

// RecordSuccess clears the failure counter and stamps the last-success time.
func (r *BreakerRegistry) RecordSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.health(provider)
	h.failures = 0
	h.lastSuccess = r.now()
}

// RecordFailure increments the failure counter and stamps the last-failure
// time. Crossing the threshold is reported as an open transition.
func (r *BreakerRegistry) RecordFailure(provider string) {
	r.mu.Lock()
	h := r.health(provider)
	h.failures++
	h.lastFailure = r.now()
	opened := h.failures == r.threshold
	failures := h.failures
	r.mu.Unlock()

	if opened {
		r.tracer.Event(context.Background(), "circuit_open", map[string]any{
			"provider": provider,
			"failures": failures,
		})
	}
}

// IsOpen reports whether the provider is currently gated. When the cooldown
// has elapsed past the last failure it admits a probe by resetting the
// counter to threshold - halfOpenAttempts and returns false (half-open).
func (r *BreakerRegistry) IsOpen(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.health(provider)
	if h.failures < r.threshold {
		return false
	}
	if r.now().Sub(h.lastFailure) > r.cooldown {
		h.failures = r.threshold - r.halfOpenAttempts
		return false
	}
	return true
}

// State derives CLOSED/OPEN/HALF_OPEN from the counters with no side
// effects. For observability only: it does not admit probes.
func (r *BreakerRegistry) State(provider string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.health(provider)
	switch {
	case h.failures < r.threshold:
		return CircuitClosed
	case r.now().Sub(h.lastFailure) > r.cooldown:
		return CircuitHalfOpen
	default:
		return CircuitOpen
	}
}

// Status returns a snapshot of every tracked provider for the admin surface.
func (r *BreakerRegistry) Status() map[string]ProviderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]ProviderStatus, len(r.providers))
	for name, h := range r.providers {
		state := CircuitClosed
		switch {
		case h.failures < r.threshold:
			state = CircuitClosed
		case r.now().Sub(h.lastFailure) > r.cooldown:
			state = CircuitHalfOpen
		default:
			state = CircuitOpen
		}
		out[name] = ProviderStatus{
			State:       state.String(),
			Failures:    h.failures,
			LastFailure: h.lastFailure,
			LastSuccess: h.lastSuccess,
		}
	}
	return out
}

// Reset clears one provider's history. Administrative override.
func (r *BreakerRegistry) Reset(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, provider)
}

// ResetAll clears every provider's history.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[string]*providerHealth)
}

// NopTracer discards all events.
type NopTracer struct{}

// Event implements ports.Tracer.
func (NopTracer) Event(context.Context, string, map[string]any) {}

var _ ports.Tracer = NopTracer{}
