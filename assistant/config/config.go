package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	internal "github.com/darapay/assistant-core/assistant"
)

// Config stores all configuration of the assistant core.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Context    ContextConfig    `mapstructure:"context"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Validation ValidationConfig `mapstructure:"validation"`
	Store      StoreConfig      `mapstructure:"store"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ProviderConfig describes one generative-model backend.
type ProviderConfig struct {
	Name      string `mapstructure:"name"`        // logical name, e.g. "primary"
	Type      string `mapstructure:"type"`        // adapter type: "openai"
	BaseURL   string `mapstructure:"base_url"`    // OpenAI-compatible endpoint
	APIKeyEnv string `mapstructure:"api_key_env"` // env var holding the key
	Model     string `mapstructure:"model"`
}

// ProvidersConfig stores backend registration and selection order.
type ProvidersConfig struct {
	Backends []ProviderConfig `mapstructure:"backends"`
	Default  string           `mapstructure:"default"`
	Priority []string         `mapstructure:"priority"`
}

// BreakerConfig stores circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	HalfOpenAttempts int           `mapstructure:"half_open_attempts"`
}

// ContextConfig stores context window settings.
type ContextConfig struct {
	MaxMessages   int     `mapstructure:"max_messages"`
	RecentCount   int     `mapstructure:"recent_count"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	MinRelevance  float64 `mapstructure:"min_relevance"`
	TokensPerChar float64 `mapstructure:"tokens_per_char"`
}

// RetrievalConfig stores retrieval augmentation settings.
type RetrievalConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	Store               string  `mapstructure:"store"`       // "chromem", "flat", "none"
	PersistDir          string  `mapstructure:"persist_dir"` // chromem persistence, empty = in-memory
	MaxResults          int     `mapstructure:"max_results"`
	SimilarityThreshold float32 `mapstructure:"similarity_threshold"`
}

// ValidationConfig stores response validation settings.
type ValidationConfig struct {
	MinLength        int     `mapstructure:"min_length"`
	MaxLength        int     `mapstructure:"max_length"`
	MinScriptRatio   float64 `mapstructure:"min_script_ratio"`
	MinPlausibleRate float64 `mapstructure:"min_plausible_rate"`
	MaxPlausibleRate float64 `mapstructure:"max_plausible_rate"`
}

// StoreConfig stores conversation persistence settings.
type StoreConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
}

// TracingConfig stores structured event logging settings.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Provider defaults
	v.SetDefault("providers.default", "")
	v.SetDefault("providers.priority", []string{})

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown", "60s")
	v.SetDefault("breaker.half_open_attempts", 1)

	// Context window defaults
	v.SetDefault("context.max_messages", 10)
	v.SetDefault("context.recent_count", 5)
	v.SetDefault("context.max_tokens", 2000)
	v.SetDefault("context.min_relevance", 0.1)
	v.SetDefault("context.tokens_per_char", 0.3)

	// Retrieval defaults
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.store", "chromem")
	v.SetDefault("retrieval.persist_dir", "")
	v.SetDefault("retrieval.max_results", 5)
	v.SetDefault("retrieval.similarity_threshold", 0.65)

	// Validation defaults
	v.SetDefault("validation.min_length", 10)
	v.SetDefault("validation.max_length", 4000)
	v.SetDefault("validation.min_script_ratio", 0.30)
	v.SetDefault("validation.min_plausible_rate", 0.05)
	v.SetDefault("validation.max_plausible_rate", 48)

	// Store defaults
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.database_path", filepath.Join(internal.DefaultDatabaseDir, internal.DefaultDatabaseDSN))

	// Tracing defaults
	v.SetDefault("tracing.enabled", true)

	// Nested keys map onto env vars with underscores, e.g.
	// breaker.failure_threshold <- DARAPAY_ASSISTANT_BREAKER_FAILURE_THRESHOLD.
	v.SetEnvPrefix("DARAPAY_ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus environment apply.
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
