package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted when no key is configured
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	// Provider is one of jina, openai, ollama, local. Empty auto-detects.
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int

	// CacheSize bounds the embedding cache. Zero selects DefaultCacheSize and a
	// negative value disables caching.
	CacheSize int
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize >= 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := DetectProvider(cfg)
	switch provider {
	case ProviderJina:
		return NewJinaProvider(apiKey(cfg, EnvJinaAPIKey), cfg.Model, cfg.BaseURL, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey(cfg, EnvOpenAIAPIKey), cfg.Model, cfg.BaseURL, cfg.Dimension, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimension, cache)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnknownProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider New would build for cfg.
// Priority:
// 1. cfg.Provider
// 2. an API key in the environment: OPENAI_API_KEY, then JINA_API_KEY
// 3. local
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}

	return ProviderLocal
}

func apiKey(cfg Config, env string) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return os.Getenv(env)
}
