package embed

import (
	"fmt"
	"log/slog"

	"github.com/qter21/legal-codes-search-api/internal/config"
)

// Provider names accepted in embeddings.provider.
const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Usage selects the wrappers New applies.
type Usage int

const (
	// ForSync rate-limits model calls. Sync texts are unique, so no cache.
	ForSync Usage = iota
	// ForQuery caches query embeddings.
	ForQuery
)

// New builds the embedder described by cfg for the given usage.
func New(cfg config.EmbeddingsConfig, usage Usage) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case ProviderOpenAI:
		e = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case ProviderStatic:
		e = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}

	switch usage {
	case ForSync:
		if cfg.RequestsPerSecond > 0 {
			e = NewRateLimitedEmbedder(e, cfg.RequestsPerSecond, cfg.Burst)
		}
	case ForQuery:
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}

	slog.Debug("embedder_created",
		slog.String("provider", cfg.Provider),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))
	return e, nil
}
