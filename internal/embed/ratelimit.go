package embed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder throttles calls to the inner embedder. Each Embed or
// EmbedBatch call consumes one token, so a full sync cannot flood a shared
// model server.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows requestsPerSecond calls with the given burst.
func NewRateLimitedEmbedder(inner Embedder, requestsPerSecond float64, burst int) *RateLimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("embedding rate limiter: %w", err)
	}
	return nil
}

// Embed waits for a token, then embeds text.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch waits for a token, then embeds texts in one call.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

func (r *RateLimitedEmbedder) Dimensions() int                    { return r.inner.Dimensions() }
func (r *RateLimitedEmbedder) ModelName() string                  { return r.inner.ModelName() }
func (r *RateLimitedEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }
func (r *RateLimitedEmbedder) Close() error                       { return r.inner.Close() }
