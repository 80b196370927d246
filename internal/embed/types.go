package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
)

const (
	// MaxBatchSize bounds a single request to the model.
	MaxBatchSize = 256

	// DefaultBatchSize is the number of texts sent per model request.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one model request.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions is the output size of EmbeddingGemma.
	DefaultDimensions = 768
)

// Embedder converts text to fixed-length vectors.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the model can be reached.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// CheckVector returns a dimension-mismatch error when v does not have want
// elements. A wrong dimension is never retryable.
func CheckVector(v []float32, want int) error {
	if len(v) != want {
		return apperrors.New(apperrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedding has %d dimensions, index expects %d", len(v), want), nil)
	}
	return nil
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
