package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/qter21/legal-codes-search-api/internal/embed"
)

// embedderCheckTimeout bounds the model round trip.
const embedderCheckTimeout = 10 * time.Second

// CheckEmbedder embeds a sample text and verifies the vector size. Queries
// still work on keyword search alone without a model, so failure is a
// warning.
func (c *Checker) CheckEmbedder(ctx context.Context, e embed.Embedder) CheckResult {
	result := CheckResult{Name: "embedder", Required: false}

	ctx, cancel := context.WithTimeout(ctx, embedderCheckTimeout)
	defer cancel()

	vec, err := e.Embed(ctx, "custody of a minor child")
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable: %v", e.ModelName(), err)
		result.Details = "Sync will record encoding failures until the model is back"
		return result
	}
	if len(vec) != e.Dimensions() {
		result.Status = StatusFail
		result.Required = true
		result.Message = fmt.Sprintf("%s returned %d dimensions, configured %d", e.ModelName(), len(vec), e.Dimensions())
		result.Details = "Set embeddings.dimensions to the model's output size and run a full sync"
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dims)", e.ModelName(), e.Dimensions())
	return result
}
