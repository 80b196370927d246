package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/metrics"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint, such as
// a local model runner serving ai/embeddinggemma.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	// SendDimensions asks the server to truncate output to Dimensions.
	// Only models trained for it (text-embedding-3-*) honor the field.
	SendDimensions bool
}

// OpenAIEmbedder calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client         *openai.Client
	model          openai.EmbeddingModel
	dimensions     int
	sendDimensions bool
}

// NewOpenAIEmbedder creates an embedder for cfg. No request is made until
// the first Embed call.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &OpenAIEmbedder{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          openai.EmbeddingModel(cfg.Model),
		dimensions:     dims,
		sendDimensions: cfg.SendDimensions,
	}
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in one request and returns vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds maximum %d", len(texts), MaxBatchSize)
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.sendDimensions {
		req.Dimensions = e.dimensions
	}

	model := string(e.model)
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	metrics.EmbeddingRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
		return nil, apperrors.New(apperrors.ErrCodeEncodingFailed,
			fmt.Sprintf("model returned %d embeddings for %d texts", len(resp.Data), len(texts)), nil)
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(model, "success").Inc()
	metrics.EmbeddingTextsTotal.WithLabelValues(model).Add(float64(len(texts)))

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// parseAPIError maps client errors onto the error taxonomy. Transport
// failures and 5xx/429 responses mean the model is unavailable and are
// retryable; other HTTP errors are encoding failures.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := fmt.Sprintf("embedding API error %d: %s", reqErr.HTTPStatusCode, detailOrBody(reqErr.Body))
		return apperrors.New(statusCode(reqErr.HTTPStatusCode), msg, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		return apperrors.New(statusCode(apiErr.HTTPStatusCode), msg, err)
	}

	return apperrors.New(apperrors.ErrCodeEmbedderUnavailable, "embedding request failed", err).
		WithSuggestion("Check that the embedding model server is running and embeddings.base_url is correct")
}

func statusCode(status int) string {
	if status == http.StatusTooManyRequests || status >= 500 {
		return apperrors.ErrCodeEmbedderUnavailable
	}
	return apperrors.ErrCodeEncodingFailed
}

func detailOrBody(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(body)
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return string(e.model) }

// Available lists models on the endpoint, which costs no tokens.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// Close is a no-op; the HTTP client has no resources to release.
func (e *OpenAIEmbedder) Close() error { return nil }
