package search

import (
	"context"
	"time"

	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// LexicalRetriever ranks documents by keyword relevance.
type LexicalRetriever interface {
	Search(ctx context.Context, q store.LexicalQuery) ([]store.Hit, error)
}

// VectorRetriever ranks documents by embedding similarity.
type VectorRetriever interface {
	Search(ctx context.Context, q store.VectorQuery) ([]store.Hit, error)
}

// Mode lets a caller override classification.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeSimple  Mode = "simple"
	ModeComplex Mode = "complex"
)

// Request is one search query.
type Request struct {
	Query   string        `json:"query"`
	Limit   int           `json:"limit,omitempty"`
	Offset  int           `json:"offset,omitempty"`
	Filters store.Filters `json:"filters"`
	Mode    Mode          `json:"mode,omitempty"`

	// ScoreThreshold overrides the minimum vector similarity when set.
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
	// LexicalTimeout and VectorTimeout override the configured deadlines
	// when positive.
	LexicalTimeout time.Duration `json:"lexical_timeout,omitempty"`
	VectorTimeout  time.Duration `json:"vector_timeout,omitempty"`
}

// BackendStatus is the outcome of one backend for one query.
type BackendStatus string

const (
	StatusOK      BackendStatus = "ok"
	StatusTimeout BackendStatus = "timeout"
	StatusDown    BackendStatus = "down"
	StatusSkipped BackendStatus = "skipped"
)

// DocumentsPreview marks results built from vector payloads.
const DocumentsPreview = "preview"

// Metadata describes how a response was produced.
type Metadata struct {
	LexicalMS   int64         `json:"lexical_ms"`
	VectorMS    int64         `json:"vector_ms"`
	FusionMS    int64         `json:"fusion_ms"`
	TotalMS     int64         `json:"total_ms"`
	Contributed []string      `json:"contributed"`
	Lexical     BackendStatus `json:"lexical"`
	Vector      BackendStatus `json:"vector"`
	LexicalHits int           `json:"lexical_hits"`
	VectorHits  int           `json:"vector_hits"`
	// FusionMethod is rrf, weighted, or passthrough for a single list.
	FusionMethod string `json:"fusion_method"`
	// Strategy is the route taken: lexical, hybrid, or a degraded form.
	Strategy string `json:"strategy"`
	// CodeFilter is the code filter applied, including one taken from the
	// query itself.
	CodeFilter string `json:"code_filter,omitempty"`
	// Documents is "preview" when results carry only the vector payload
	// because full documents could not be fetched.
	Documents string `json:"documents,omitempty"`
}

// Response is the answer to a Request.
type Response struct {
	Classification Classification `json:"classification"`
	Results        []Result       `json:"results"`
	Total          int            `json:"total"`
	Metadata       Metadata       `json:"metadata"`
}

// EngineConfig tunes retrieval.
type EngineConfig struct {
	FusionMethod        string
	RRFConstant         int
	LexicalWeight       float64
	VectorWeight        float64
	RetrieveTopN        int
	DefaultLimit        int
	MaxLimit            int
	MaxQueryLength      int
	ScoreThreshold      float64
	LexicalTimeout      time.Duration
	VectorTimeout       time.Duration
	AutoCodeFilter      bool
	ClassifierCacheSize int

	// BreakerFailures and BreakerReset configure the per-backend circuit
	// breakers.
	BreakerFailures int
	BreakerReset    time.Duration
}

// DefaultEngineConfig returns the defaults used when no config is loaded.
func DefaultEngineConfig() EngineConfig {
	return EngineConfigFrom(config.NewConfig().Search)
}

// EngineConfigFrom maps the search section of the configuration.
func EngineConfigFrom(c config.SearchConfig) EngineConfig {
	return EngineConfig{
		FusionMethod:        c.FusionMethod,
		RRFConstant:         c.RRFConstant,
		LexicalWeight:       c.LexicalWeight,
		VectorWeight:        c.VectorWeight,
		RetrieveTopN:        c.RetrieveTopN,
		DefaultLimit:        c.DefaultLimit,
		MaxLimit:            c.MaxLimit,
		MaxQueryLength:      c.MaxQueryLength,
		ScoreThreshold:      c.ScoreThreshold,
		LexicalTimeout:      c.LexicalTimeout,
		VectorTimeout:       c.VectorTimeout,
		AutoCodeFilter:      c.AutoCodeFilter,
		ClassifierCacheSize: c.ClassifierCacheSize,
		BreakerFailures:     5,
		BreakerReset:        30 * time.Second,
	}
}

func (c *EngineConfig) setDefaults() {
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	if c.RetrieveTopN <= 0 {
		c.RetrieveTopN = 50
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = 1000
	}
	if c.LexicalTimeout <= 0 {
		c.LexicalTimeout = 2 * time.Second
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = 5 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 30 * time.Second
	}
}
