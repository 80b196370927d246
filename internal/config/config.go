// Package config loads legalcodes configuration from defaults, YAML files,
// a .env file and LEGALCODES_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-directory configuration file.
const ProjectFileName = ".legalcodes.yaml"

// Config is the complete legalcodes configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Source     SourceConfig     `yaml:"source" json:"source"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SourceConfig points at the source-of-truth store of section documents.
type SourceConfig struct {
	// Kind is "jsonl" (one document per line) or "sqlite".
	Kind string `yaml:"kind" json:"kind"`
	// Path is the JSONL file or SQLite database.
	Path string `yaml:"path" json:"path"`
	// Table is the SQLite table holding sections.
	Table string `yaml:"table" json:"table"`
	// Target names the sync state (watermark, failures) for this source.
	Target string `yaml:"target" json:"target"`
}

// SyncConfig tunes the batch sync pipeline.
type SyncConfig struct {
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	Workers       int           `yaml:"workers" json:"workers"`

	// Lookback widens each incremental read below the watermark so that
	// documents whose updated_at moved backward are still seen. Unchanged
	// documents inside the window are skipped by checksum.
	Lookback time.Duration `yaml:"lookback" json:"lookback"`

	// MaxFailedAttempts caps how many runs retry a failed document before it
	// is left as a logged gap for manual reprocessing.
	MaxFailedAttempts int `yaml:"max_failed_attempts" json:"max_failed_attempts"`

	// TextFields are joined with Separator to build the text that is embedded.
	TextFields []string `yaml:"text_fields" json:"text_fields"`
	Separator  string   `yaml:"separator" json:"separator"`
}

// EmbeddingsConfig configures the vector encoder.
type EmbeddingsConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "static".
	Provider   string        `yaml:"provider" json:"provider"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"-"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerSecond throttles calls to the model during sync. 0 disables.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`

	// CacheSize is the number of query embeddings kept in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig configures retrieval and fusion.
type SearchConfig struct {
	// FusionMethod is "rrf" (default) or "weighted". Weighted fusion blends
	// min-max normalized scores and needs calibration per corpus.
	FusionMethod  string  `yaml:"fusion_method" json:"fusion_method"`
	RRFConstant   int     `yaml:"rrf_constant" json:"rrf_constant"`
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`

	RetrieveTopN   int     `yaml:"retrieve_top_n" json:"retrieve_top_n"`
	DefaultLimit   int     `yaml:"default_limit" json:"default_limit"`
	MaxLimit       int     `yaml:"max_limit" json:"max_limit"`
	MaxQueryLength int     `yaml:"max_query_length" json:"max_query_length"`
	ScoreThreshold float64 `yaml:"score_threshold" json:"score_threshold"`

	LexicalTimeout time.Duration `yaml:"lexical_timeout" json:"lexical_timeout"`
	VectorTimeout  time.Duration `yaml:"vector_timeout" json:"vector_timeout"`

	// AutoCodeFilter turns a code named in a simple query ("FAM 3044") into
	// a lexical code filter.
	AutoCodeFilter bool `yaml:"auto_code_filter" json:"auto_code_filter"`

	TitleBoost   float64 `yaml:"title_boost" json:"title_boost"`
	SectionBoost float64 `yaml:"section_boost" json:"section_boost"`
	ContentBoost float64 `yaml:"content_boost" json:"content_boost"`

	ClassifierCacheSize int `yaml:"classifier_cache_size" json:"classifier_cache_size"`
	ContextMaxChars     int `yaml:"context_max_chars" json:"context_max_chars"`
}

// StorageConfig locates on-disk indexes and state.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ServerConfig configures the long-running HTTP server.
type ServerConfig struct {
	Addr          string        `yaml:"addr" json:"addr"`
	LogLevel      string        `yaml:"log_level" json:"log_level"`
	SyncInterval  time.Duration `yaml:"sync_interval" json:"sync_interval"`
	WatchSource   bool          `yaml:"watch_source" json:"watch_source"`
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	return &Config{
		Version: 1,
		Source: SourceConfig{
			Kind:   "jsonl",
			Table:  "sections",
			Target: "default",
		},
		Sync: SyncConfig{
			BatchSize:         1000,
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
			MaxRetryDelay:     time.Minute,
			Workers:           workers,
			Lookback:          24 * time.Hour,
			MaxFailedAttempts: 5,
			TextFields:        []string{"title", "section", "content"},
			Separator:         " | ",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			BaseURL:    "http://localhost:12434/engines/v1",
			Model:      "ai/embeddinggemma",
			Dimensions: 768,
			BatchSize:  32,
			Timeout:    60 * time.Second,
			Burst:      1,
			CacheSize:  1000,
		},
		Search: SearchConfig{
			FusionMethod:        "rrf",
			RRFConstant:         60,
			LexicalWeight:       0.5,
			VectorWeight:        0.5,
			RetrieveTopN:        50,
			DefaultLimit:        10,
			MaxLimit:            100,
			MaxQueryLength:      1000,
			ScoreThreshold:      0.7,
			LexicalTimeout:      2 * time.Second,
			VectorTimeout:       5 * time.Second,
			AutoCodeFilter:      true,
			TitleBoost:          3,
			SectionBoost:        2,
			ContentBoost:        1,
			ClassifierCacheSize: 1024,
			ContextMaxChars:     8000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Addr:          ":8080",
			LogLevel:      "info",
			WatchDebounce: 2 * time.Second,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".legalcodes", "data")
	}
	return filepath.Join(home, ".legalcodes", "data")
}

// LexicalIndexPath is the bleve index directory.
func (c *Config) LexicalIndexPath() string {
	return filepath.Join(c.Storage.DataDir, "lexical.bleve")
}

// VectorIndexPath is the HNSW graph file.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.Storage.DataDir, "vectors.hnsw")
}

// StatePath is the SQLite sync state database.
func (c *Config) StatePath() string {
	return filepath.Join(c.Storage.DataDir, "state.db")
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/legalcodes/config.yaml, or
// ~/.config/legalcodes/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "legalcodes", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "legalcodes", "config.yaml")
	}
	return filepath.Join(home, ".config", "legalcodes", "config.yaml")
}

// Load builds the configuration for dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/legalcodes/config.yaml)
//  3. Project config (<dir>/.legalcodes.yaml)
//  4. <dir>/.env (never overrides variables already set)
//  5. LEGALCODES_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.overlayFile(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}
	if err := cfg.overlayFile(filepath.Join(dir, ProjectFileName)); err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overlayFile decodes a YAML file on top of c. A missing file is not an error.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return c.overlayYAML(data, path)
}

func (c *Config) overlayYAML(data []byte, name string) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	setString("LEGALCODES_SOURCE_KIND", &c.Source.Kind)
	setString("LEGALCODES_SOURCE_PATH", &c.Source.Path)
	setString("LEGALCODES_SOURCE_TARGET", &c.Source.Target)
	setString("LEGALCODES_DATA_DIR", &c.Storage.DataDir)

	setInt("LEGALCODES_BATCH_SIZE", &c.Sync.BatchSize)
	setInt("LEGALCODES_WORKERS", &c.Sync.Workers)
	setInt("LEGALCODES_MAX_RETRIES", &c.Sync.MaxRetries)

	setString("LEGALCODES_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("LEGALCODES_EMBEDDINGS_BASE_URL", &c.Embeddings.BaseURL)
	setString("LEGALCODES_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setInt("LEGALCODES_EMBEDDINGS_DIMENSIONS", &c.Embeddings.Dimensions)
	if c.Embeddings.APIKey == "" {
		setString("OPENAI_API_KEY", &c.Embeddings.APIKey)
	}
	setString("LEGALCODES_EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)

	setString("LEGALCODES_FUSION_METHOD", &c.Search.FusionMethod)
	setInt("LEGALCODES_RRF_CONSTANT", &c.Search.RRFConstant)

	setString("LEGALCODES_ADDR", &c.Server.Addr)
	setString("LEGALCODES_LOG_LEVEL", &c.Server.LogLevel)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("source.kind must be 'jsonl' or 'sqlite', got %q", c.Source.Kind)
	}
	if c.Source.Target == "" {
		return fmt.Errorf("source.target must not be empty")
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be non-negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Lookback < 0 {
		return fmt.Errorf("sync.lookback must be non-negative, got %s", c.Sync.Lookback)
	}
	if len(c.Sync.TextFields) == 0 {
		return fmt.Errorf("sync.text_fields must name at least one field")
	}
	for _, f := range c.Sync.TextFields {
		switch f {
		case "title", "section", "content", "code":
		default:
			return fmt.Errorf("sync.text_fields: unknown field %q", f)
		}
	}

	switch c.Embeddings.Provider {
	case "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'openai' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 || c.Embeddings.BatchSize > 256 {
		return fmt.Errorf("embeddings.batch_size must be in 1..256, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative")
	}

	switch c.Search.FusionMethod {
	case "rrf":
	case "weighted":
		if c.Search.LexicalWeight < 0 || c.Search.VectorWeight < 0 {
			return fmt.Errorf("search weights must be non-negative")
		}
		if math.Abs(c.Search.LexicalWeight+c.Search.VectorWeight-1) > 0.01 {
			return fmt.Errorf("search.lexical_weight + search.vector_weight must equal 1.0, got %.2f",
				c.Search.LexicalWeight+c.Search.VectorWeight)
		}
	default:
		return fmt.Errorf("search.fusion_method must be 'rrf' or 'weighted', got %q", c.Search.FusionMethod)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must be in 1..max_limit (%d), got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.ScoreThreshold < -1 || c.Search.ScoreThreshold > 1 {
		return fmt.Errorf("search.score_threshold must be in [-1, 1], got %f", c.Search.ScoreThreshold)
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
