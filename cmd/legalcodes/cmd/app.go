package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/status"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// loadConfig loads the configuration for the --dir flag. A relative source
// path is resolved against that directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir := configDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if cfg.Source.Path != "" && !filepath.IsAbs(cfg.Source.Path) {
		cfg.Source.Path = filepath.Join(dir, cfg.Source.Path)
	}
	return cfg, nil
}

// indexes are the on-disk stores shared by every command.
type indexes struct {
	Lexical *store.LexicalIndex
	Vector  *store.VectorIndex
	State   *store.StateStore
}

// openIndexes opens (or creates) the lexical index, vector index and state
// database under the configured data directory.
func openIndexes(cfg *config.Config) (*indexes, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	boosts := store.Boosts{
		Title:   cfg.Search.TitleBoost,
		Section: cfg.Search.SectionBoost,
		Content: cfg.Search.ContentBoost,
	}
	lexical, err := store.NewLexicalIndex(cfg.LexicalIndexPath(), boosts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	vector, err := store.NewVectorIndex(cfg.VectorIndexPath(), store.DefaultVectorIndexConfig(cfg.Embeddings.Dimensions))
	if err != nil {
		_ = lexical.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	state, err := store.NewStateStore(cfg.StatePath())
	if err != nil {
		_ = vector.Close()
		_ = lexical.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	return &indexes{Lexical: lexical, Vector: vector, State: state}, nil
}

// Close flushes and closes all stores.
func (ix *indexes) Close() error {
	return errors.Join(ix.Vector.Close(), ix.Lexical.Close(), ix.State.Close())
}

// newEngine builds a query-side engine over ix. A nil embedder serves every
// query lexically.
func newEngine(cfg *config.Config, ix *indexes, embedder embed.Embedder) (*search.Engine, error) {
	deps := search.EngineDeps{
		Lexical: ix.Lexical,
		Fetcher: ix.Lexical,
	}
	if embedder != nil {
		deps.Vector = ix.Vector
		deps.Embedder = embedder
	}
	return search.NewEngine(deps, search.EngineConfigFrom(cfg.Search))
}

// newCollector builds the status collector over ix.
func newCollector(cfg *config.Config, ix *indexes, embedder embed.Embedder) *status.Collector {
	return &status.Collector{
		Target:            cfg.Source.Target,
		MaxFailedAttempts: cfg.Sync.MaxFailedAttempts,
		State:             ix.State,
		Lexical:           ix.Lexical,
		Vector:            ix.Vector,
		Embedder:          embedder,
		Paths: status.Paths{
			Lexical: cfg.LexicalIndexPath(),
			Vector:  cfg.VectorIndexPath(),
			State:   cfg.StatePath(),
		},
	}
}
