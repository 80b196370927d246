package source

import (
	"context"
	"fmt"

	"github.com/qter21/legal-codes-search-api/internal/config"
)

// Page is one batch of documents in cursor order.
type Page struct {
	Documents []Document
	// Next is the cursor to pass to the following FetchPage call.
	Next Cursor
	// More is false once the source has no documents after Next.
	More bool
	// Skipped counts records the reader dropped because they carry no
	// document ID to page or record them by. Only a page read from the zero
	// cursor reports it.
	Skipped int
}

// Reader pages through the source-of-truth store.
type Reader interface {
	// FetchPage returns up to limit documents after the cursor, ordered by
	// (UpdatedAt, ID). Documents that fail Validate are still returned so
	// the caller can record them.
	FetchPage(ctx context.Context, after Cursor, limit int) (*Page, error)

	// Fetch returns the documents with the given IDs. Unknown IDs are
	// omitted from the result.
	Fetch(ctx context.Context, ids []string) ([]Document, error)

	Close() error
}

// Open builds the reader configured by cfg.
func Open(cfg config.SourceConfig) (Reader, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("source.path is not set")
	}
	switch cfg.Kind {
	case "jsonl":
		return NewJSONLReader(cfg.Path), nil
	case "sqlite":
		return NewSQLiteReader(cfg.Path, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
