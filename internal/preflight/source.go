package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// CheckSource opens the configured source and reads one document.
func (c *Checker) CheckSource(ctx context.Context) CheckResult {
	result := CheckResult{Name: "source", Required: true}
	cfg := c.cfg.Source

	if cfg.Path != "" {
		if _, err := os.Stat(cfg.Path); err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("%s: %v", cfg.Path, err)
			if errors.Is(err, os.ErrNotExist) {
				result.Details = "Set source.path in .legalcodes.yaml or LEGALCODES_SOURCE_PATH"
			}
			return result
		}
	}

	reader, err := source.Open(cfg)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = reader.Close() }()

	page, err := reader.FetchPage(ctx, source.Cursor{}, 1)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("read failed: %v", err)
		return result
	}
	if len(page.Documents) == 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s %s is empty", cfg.Kind, cfg.Path)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s %s", cfg.Kind, cfg.Path)
	return result
}

// CheckLease reports whether another process is syncing right now.
func (c *Checker) CheckLease(dataDir string) CheckResult {
	result := CheckResult{Name: "sync_lease", Required: false}
	lease := store.NewLease(dataDir)
	err := lease.TryAcquire()
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeSyncLeaseHeld):
		result.Status = StatusWarn
		result.Message = "a sync run is in progress"
		result.Details = lease.Path()
	case err != nil:
		result.Status = StatusFail
		result.Message = err.Error()
	default:
		_ = lease.Release()
		result.Status = StatusPass
		result.Message = "free"
	}
	return result
}
