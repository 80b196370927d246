package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		contains string
	}{
		{"validation", apperrors.New(apperrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams, "query is empty"},
		{"unavailable", apperrors.New(apperrors.ErrCodeRetrievalUnavailable, "no retrieval backend answered", nil), ErrCodeUnavailable, "no retrieval backend"},
		{"timeout code", apperrors.RetrievalTimeout("vector", nil), ErrCodeTimeout, "timed out"},
		{"wrapped app error", fmt.Errorf("search: %w", apperrors.ValidationError("bad mode", nil)), ErrCodeInvalidParams, "bad mode"},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout, "timed out"},
		{"canceled", context.Canceled, ErrCodeTimeout, "canceled"},
		{"unknown", errors.New("boom"), ErrCodeInternalError, "Internal server error."},
		{"passthrough", NewNotFoundError("section"), ErrCodeNotFound, "section not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Contains(t, got.Message, tt.contains)
		})
	}
	assert.Nil(t, MapError(nil))
}

func TestMapError_AppendsSuggestion(t *testing.T) {
	err := apperrors.New(apperrors.ErrCodeRetrievalUnavailable, "no retrieval backend answered", nil).
		WithSuggestion("Run legalcodes sync first.")
	assert.Equal(t, "no retrieval backend answered Run legalcodes sync first.", MapError(err).Message)
}
