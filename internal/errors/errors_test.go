package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Unwrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")

	err := New(ErrCodeIndexWriteFailed, "bleve batch failed", cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_Error_Format(t *testing.T) {
	err := New(ErrCodeRetrievalUnavailable, "no retrieval backend answered", nil)
	assert.Equal(t, "[ERR_305_RETRIEVAL_UNAVAILABLE] no retrieval backend answered", err.Error())
}

func TestAppError_Is_MatchesByCode(t *testing.T) {
	a := New(ErrCodeSyncLeaseHeld, "held by pid 1", nil)
	b := New(ErrCodeSyncLeaseHeld, "held by pid 2", nil)
	c := New(ErrCodeStateStore, "state store down", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestAppError_Is_ThroughFmtWrap(t *testing.T) {
	wrapped := fmt.Errorf("run aborted: %w", New(ErrCodeStateStore, "disk I/O error", nil))

	assert.True(t, errors.Is(wrapped, New(ErrCodeStateStore, "", nil)))
	assert.Equal(t, ErrCodeStateStore, GetCode(wrapped))
	assert.True(t, IsFatal(wrapped))
}

func TestAppError_DerivedFields(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
		kind      string
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false, KindInternal},
		{ErrCodeExtractionFailed, CategoryStorage, SeverityError, false, KindExtraction},
		{ErrCodeStateStore, CategoryStorage, SeverityFatal, false, KindInternal},
		{ErrCodeEncodingFailed, CategoryBackend, SeverityWarning, true, KindEncoding},
		{ErrCodeIndexWriteFailed, CategoryBackend, SeverityWarning, true, KindIndexWrite},
		{ErrCodeRetrievalTimeout, CategoryBackend, SeverityWarning, true, KindInternal},
		{ErrCodeRetrievalBackendDown, CategoryBackend, SeverityWarning, false, KindInternal},
		{ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false, KindEncoding},
		{ErrCodeMalformedRecord, CategoryValidation, SeverityError, false, KindExtraction},
		{ErrCodeSyncLeaseHeld, CategoryInternal, SeverityError, false, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.kind, Kind(err))
		})
	}
}

func TestConstructors_SetDetails(t *testing.T) {
	err := IndexWriteError("vector", "fam-3044", errors.New("dimension mismatch"))

	assert.Equal(t, ErrCodeIndexWriteFailed, err.Code)
	assert.Equal(t, "vector", err.Details["backend"])
	assert.Equal(t, "fam-3044", err.Details["document_id"])
	assert.True(t, IsRetryable(err))

	enc := EncodingError("pen-187", errors.New("model not loaded"))
	assert.Equal(t, KindEncoding, Kind(enc))
	assert.Contains(t, enc.Error(), "pen-187")
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestKind_PlainError(t *testing.T) {
	assert.Equal(t, KindInternal, Kind(errors.New("boom")))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.Equal(t, "", GetCode(errors.New("boom")))
}
