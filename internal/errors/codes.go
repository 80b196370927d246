// Package errors provides structured error handling for the sync pipeline
// and the retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (source store, state store, on-disk indexes)
//   - 3XX: Backend errors (embedding model, index backends at write or query time)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates source, state or index storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates embedding or index backend errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current run or request.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the affected unit (document, backend) only.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeExtractionFailed  = "ERR_201_EXTRACTION_FAILED"
	ErrCodeStateStore        = "ERR_202_STATE_STORE"
	ErrCodeSourceUnreachable = "ERR_203_SOURCE_UNREACHABLE"
	ErrCodeCorruptIndex      = "ERR_204_CORRUPT_INDEX"

	// Backend errors (300-399)
	ErrCodeEncodingFailed       = "ERR_301_ENCODING_FAILED"
	ErrCodeIndexWriteFailed     = "ERR_302_INDEX_WRITE_FAILED"
	ErrCodeRetrievalTimeout     = "ERR_303_RETRIEVAL_TIMEOUT"
	ErrCodeRetrievalBackendDown = "ERR_304_RETRIEVAL_BACKEND_DOWN"
	ErrCodeRetrievalUnavailable = "ERR_305_RETRIEVAL_UNAVAILABLE"
	ErrCodeEmbedderUnavailable  = "ERR_306_EMBEDDER_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_404_QUERY_TOO_LONG"
	ErrCodeMalformedRecord   = "ERR_405_MALFORMED_RECORD"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeSyncLeaseHeld = "ERR_502_SYNC_LEASE_HELD"
)

// Failure kinds persisted in failed-document records.
const (
	KindExtraction = "extraction"
	KindEncoding   = "encoding"
	KindIndexWrite = "index_write"
	KindInternal   = "internal"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeStateStore, ErrCodeSourceUnreachable:
		return SeverityFatal
	case ErrCodeRetrievalTimeout, ErrCodeRetrievalBackendDown:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEncodingFailed, ErrCodeIndexWriteFailed, ErrCodeEmbedderUnavailable,
		ErrCodeSourceUnreachable, ErrCodeRetrievalTimeout:
		return true
	default:
		return false
	}
}

// kindFromCode maps an error code to the failure kind stored for a document.
func kindFromCode(code string) string {
	switch code {
	case ErrCodeExtractionFailed, ErrCodeMalformedRecord:
		return KindExtraction
	case ErrCodeEncodingFailed, ErrCodeDimensionMismatch, ErrCodeEmbedderUnavailable:
		return KindEncoding
	case ErrCodeIndexWriteFailed:
		return KindIndexWrite
	default:
		return KindInternal
	}
}
