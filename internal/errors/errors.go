package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the structured error type shared by the sync pipeline and the
// retrieval engine. It carries enough context for logging, retry decisions
// and user presentation.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_302_INDEX_WRITE_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code, so errors.Is works against sentinels
// built with New.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AppError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AppError from an existing error.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ExtractionError reports a source record that could not be read or is malformed.
func ExtractionError(documentID string, cause error) *AppError {
	return New(ErrCodeExtractionFailed, fmt.Sprintf("extract %s: %v", documentID, cause), cause).
		WithDetail("document_id", documentID)
}

// EncodingError reports a document the embedding model could not encode.
func EncodingError(documentID string, cause error) *AppError {
	return New(ErrCodeEncodingFailed, fmt.Sprintf("encode %s: %v", documentID, cause), cause).
		WithDetail("document_id", documentID)
}

// IndexWriteError reports a document rejected by an index backend.
func IndexWriteError(backend, documentID string, cause error) *AppError {
	return New(ErrCodeIndexWriteFailed, fmt.Sprintf("%s write %s: %v", backend, documentID, cause), cause).
		WithDetail("backend", backend).
		WithDetail("document_id", documentID)
}

// RetrievalTimeout reports a backend that exceeded its query deadline.
func RetrievalTimeout(backend string, cause error) *AppError {
	return New(ErrCodeRetrievalTimeout, backend+" retrieval timed out", cause).
		WithDetail("backend", backend)
}

// RetrievalBackendDown reports a backend that could not serve a query.
func RetrievalBackendDown(backend string, cause error) *AppError {
	return New(ErrCodeRetrievalBackendDown, backend+" retrieval backend unavailable", cause).
		WithDetail("backend", backend)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AppError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable reports whether err (or any error it wraps) is a retryable AppError.
func IsRetryable(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code. Returns empty string if err is not an AppError.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// Kind returns the failure kind recorded for a document that failed with err.
func Kind(err error) string {
	if ae, ok := As(err); ok {
		return kindFromCode(ae.Code)
	}
	return KindInternal
}
