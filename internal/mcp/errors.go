// Package mcp exposes the retrieval engine and sync status as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
)

// MCP error codes. The -320xx range is reserved for implementation errors.
const (
	ErrCodeUnavailable   = -32001
	ErrCodeNotFound      = -32002
	ErrCodeTimeout       = -32003
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a protocol error with a code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError reports bad tool input.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewNotFoundError reports an unknown section.
func NewNotFoundError(what string) *MCPError {
	return &MCPError{Code: ErrCodeNotFound, Message: what + " not found"}
}

// MapError converts an engine or state error to an MCPError.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if appErr, ok := apperrors.As(err); ok {
		return mapAppError(appErr)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapAppError(e *apperrors.AppError) *MCPError {
	msg := e.Message
	if e.Suggestion != "" {
		msg += " " + e.Suggestion
	}
	switch {
	case e.Category == apperrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case e.Code == apperrors.ErrCodeRetrievalUnavailable:
		return &MCPError{Code: ErrCodeUnavailable, Message: msg}
	case e.Code == apperrors.ErrCodeRetrievalTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}
