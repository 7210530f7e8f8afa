// Package mcp exposes the documentation index over the Model Context
// Protocol: search, catalog listings, and job control as typed tools on
// a stdio transport.
package mcp

import (
	"fmt"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// Tool error codes. The standard JSON-RPC range covers request faults;
// the -320xx block carries domain conditions.
const (
	ErrCodeNotFound      = -32001
	ErrCodeEmbedding     = -32002
	ErrCodeTimeout       = -32003
	ErrCodeUpstream      = -32004
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ToolError is a protocol-level tool failure with a stable code.
type ToolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to tool errors, preserving the
// message so agents can act on it.
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}
	code := ErrCodeInternalError
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		code = ErrCodeNotFound
	case errors.KindValidation:
		code = ErrCodeInvalidParams
	case errors.KindEmbedding:
		code = ErrCodeEmbedding
	case errors.KindCanceled:
		code = ErrCodeTimeout
	case errors.KindTransient, errors.KindPermanent:
		code = ErrCodeUpstream
	}
	return &ToolError{Code: code, Message: err.Error()}
}

// NewInvalidParamsError reports rejected tool input.
func NewInvalidParamsError(format string, args ...any) *ToolError {
	return &ToolError{Code: ErrCodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}
