package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
)

// ErrorResponse represents a structured error in tool results.
// Returning it as a tool result keeps the details visible to the agent
// instead of being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use it for errors the agent can act on (bad SQL, unknown datasource).
// System failures such as an exhausted pool still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// errorCodes maps the actionable sentinels onto result codes. Order
// matters: the first sentinel found in the chain wins.
var errorCodes = []struct {
	err  error
	code string
}{
	{apperrors.ErrInvalidQuery, "invalid_query"},
	{apperrors.ErrQueryFailed, "query_failed"},
	{apperrors.ErrNotFound, "not_found"},
	{apperrors.ErrUnsupportedDatasource, "unsupported_datasource"},
	{apperrors.ErrAttachmentFailed, "attachment_failed"},
	{apperrors.ErrIntrospectionFailed, "introspection_failed"},
	{apperrors.ErrMaterializationFailed, "materialization_failed"},
	{apperrors.ErrPersistenceFailed, "persistence_failed"},
}

// ErrorCode returns the result code for an actionable error, or "" when
// err is a system failure.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// IsInputError reports whether err was caused by the caller's input
// rather than a server failure. Input errors are logged at debug level.
func IsInputError(err error) bool {
	switch ErrorCode(err) {
	case "invalid_query", "query_failed", "not_found", "unsupported_datasource":
		return true
	}
	return false
}

// NewToolErrorResult converts an actionable error into an error result
// with a sanitized message. It returns nil for system failures, which the
// caller should return as Go errors.
func NewToolErrorResult(err error) *mcp.CallToolResult {
	code := ErrorCode(err)
	if code == "" {
		return nil
	}
	return NewErrorResult(code, cleanErrorMessage(err))
}

func cleanErrorMessage(err error) string {
	msg := logging.SanitizeError(err)
	for _, prefix := range []string{"invalid query: ", "query failed: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
