// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All registration and dispatch errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes of the analytical view runtime
const (
	// Infrastructure errors (5xx)
	CodeInternal      = "INTERNAL_ERROR"
	CodeEngineFailure = "ENGINE_FAILURE"
	CodeSchemaError   = "SCHEMA_ERROR"
	CodeSchemaMissing = "SCHEMA_MISSING"
	CodeTimeout       = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnknownAttribute = "UNKNOWN_ATTRIBUTE"
	CodeTypeConflict     = "TYPE_CONFLICT"

	// Registration conflicts (409)
	CodeDuplicateEntity = "DUPLICATE_ENTITY"
	CodeColumnMismatch  = "COLUMN_MISMATCH"

	// Mutation attempts against analytical entities (422)
	CodeReadOnly = "READ_ONLY_ENTITY"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"
)

// AppError is the standard error type for the runtime.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (offending predicate, entity, request id)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewDuplicateEntity is returned when an entity name is registered twice
// with different query templates.
func NewDuplicateEntity(entity string) *AppError {
	return &AppError{
		Code:       CodeDuplicateEntity,
		Message:    fmt.Sprintf("entity %q is already registered with a different template", entity),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity},
	}
}

// NewColumnMismatch is returned when a query template's projection disagrees
// with the entity descriptor's attributes.
func NewColumnMismatch(entity, reason string) *AppError {
	return &AppError{
		Code:       CodeColumnMismatch,
		Message:    fmt.Sprintf("template does not match descriptor of %q: %s", entity, reason),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity},
	}
}

// NewSchemaError wraps an engine rejection of a view definition.
// The engine message is preserved verbatim for diagnostics.
func NewSchemaError(entity string, err error) *AppError {
	return &AppError{
		Code:       CodeSchemaError,
		Message:    fmt.Sprintf("engine rejected view %q: %v", entity, err),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"entity": entity},
		Err:        err,
	}
}

// NewSchemaMissing signals that the backing view of an entity is absent.
func NewSchemaMissing(entity string) *AppError {
	return &AppError{
		Code:       CodeSchemaMissing,
		Message:    fmt.Sprintf("backing view for %q does not exist", entity),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"entity": entity},
	}
}

// NewUnknownAttribute is returned when a caller references an undeclared attribute.
func NewUnknownAttribute(entity, attr string) *AppError {
	return &AppError{
		Code:       CodeUnknownAttribute,
		Message:    fmt.Sprintf("entity %q has no attribute %q", entity, attr),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"entity": entity, "attribute": attr},
	}
}

// NewTypeConflict is returned when a predicate value is incompatible with the
// attribute's semantic type. The offending triple is reported verbatim.
func NewTypeConflict(attr string, value any, reason string) *AppError {
	return &AppError{
		Code:       CodeTypeConflict,
		Message:    fmt.Sprintf("value for %q is incompatible: %s", attr, reason),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"attribute": attr, "value": value},
	}
}

// NewReadOnly rejects create/update/delete against an analytical entity.
func NewReadOnly(entity string) *AppError {
	return &AppError{
		Code:       CodeReadOnly,
		Message:    fmt.Sprintf("entity %q is read-only", entity),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"entity": entity},
	}
}

// NewTimeout signals that an operation exhausted its wall-clock budget.
func NewTimeout(operation string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("operation %s exceeded its time budget", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]any{"operation": operation},
	}
}

// NewEngineFailure wraps any other engine-level failure, preserving the engine
// message verbatim and attaching a request id for log correlation.
func NewEngineFailure(requestID string, err error) *AppError {
	return &AppError{
		Code:       CodeEngineFailure,
		Message:    fmt.Sprintf("engine failure: %v", err),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"request_id": requestID},
		Err:        err,
	}
}

// NewInternal creates an internal error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode checks whether err carries the given error code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsSchemaMissing checks if error is CodeSchemaMissing
func IsSchemaMissing(err error) bool {
	return HasCode(err, CodeSchemaMissing)
}

// IsTypeConflict checks if error is CodeTypeConflict
func IsTypeConflict(err error) bool {
	return HasCode(err, CodeTypeConflict)
}
