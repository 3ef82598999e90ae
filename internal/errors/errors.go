// Package errors carries the application error type and the JSON error
// envelope returned by the HTTP server.
package errors

import (
	"context"
	"fmt"
	"net/http"

	crdb "github.com/cockroachdb/errors"
)

// Error codes used in envelopes.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeLaunchFailed       = "LAUNCH_FAILED"
	CodeRetrievalFailed    = "RETRIEVAL_FAILED"
)

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches envelope details and returns e.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// New returns an AppError without a cause.
func New(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// Wrap returns an AppError around err.
func Wrap(err error, code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message, Err: err}
}

// NewValidationError reports a bad request.
func NewValidationError(message string) *AppError {
	return New(CodeValidation, http.StatusBadRequest, message)
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *AppError {
	return New(CodeNotFound, http.StatusNotFound, message)
}

// NewExternalServiceError reports a failing dependency.
func NewExternalServiceError(message string) *AppError {
	return New(CodeExternalService, http.StatusBadGateway, message)
}

// WrapInternal wraps an unexpected failure. The request id, when present in
// ctx, is added to the details.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	e := Wrap(err, CodeInternal, http.StatusInternalServerError, message)
	if id := RequestIDFromContext(ctx); id != "" {
		e.WithDetails(map[string]any{"request_id": id})
	}
	return e
}

// As extracts an AppError from err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if crdb.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

type requestIDKey struct{}

// ContextWithRequestID stores the request id for envelopes and log fields.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the stored request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
