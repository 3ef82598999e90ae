// Package middleware provides the HTTP middleware chain used by the server.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloudres/internal/errors"
	"github.com/3leaps/cloudres/internal/observability"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts a handler panic into a 500 envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := apperrors.RequestIDFromContext(r.Context())
			observability.CLILogger.Error("handler panic",
				zap.String(observability.FieldRequestID, requestID),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
			)

			envelope := apperrors.NewEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec), nil, requestID).
				WithPath(r.URL.Path)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name used in route setup.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	apperrors.WriteEnvelope(w, statusCode, envelope)
}
