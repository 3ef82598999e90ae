package errors

import (
	"encoding/json"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// HTTPErrorBody is the inner object of the error envelope.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Path      string         `json:"path,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every error response:
//
//	{"error":{"code":"...","message":"...","details":{...},"request_id":"..."}}
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// NewEnvelope builds a gofulmen error envelope correlated with requestID.
func NewEnvelope(code, message string, details map[string]any, requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(details) > 0 {
		env = env.WithDetails(details)
	}
	return env
}

// ResponseFromEnvelope converts env to the wire shape. Envelope context
// entries are reported as details.
func ResponseFromEnvelope(env *gferrors.ErrorEnvelope) HTTPErrorResponse {
	var details map[string]any
	if len(env.Details)+len(env.Context) > 0 {
		details = make(map[string]any, len(env.Details)+len(env.Context))
		for k, v := range env.Context {
			details[k] = v
		}
		for k, v := range env.Details {
			details[k] = v
		}
	}
	return HTTPErrorResponse{Error: HTTPErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Details:   details,
		RequestID: env.CorrelationID,
		Path:      env.Path,
		Timestamp: env.Timestamp,
	}}
}

// NewHTTPErrorResponse builds an envelope.
func NewHTTPErrorResponse(code, message string, details map[string]any, requestID string) HTTPErrorResponse {
	return ResponseFromEnvelope(NewEnvelope(code, message, details, requestID))
}

// WriteJSON writes an envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, resp HTTPErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteEnvelope writes env with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	WriteJSON(w, status, ResponseFromEnvelope(env))
}

// RespondWithError writes err as an envelope. AppErrors keep their status
// and code; anything else is a 500 without the internal message.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())

	ae, ok := As(err)
	if !ok {
		env := NewEnvelope(CodeInternal, "internal server error", nil, requestID).WithPath(r.URL.Path)
		env, _ = env.WithSeverity(gferrors.SeverityHigh)
		WriteEnvelope(w, http.StatusInternalServerError, env)
		return
	}

	status := ae.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := ae.Message
	if ae.Err != nil && status < http.StatusInternalServerError {
		message = ae.Error()
	}

	env := NewEnvelope(ae.Code, message, ae.Details, requestID).WithPath(r.URL.Path)
	severity := gferrors.SeverityLow
	if status >= http.StatusInternalServerError {
		severity = gferrors.SeverityHigh
	}
	env, _ = env.WithSeverity(severity)
	WriteEnvelope(w, status, env)
}
