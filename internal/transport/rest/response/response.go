// Package response ports join-service/internal/transport/rest/response's
// envelope shapes: {"data": ...} on success, {"error": {...}} on failure.
package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the success envelope.
type Envelope struct {
	Data any `json:"data,omitempty"`
}

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries a machine-readable code plus a human message.
type ErrorPayload struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Meta      map[string]string `json:"meta,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// JSON writes raw JSON with the appropriate Content-Type.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps payload with {"data": ...}.
func Data(w http.ResponseWriter, status int, payload any) {
	JSON(w, status, Envelope{Data: payload})
}

// Fail writes {"error": {...}}.
func Fail(w http.ResponseWriter, status int, code, message, requestID string, meta map[string]string) {
	JSON(w, status, ErrorBody{
		Error: ErrorPayload{Code: code, Message: message, Meta: meta, RequestID: requestID},
	})
}
