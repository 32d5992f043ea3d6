package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/commandbus"
	"github.com/baechuer/reliable-command-engine/internal/enginerr"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/baechuer/reliable-command-engine/internal/syncwait"
	"github.com/baechuer/reliable-command-engine/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// acceptRequest is the JSON body for POST /commands/{name}. Payload stays
// an opaque json.RawMessage end to end — only its presence is validated,
// never its shape (spec.md §9: "the core treats command/reply/event
// payloads as opaque strings").
type acceptRequest struct {
	BusinessKey string          `json:"business_key" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// Handler serves the command ingest endpoint.
type Handler struct {
	bus      *commandbus.CommandBus
	registry *syncwait.Registry
	syncWait time.Duration
}

// Accept handles POST /commands/{name} per spec.md §6.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	name := chi.URLParam(r, "name")
	if strings.TrimSpace(name) == "" {
		response.Fail(w, http.StatusBadRequest, "request.invalid", "command name is required", requestID, nil)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		response.Fail(w, http.StatusBadRequest, "idempotency_key.required", "Idempotency-Key header is required", requestID, nil)
		return
	}
	replyTo := strings.TrimSpace(r.Header.Get("Reply-To"))

	var req acceptRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.Fail(w, http.StatusBadRequest, "request.invalid", "invalid JSON body", requestID, nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Fail(w, http.StatusBadRequest, "request.invalid", "business_key and payload are required", requestID, nil)
		return
	}

	// CorrelationID is deliberately left unset here: the command id isn't
	// minted until the command bus's transaction runs, and outbox.RowReply
	// already falls back to the real command id when no explicit correlation
	// id is supplied. Setting it to
	// the per-request id here would leak into the reply's correlationId
	// header and break Registry lookups, which are keyed by command id.
	replyMeta := model.ReplyMeta{ReplyTo: replyTo}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	commandID, err := h.bus.Accept(ctx, name, idempotencyKey, req.BusinessKey, req.Payload, replyMeta)
	if err != nil {
		h.handleAcceptError(w, requestID, err)
		return
	}

	w.Header().Set("X-Command-Id", commandID.String())
	w.Header().Set("X-Correlation-Id", commandID.String())

	if h.syncWait <= 0 {
		response.Data(w, http.StatusAccepted, map[string]string{
			"command_id": commandID.String(),
			"status":     "accepted",
		})
		return
	}

	wait, cancelWait := h.registry.Register(commandID)
	defer cancelWait()

	select {
	case outcome := <-wait:
		if outcome.Err != "" {
			response.Fail(w, http.StatusOK, "command.failed", outcome.Err, requestID, nil)
			return
		}
		response.Data(w, http.StatusOK, json.RawMessage(outcome.Payload))
	case <-time.After(h.syncWait):
		response.Data(w, http.StatusAccepted, map[string]string{
			"command_id": commandID.String(),
			"status":     "accepted",
		})
	}
}

func (h *Handler) handleAcceptError(w http.ResponseWriter, requestID string, err error) {
	switch {
	case errors.Is(err, enginerr.ErrDuplicateIdempotency):
		response.Fail(w, http.StatusConflict, "idempotency_key.duplicate", "a command with this idempotency key was already accepted", requestID, nil)
	case errors.Is(err, enginerr.ErrDuplicateBusiness):
		response.Fail(w, http.StatusConflict, "business_key.duplicate", "a command with this name and business key was already accepted", requestID, nil)
	default:
		response.Fail(w, http.StatusInternalServerError, "internal.error", "unexpected error", requestID, nil)
	}
}
