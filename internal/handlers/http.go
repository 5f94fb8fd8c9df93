package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/auth"
	"MessengerCore/server/internal/chats"
	"MessengerCore/server/internal/delivery"
)

// Handler carries the wired services; nothing here is a package-level
// singleton, the entry point constructs one and owns its lifecycle.
type Handler struct {
	gateway *auth.Gateway
	chats   *chats.Service
	hub     *delivery.Hub
	log     *zap.SugaredLogger
}

func New(gateway *auth.Gateway, chatSvc *chats.Service, hub *delivery.Hub, log *zap.SugaredLogger) *Handler {
	return &Handler{gateway: gateway, chats: chatSvc, hub: hub, log: log}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperrors.CodePermissionDenied:
		status = http.StatusForbidden
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeAlreadyExists:
		status = http.StatusConflict
	case apperrors.CodeResourceExhausted:
		status = http.StatusTooManyRequests
	case apperrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Errorw("internal error", "err", err)
		message = "internal server error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// RateLimited is the over-limit response for the throttled credential
// endpoints, keeping the error envelope consistent with everything else.
func (h *Handler) RateLimited(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, apperrors.RateLimited("too many requests, slow down"))
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidArg("invalid request body")
	}
	return nil
}
