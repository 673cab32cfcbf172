package httpapi

import (
	"net/http"
	"net/mail"
	"strings"

	"fleetwatch/core-go/internal/notify"
)

type pushTokenRequest struct {
	Token  string `json:"token"`
	UserID *int64 `json:"user_id"`
}

type emailRequest struct {
	Email  string `json:"email"`
	UserID *int64 `json:"user_id"`
}

func (h *Handler) handleRegisterPushToken(w http.ResponseWriter, r *http.Request) {
	h.updatePushToken(w, r, true)
}

func (h *Handler) handleUnregisterPushToken(w http.ResponseWriter, r *http.Request) {
	h.updatePushToken(w, r, false)
}

func (h *Handler) handleRegisterEmail(w http.ResponseWriter, r *http.Request) {
	h.updateEmail(w, r, true)
}

func (h *Handler) handleUnregisterEmail(w http.ResponseWriter, r *http.Request) {
	h.updateEmail(w, r, false)
}

func (h *Handler) updatePushToken(w http.ResponseWriter, r *http.Request, register bool) {
	if h.fanout == nil {
		h.unavailable(w, "notifications")
		return
	}
	var req pushTokenRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "token is required", nil)
		return
	}
	h.applyRegistration(w, h.fanout.PushTokens(), req.UserID, token, register)
}

func (h *Handler) updateEmail(w http.ResponseWriter, r *http.Request, register bool) {
	if h.fanout == nil {
		h.unavailable(w, "notifications")
		return
	}
	var req emailRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	addr := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(addr); err != nil || strings.ContainsAny(addr, "<> ") {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "email must be a plain address", map[string]any{"email": req.Email})
		return
	}
	h.applyRegistration(w, h.fanout.Emails(), req.UserID, addr, register)
}

func (h *Handler) applyRegistration(w http.ResponseWriter, reg *notify.Registry, userID *int64, addr string, register bool) {
	if register {
		reg.Register(userID, addr)
		h.writeJSON(w, http.StatusCreated, map[string]any{"registered": true})
		return
	}
	reg.Unregister(userID, addr)
	w.WriteHeader(http.StatusNoContent)
}
