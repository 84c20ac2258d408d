package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"finanzas-backend/internal/identity"
	"finanzas-backend/internal/models"
)

type AuthHandler struct {
	provider *identity.Provider
	logger   *zap.Logger
}

func NewAuthHandler(provider *identity.Provider, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{provider: provider, logger: logger}
}

// Anonymous mints a fresh anonymous identity for the caller.
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, h.provider.NewAnonymousUser())
}

// Token exchanges a custom sign-in token for a session token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"token": "Token is required"}, r))
		return
	}

	user, err := h.provider.VerifyCustomToken(req.Token)
	switch {
	case errors.Is(err, identity.ErrNotConfigured):
		writeJSON(w, http.StatusNotImplemented, errorResp("NOT_CONFIGURED", "Custom token sign-in is not configured", r))
		return
	case err != nil:
		h.logger.Info("custom token rejected", zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Invalid token", r))
		return
	}

	h.issue(w, r, user)
}

func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, user identity.User) {
	token, err := h.provider.IssueSessionToken(user)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{
		UID:          user.UID,
		Anonymous:    user.Anonymous,
		SessionToken: token,
	})
}
