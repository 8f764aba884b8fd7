package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/deskbot/internal/worker"
)

type credentialVault interface {
	Store(ctx context.Context, userID string, plaintext []byte) error
}

type campaignResumer interface {
	Resume(userID string) error
}

type CredentialHandler struct {
	vault     credentialVault
	resumer   campaignResumer
	responder responder
	logger    *slog.Logger
}

func NewCredentialHandler(vault credentialVault, resumer campaignResumer, logger *slog.Logger) *CredentialHandler {
	base := defaultLogger(logger)
	return &CredentialHandler{vault: vault, resumer: resumer, responder: newResponder(base), logger: base}
}

func (h *CredentialHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CredentialHandler", operation, attrs...)
}

// Update stores a freshly captured session state for the user and wakes any
// worker paused on the expired one.
func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.vault == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Update", "user_id", userID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode credential", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if len(req.SessionState) == 0 {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("a session state payload is required"))
		return
	}

	logger := h.log(r.Context(), "Update", "user_id", userID)
	if err := h.vault.Store(r.Context(), userID, req.SessionState); err != nil {
		logger.ErrorContext(r.Context(), "credential store failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	// A paused worker can pick the new credential up immediately; a worker
	// that is not paused (or not running) simply has nothing to resume.
	if h.resumer != nil {
		if err := h.resumer.Resume(userID); err != nil &&
			!errors.Is(err, worker.ErrNotRunning) && !errors.Is(err, worker.ErrNotPaused) {
			logger.ErrorContext(r.Context(), "campaign resume after refresh failed", "error", err)
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
	}

	logger.InfoContext(r.Context(), "credential refreshed")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type credentialRequest struct {
	SessionState json.RawMessage `json:"session_state"`
}
