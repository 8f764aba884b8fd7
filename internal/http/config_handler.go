package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/deskbot/internal/booking"
	"github.com/example/deskbot/internal/persistence"
)

type configStore interface {
	SaveConfig(ctx context.Context, cfg persistence.BotConfig) error
	GetConfig(ctx context.Context, userID string) (persistence.BotConfig, error)
}

type ConfigHandler struct {
	store     configStore
	responder responder
	logger    *slog.Logger
	now       func() time.Time
}

func NewConfigHandler(store configStore, logger *slog.Logger, now func() time.Time) *ConfigHandler {
	base := defaultLogger(logger)
	if now == nil {
		now = time.Now
	}
	return &ConfigHandler{store: store, responder: newResponder(base), logger: base, now: now}
}

func (h *ConfigHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ConfigHandler", operation, attrs...)
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	logger := h.log(r.Context(), "Get", "user_id", userID)
	stored, err := h.store.GetConfig(r.Context(), userID)
	if err != nil {
		logger.ErrorContext(r.Context(), "config lookup failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	cfg, err := booking.ParseConfig(stored.Document)
	if err != nil {
		logger.ErrorContext(r.Context(), "stored config document is corrupt", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, nil)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, configResponse{
		Config:    cfg,
		UpdatedAt: stored.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	var cfg booking.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.log(r.Context(), "Put", "user_id", userID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode config", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	cfg.ApplyDefaults()

	logger := h.log(r.Context(), "Put", "user_id", userID)
	if err := cfg.Validate(); err != nil {
		logger.ErrorContext(r.Context(), "config validation failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	document, err := booking.EncodeConfig(cfg)
	if err != nil {
		logger.ErrorContext(r.Context(), "config encoding failed", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, nil)
		return
	}

	updatedAt := h.now().UTC()
	if err := h.store.SaveConfig(r.Context(), persistence.BotConfig{
		UserID:    userID,
		Document:  document,
		UpdatedAt: updatedAt,
	}); err != nil {
		logger.ErrorContext(r.Context(), "config save failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "config saved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, configResponse{
		Config:    cfg,
		UpdatedAt: updatedAt.Format(time.RFC3339Nano),
	})
}

type configResponse struct {
	Config    booking.Config `json:"config"`
	UpdatedAt string         `json:"updated_at"`
}
