package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/deskbot/internal/persistence"
	"github.com/example/deskbot/internal/worker"
)

type workerController interface {
	Start(ctx context.Context, userID string) error
	Stop(ctx context.Context, userID string) error
	Resume(userID string) error
	Status(userID string) (worker.Snapshot, bool)
	StatusAll() []worker.Snapshot
}

type attemptLog interface {
	ListAttempts(ctx context.Context, userID string, limit int) ([]persistence.BookingAttempt, error)
}

// defaultHistoryLimit caps history responses when no limit query is given.
const defaultHistoryLimit = 50

type WorkerHandler struct {
	controller workerController
	attempts   attemptLog
	responder  responder
	logger     *slog.Logger
}

func NewWorkerHandler(controller workerController, attempts attemptLog, logger *slog.Logger) *WorkerHandler {
	base := defaultLogger(logger)
	return &WorkerHandler{controller: controller, attempts: attempts, responder: newResponder(base), logger: base}
}

func (h *WorkerHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "WorkerHandler", operation, attrs...)
}

func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	snaps := h.controller.StatusAll()
	h.log(r.Context(), "List").With("worker_count", len(snaps)).InfoContext(r.Context(), "workers listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listWorkersResponse{Workers: snaps})
}

func (h *WorkerHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	logger := h.log(r.Context(), "Start", "user_id", userID)
	if err := h.controller.Start(r.Context(), userID); err != nil {
		logger.ErrorContext(r.Context(), "campaign start failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "campaign start accepted")
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, workerActionResponse{UserID: userID, Status: "starting"})
}

func (h *WorkerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	logger := h.log(r.Context(), "Stop", "user_id", userID)
	if err := h.controller.Stop(r.Context(), userID); err != nil {
		logger.ErrorContext(r.Context(), "campaign stop failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "campaign stopped")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	logger := h.log(r.Context(), "Resume", "user_id", userID)
	if err := h.controller.Resume(userID); err != nil {
		logger.ErrorContext(r.Context(), "campaign resume failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "campaign resumed")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkerHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	snap, ok := h.controller.Status(userID)
	if !ok {
		h.responder.handleServiceError(r.Context(), w, worker.ErrNotRunning)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, snap)
}

func (h *WorkerHandler) History(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.attempts == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		limit = parsed
	}

	logger := h.log(r.Context(), "History", "user_id", userID)
	attempts, err := h.attempts.ListAttempts(r.Context(), userID, limit)
	if err != nil {
		logger.ErrorContext(r.Context(), "history lookup failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(attempts)).InfoContext(r.Context(), "history listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, historyResponse{Attempts: toAttemptDTOs(attempts)})
}

type workerActionResponse struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type listWorkersResponse struct {
	Workers []worker.Snapshot `json:"workers"`
}

type historyResponse struct {
	Attempts []attemptDTO `json:"attempts"`
}

type attemptDTO struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Slot    string `json:"slot,omitempty"`
	Outcome string `json:"outcome"`
	Round   int    `json:"round"`
	Message string `json:"message,omitempty"`
	At      string `json:"at"`
}

func toAttemptDTOs(attempts []persistence.BookingAttempt) []attemptDTO {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]attemptDTO, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptDTO{
			ID:      a.ID,
			Date:    a.Date,
			Slot:    a.Slot,
			Outcome: string(a.Outcome),
			Round:   a.Round,
			Message: a.Message,
			At:      a.At.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}
