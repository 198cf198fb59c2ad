package opqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the engine's operator surface over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a queue HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes returns a chi.Router with all queue endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleListQueued)
	r.Get("/failed", h.handleListFailed)
	r.Get("/status", h.handleStatus)
	r.Get("/stats", h.handleStats)
	r.Post("/sync", h.handleSync)
	r.Post("/retry-all", h.handleRetryAll)
	r.Post("/{opID}/retry", h.handleRetry)
	r.Delete("/failed/{opID}", h.handleDiscard)
	r.Delete("/{opID}", h.handleRemove)
	r.Delete("/", h.handleClear)
	return r
}

func (h *Handler) handleListQueued(w http.ResponseWriter, r *http.Request) {
	ops, err := h.engine.QueuedOperations(r.Context())
	if err != nil {
		slog.Error("list queued failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if ops == nil {
		ops = []Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) handleListFailed(w http.ResponseWriter, r *http.Request) {
	ops, err := h.engine.FailedOperations(r.Context())
	if err != nil {
		slog.Error("list failed failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if ops == nil {
		ops = []Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		slog.Error("queue stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	// Fire-and-forget; pass errors surface via /status.
	go h.engine.Sync(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opID")
	err := h.engine.RetryFailedOperation(r.Context(), opID)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "operation not found"})
		return
	}
	if err != nil {
		slog.Error("retry failed operation", "id", opID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": opID})
}

func (h *Handler) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	moved, err := h.engine.RetryAllFailed(r.Context())
	if err != nil {
		slog.Error("retry-all failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": moved})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opID")
	if err := h.engine.RemoveOperation(r.Context(), opID); err != nil {
		slog.Error("remove operation failed", "id", opID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": opID})
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opID")
	if err := h.engine.DiscardFailed(r.Context(), opID); err != nil {
		slog.Error("discard failed operation", "id", opID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded", "id": opID})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearQueue(r.Context()); err != nil {
		slog.Error("clear queue failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
