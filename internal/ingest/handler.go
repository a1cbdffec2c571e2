package ingest

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spendscan/spendscan/internal/platform/httpx"
)

// Handler exposes the queue admin surface: submit an object key, inspect
// queue depth, preview pending items.
type Handler struct {
	logger *slog.Logger
	queue  *Queue
}

// NewHandler builds the queue admin handler.
func NewHandler(logger *slog.Logger, queue *Queue) *Handler {
	return &Handler{logger: logger, queue: queue}
}

// MountRoutes registers queue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/queue", h.enqueue)
	r.Get("/queue/length", h.length)
	r.Get("/queue/peek", h.peek)
}

type enqueueRequest struct {
	ObjectKey string `json:"object_key"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	req.ObjectKey = strings.TrimSpace(req.ObjectKey)
	if req.ObjectKey == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "object_key is required")
		return
	}
	if err := h.queue.Enqueue(r.Context(), req.ObjectKey); err != nil {
		h.logger.Error("enqueue failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"object_key": req.ObjectKey})
}

func (h *Handler) length(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.Length(r.Context())
	if err != nil {
		h.logger.Error("queue length failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"length": n})
}

func (h *Handler) peek(w http.ResponseWriter, r *http.Request) {
	take := 0
	if raw := r.URL.Query().Get("take"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "take must be an integer")
			return
		}
		take = parsed
	}
	items, err := h.queue.Peek(r.Context(), take)
	if err != nil {
		h.logger.Error("queue peek failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	if items == nil {
		items = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"items": items})
}
