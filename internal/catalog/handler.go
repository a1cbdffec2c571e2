package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spendscan/spendscan/internal/platform/httpx"
)

// Handler exposes the store admin surface.
type Handler struct {
	logger *slog.Logger
	stores *StoreService
}

// NewHandler builds the catalog admin handler.
func NewHandler(logger *slog.Logger, stores *StoreService) *Handler {
	return &Handler{logger: logger, stores: stores}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stores/{id}/rename", h.renameStore)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) renameStore(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "id must be a UUID")
		return
	}
	var req renameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "name is required")
		return
	}

	store, err := h.stores.RenameOrMerge(r.Context(), id, req.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "store not found")
	case errors.Is(err, ErrMergeConflict):
		httpx.Problem(w, http.StatusConflict, "Merge Conflict", "a concurrent merge touched this store; retry")
	case err != nil:
		h.logger.Error("store rename failed", slog.String("store_id", id.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		httpx.JSON(w, http.StatusOK, store)
	}
}
