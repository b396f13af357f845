package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
	"github.com/vdiana16/SiemensJava2025/internal/middleware"
	"github.com/vdiana16/SiemensJava2025/internal/usecases"
)

// ItemHandler handles HTTP requests for items
type ItemHandler struct {
	usecase *usecases.ItemUsecase
	logger  *zap.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(usecase *usecases.ItemUsecase, logger *zap.Logger) *ItemHandler {
	return &ItemHandler{
		usecase: usecase,
		logger:  logger,
	}
}

// Routes mounts the item endpoints on r
func (h *ItemHandler) Routes(r chi.Router) {
	r.Get("/", h.ListItems)
	r.Post("/", h.CreateItem)
	// registered before /{id} so "process" is not parsed as an id
	r.Get("/process", h.ProcessItems)
	r.Get("/{id}", h.GetItem)
	r.Put("/{id}", h.UpdateItem)
	r.Delete("/{id}", h.DeleteItem)
}

// processResponse is the body of GET /process
type processResponse struct {
	*domain.BatchResult
	SubmittedCount int    `json:"submitted_count"`
	NotFoundCount  int    `json:"not_found_count"`
	FailedCount    int    `json:"failed_count"`
	Error          string `json:"error,omitempty"`
}

// ListItems handles GET /api/items
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	items, err := h.usecase.ListItems(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list items", requestID)
		return
	}
	if items == nil {
		items = []*domain.Item{}
	}

	h.respondJSON(w, http.StatusOK, items, requestID)
}

// GetItem handles GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r, requestID)
	if !ok {
		return
	}

	item, err := h.usecase.GetItem(ctx, id)
	if err != nil {
		h.respondUsecaseError(w, err, "failed to get item", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, item, requestID)
}

// CreateItem handles POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var item domain.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.logger.Warn("failed to decode request body",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	created, err := h.usecase.CreateItem(ctx, &item)
	if err != nil {
		h.respondUsecaseError(w, err, "failed to create item", requestID)
		return
	}

	h.respondJSON(w, http.StatusCreated, created, requestID)
}

// UpdateItem handles PUT /api/items/{id}
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r, requestID)
	if !ok {
		return
	}

	var item domain.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	updated, err := h.usecase.UpdateItem(ctx, id, &item)
	if err != nil {
		h.respondUsecaseError(w, err, "failed to update item", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, updated, requestID)
}

// DeleteItem handles DELETE /api/items/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r, requestID)
	if !ok {
		return
	}

	if err := h.usecase.DeleteItem(ctx, id); err != nil {
		h.respondUsecaseError(w, err, "failed to delete item", requestID)
		return
	}

	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusNoContent)
}

// ProcessItems handles GET /api/items/process
func (h *ItemHandler) ProcessItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	result, err := h.usecase.ProcessItems(ctx)
	if err != nil && result == nil {
		h.logger.Error("batch run failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}

	resp := processResponse{
		BatchResult:    result,
		SubmittedCount: result.Submitted(),
		NotFoundCount:  len(result.NotFound),
		FailedCount:    len(result.Failures),
	}
	status := http.StatusOK
	if err != nil {
		// partial result of an interrupted batch
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}

	h.respondJSON(w, status, resp, requestID)
}

func (h *ItemHandler) parseID(w http.ResponseWriter, r *http.Request, requestID string) (domain.ItemID, bool) {
	id, err := domain.ParseItemID(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "id must be a positive integer", requestID)
		return 0, false
	}
	return id, true
}

// respondUsecaseError maps usecase errors onto HTTP status codes
func (h *ItemHandler) respondUsecaseError(w http.ResponseWriter, err error, message, requestID string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "item not found", requestID)
	case errors.Is(err, domain.ErrValidation):
		h.respondError(w, http.StatusBadRequest, err.Error(), requestID)
	default:
		h.logger.Error(message,
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, message, requestID)
	}
}

// respondJSON sends a JSON response
func (h *ItemHandler) respondJSON(w http.ResponseWriter, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError sends an error response
func (h *ItemHandler) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}
