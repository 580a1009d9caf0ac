package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/earthman-shop/checkout/internal/domain"
)

type Handler struct {
	store  *RedisStore
	logger *slog.Logger
}

func NewHandler(store *RedisStore, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "missing cart session")
		return
	}

	cart, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			h.writeError(w, http.StatusNotFound, "cart not found")
			return
		}
		h.logger.Error("failed to get cart", "error", err, "session", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

type putRequest struct {
	Items []Item `json:"items"`
}

func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "missing cart session")
		return
	}

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, item := range req.Items {
		if item.VariantID == "" || item.Quantity <= 0 {
			h.writeError(w, http.StatusBadRequest, "items need a variant_id and a positive quantity")
			return
		}
	}

	cart := &Cart{SessionID: sessionID, Items: req.Items}
	if err := h.store.Put(r.Context(), cart); err != nil {
		h.logger.Error("failed to store cart", "error", err, "session", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "missing cart session")
		return
	}

	if err := h.store.Delete(r.Context(), sessionID); err != nil {
		h.logger.Error("failed to delete cart", "error", err, "session", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
