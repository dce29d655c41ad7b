// internal/purchase/handler.go
package purchase

import (
	"encoding/json"
	"errors"
	"net/http"

	"discshop/internal/catalog"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the purchase routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/purchases", h.handlePurchase)
}

type purchaseRequest struct {
	ItemID   int64       `json:"item_id"`
	Quantity int         `json:"quantity"`
	Card     CardDetails `json:"card"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := h.service.Purchase(r.Context(), req.ItemID, req.Quantity, req.Card)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(receipt)
}

// StatusFor maps a purchase error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrCollaboratorFailed):
		return http.StatusBadGateway
	default:
		return catalog.StatusFor(err)
	}
}
