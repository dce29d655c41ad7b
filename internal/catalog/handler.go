// internal/catalog/handler.go
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the catalogue routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleAddItems)
		r.Get("/", h.handleListItems)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetItem)
			r.Delete("/", h.handleRemoveItem)
			r.Get("/price", h.handleGetPrice)
			r.Get("/history", h.handleHistory)
			r.Get("/reviews", h.handleGetReviews)
			r.Post("/reviews", h.handleAddReview)
		})
	})
	r.Get("/search", h.handleSearch)
}

type itemRequest struct {
	ID        int64           `json:"id"`
	Artist    string          `json:"artist"`
	Title     string          `json:"title"`
	Stock     int             `json:"stock"`
	BasePrice decimal.Decimal `json:"base_price"`
}

type itemResponse struct {
	ID        int64           `json:"id"`
	Artist    string          `json:"artist"`
	Title     string          `json:"title"`
	Stock     int             `json:"stock"`
	BasePrice decimal.Decimal `json:"base_price"`
	Version   int             `json:"version"`
	Reviews   []Review        `json:"reviews"`
}

func toResponse(item *Item) itemResponse {
	return itemResponse{
		ID:        item.ID,
		Artist:    item.Artist,
		Title:     item.Title,
		Stock:     item.Stock,
		BasePrice: item.BasePrice,
		Version:   item.Version,
		Reviews:   item.Reviews(),
	}
}

func toResponses(items []*Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toResponse(item))
	}
	return out
}

// handleAddItems accepts a single item object or an array of items.
func (h *Handler) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var reqs []itemRequest
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		var req itemRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqs = append(reqs, req)
	}

	items := make([]*Item, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, NewItem(req.ID, req.Artist, req.Title, req.Stock, req.BasePrice))
	}

	added, err := h.service.AddItems(r.Context(), items...)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, toResponses(added))
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, toResponses(items))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), id); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	price, err := item.Price(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "price": price})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleGetReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, item.Reviews())
}

func (h *Handler) handleAddReview(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var review Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.AddReview(r.Context(), id, review); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	artist := r.URL.Query().Get("artist")

	var (
		items []*Item
		err   error
	)
	switch {
	case title != "":
		items, err = h.service.FindByTitle(r.Context(), title)
		if err == nil && artist != "" {
			items = filterArtist(items, artist)
		}
	case artist != "":
		items, err = h.service.FindByArtist(r.Context(), artist)
	default:
		http.Error(w, "missing title or artist", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, toResponses(items))
}

func filterArtist(items []*Item, artist string) []*Item {
	out := []*Item{}
	for _, item := range items {
		if item.Artist == artist {
			out = append(out, item)
		}
	}
	return out
}

// StatusFor maps catalogue errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateItem), errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidItem), errors.Is(err, ErrInvalidQuantity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid item ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
