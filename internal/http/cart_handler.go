package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/food-cart/internal/cartsync"
	"github.com/fjod/go_cart/food-cart/internal/catalog"
	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CartStore interface {
	AddItem(food domain.Food, sel domain.Selection, quantity int)
	RemoveItem(foodID string, sel domain.Selection)
	UpdateQuantity(foodID string, sel domain.Selection, quantity int)
	ClearCart(restaurantID string)
	ClearExpiredCarts() int
	State() domain.CartState
	GetItemsByRestaurant(restaurantID string) []domain.CartLineItem
	GetRestaurantIDsWithItems() []string
	GetTotalItemsByRestaurant(restaurantID string) int
	GetTotalPriceByRestaurant(restaurantID string) decimal.Decimal
}

type CartSyncer interface {
	SyncCartWithServer(ctx context.Context, lines []domain.CartLineItem) (json.RawMessage, error)
	FetchCartFromServer(ctx context.Context) ([]domain.CartLineItem, error)
}

type CartHandler struct {
	store   CartStore
	syncer  CartSyncer
	catalog catalog.Catalog
	timeout time.Duration
	log     *zap.Logger
}

// NewCartHandler wires the UI-facing endpoints. cat may be nil, in which case
// remote carts are returned without re-hydration.
func NewCartHandler(store CartStore, syncer CartSyncer, cat catalog.Catalog, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		store:   store,
		syncer:  syncer,
		catalog: cat,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	Item            domain.Food         `json:"item"`
	Quantity        int                 `json:"quantity"`
	RestaurantID    string              `json:"restaurantId"`
	SpecialRequest  string              `json:"specialRequest"`
	SelectedOptions []domain.FoodOption `json:"selectedOptions"`
}

type LineRequestDTO struct {
	FoodID          string              `json:"foodId"`
	Quantity        int                 `json:"quantity"`
	RestaurantID    string              `json:"restaurantId"`
	SpecialRequest  string              `json:"specialRequest"`
	SelectedOptions []domain.FoodOption `json:"selectedOptions"`
}

func (r LineRequestDTO) selection() domain.Selection {
	return domain.Selection{
		RestaurantID:    r.RestaurantID,
		SpecialRequest:  r.SpecialRequest,
		SelectedOptions: r.SelectedOptions,
	}
}

type RestaurantCartDTO struct {
	RestaurantID string                `json:"restaurantId"`
	Items        []domain.CartLineItem `json:"items"`
	TotalItems   int                   `json:"totalItems"`
	TotalPrice   decimal.Decimal       `json:"totalPrice"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.store.State())
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Item.ID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_item", "item.id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > 99 {
		h.respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	h.store.AddItem(req.Item, domain.Selection{
		RestaurantID:    req.RestaurantID,
		SpecialRequest:  req.SpecialRequest,
		SelectedOptions: req.SelectedOptions,
	}, req.Quantity)

	h.respondJSON(w, http.StatusCreated, h.store.State())
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLine(w, r)
	if !ok {
		return
	}
	h.store.UpdateQuantity(req.FoodID, req.selection(), req.Quantity)
	h.respondJSON(w, http.StatusOK, h.store.State())
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLine(w, r)
	if !ok {
		return
	}
	h.store.RemoveItem(req.FoodID, req.selection())
	h.respondJSON(w, http.StatusOK, h.store.State())
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.store.ClearCart(r.URL.Query().Get("restaurant"))
	h.respondJSON(w, http.StatusOK, h.store.State())
}

func (h *CartHandler) ClearExpired(w http.ResponseWriter, r *http.Request) {
	removed := h.store.ClearExpiredCarts()
	h.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *CartHandler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	ids := h.store.GetRestaurantIDsWithItems()
	out := make([]RestaurantCartDTO, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.restaurantCart(id))
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *CartHandler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.restaurantCart(chi.URLParam(r, "restaurantID")))
}

func (h *CartHandler) SyncRestaurant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	restaurantID := chi.URLParam(r, "restaurantID")
	ack, err := h.syncer.SyncCartWithServer(ctx, h.store.GetItemsByRestaurant(restaurantID))
	if err != nil {
		h.handleSyncError(w, r, err)
		return
	}
	if ack == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(ack)
}

func (h *CartHandler) FetchRemote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	lines, err := h.syncer.FetchCartFromServer(ctx)
	if err != nil {
		h.handleSyncError(w, r, err)
		return
	}
	if h.catalog != nil {
		lines, err = catalog.Rehydrate(ctx, h.catalog, lines)
		if err != nil {
			h.handleSyncError(w, r, err)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, lines)
}

func (h *CartHandler) restaurantCart(id string) RestaurantCartDTO {
	return RestaurantCartDTO{
		RestaurantID: id,
		Items:        h.store.GetItemsByRestaurant(id),
		TotalItems:   h.store.GetTotalItemsByRestaurant(id),
		TotalPrice:   h.store.GetTotalPriceByRestaurant(id),
	}
}

func (h *CartHandler) handleSyncError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Warn("cart sync request failed",
		zap.String("request_id", getRequestID(r.Context())),
		zap.Error(err))

	switch {
	case errors.Is(err, cartsync.ErrValidation):
		h.respondError(w, http.StatusBadRequest, "invalid_cart", err.Error())
	case errors.Is(err, cartsync.ErrCircuitOpen):
		h.respondError(w, http.StatusServiceUnavailable, "sync_unavailable", "failed to sync cart, try again")
	default:
		h.respondError(w, http.StatusBadGateway, "sync_failed", "failed to sync cart, try again")
	}
}

func (h *CartHandler) decodeLine(w http.ResponseWriter, r *http.Request) (LineRequestDTO, bool) {
	var req LineRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return req, false
	}
	if req.FoodID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_item", "foodId is required")
		return req, false
	}
	return req, true
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
	}
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, details string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: details,
	})
}
