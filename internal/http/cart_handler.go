package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-session/internal/cart"
	"github.com/fjod/go_cart/cart-session/internal/domain"
	"github.com/fjod/go_cart/cart-session/internal/logger"
	"github.com/fjod/go_cart/cart-session/internal/session"
)

// StorageHealth reports the circuit state of a remote cart backend.
type StorageHealth interface {
	State() gobreaker.State
}

type CartHandler struct {
	registry *session.Registry
	storage  StorageHealth
	timeout  time.Duration
	log      *zap.Logger
}

// NewCartHandler builds the handler. storage may be nil for backends without a breaker.
func NewCartHandler(registry *session.Registry, storage StorageHealth, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		registry: registry,
		storage:  storage,
		timeout:  timeout,
		log:      log,
	}
}

type AuthRequestDTO struct {
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role"`
}

type AddItemRequestDTO struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Stock     int     `json:"stock"`
	ImageRef  string  `json:"image_ref"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	Items                   []domain.LineItem `json:"items"`
	Total                   float64           `json:"total"`
	ItemCount               int               `json:"item_count"`
	SessionRemainingSeconds *int64            `json:"session_remaining_seconds,omitempty"`
}

type CheckoutResponseDTO struct {
	CheckoutID string            `json:"checkout_id"`
	Items      []domain.LineItem `json:"items"`
	Total      float64           `json:"total_amount"`
	ItemCount  int               `json:"item_count"`
}

type HealthResponseDTO struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Health reports 503 while the storage breaker is open.
func (h *CartHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponseDTO{Status: "ok", Storage: "ok"}
	if h.storage != nil {
		state := h.storage.State()
		resp.Storage = state.String()
		if state == gobreaker.StateOpen {
			resp.Status = "degraded"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) SetAuth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AuthRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	role := domain.ParseRole(req.Role)
	if req.Authenticated && role == domain.RoleNone {
		respondError(w, http.StatusBadRequest, "invalid_role", "role must be USER or ADMIN")
		return
	}

	c := h.registry.Get(getClientSession(r.Context()))
	c.SetAuth(ctx, domain.AuthState{
		Authenticated: req.Authenticated,
		Role:          role,
		Token:         bearerToken(r),
	})

	h.logger(r).Debug("auth state updated",
		zap.Bool("authenticated", req.Authenticated),
		zap.String("role", string(role)),
	)
	respondJSON(w, http.StatusOK, cartResponse(c))
}

func (h *CartHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Remove(getClientSession(r.Context())) {
		respondError(w, http.StatusNotFound, "not_found", "unknown client session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	c := h.registry.Get(getClientSession(r.Context()))
	respondJSON(w, http.StatusOK, cartResponse(c))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}
	if req.UnitPrice < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "unit_price must not be negative")
		return
	}

	item := domain.LineItem{
		ID:        req.ID,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
		Stock:     req.Stock,
		ImageRef:  req.ImageRef,
	}
	h.dispatch(w, r, cart.AddItem(item), http.StatusCreated)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must not exceed 99")
		return
	}

	h.dispatch(w, r, cart.UpdateQuantity(productID, req.Quantity), http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, cart.RemoveItem(productID), http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, cart.ClearCart(), http.StatusOK)
}

func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c := h.registry.Get(getClientSession(r.Context()))
	snap, err := c.Checkout(ctx)
	if err != nil {
		h.handleSessionError(w, r, err)
		return
	}

	h.logger(r).Info("checkout requested",
		zap.String("checkout_id", snap.CheckoutID),
		zap.Int("item_count", snap.ItemCount),
	)
	respondJSON(w, http.StatusAccepted, CheckoutResponseDTO{
		CheckoutID: snap.CheckoutID,
		Items:      snap.Items,
		Total:      snap.Total,
		ItemCount:  snap.ItemCount,
	})
}

func (h *CartHandler) dispatch(w http.ResponseWriter, r *http.Request, action cart.Action, okStatus int) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c := h.registry.Get(getClientSession(r.Context()))
	if _, err := c.Dispatch(ctx, action); err != nil {
		h.handleSessionError(w, r, err)
		return
	}
	respondJSON(w, okStatus, cartResponse(c))
}

func (h *CartHandler) handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, session.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, session.ErrOutOfStock):
		status, code = http.StatusConflict, "out_of_stock"
	case errors.Is(err, session.ErrEmptyCart):
		status, code = http.StatusConflict, "empty_cart"
	case errors.Is(err, session.ErrAdminCart):
		status, code = http.StatusForbidden, "admin_cart"
	case errors.Is(err, session.ErrNotAuthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, session.ErrSessionExpired):
		status, code = http.StatusUnauthorized, "session_expired"
	case errors.Is(err, session.ErrClosed):
		status, code = http.StatusGone, "session_closed"
	default:
		h.logger(r).Error("cart operation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondError(w, status, code, err.Error())
}

func (h *CartHandler) logger(r *http.Request) *zap.Logger {
	return logger.WithTrace(r.Context(), h.log).With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("client_session", getClientSession(r.Context())),
	)
}

func cartResponse(c *session.Coordinator) CartResponseDTO {
	state := c.State()
	resp := CartResponseDTO{
		Items:     state.Items,
		Total:     state.Total,
		ItemCount: state.ItemCount,
	}
	if remaining, ok := c.RemainingSession(); ok {
		secs := int64(remaining / time.Second)
		resp.SessionRemainingSeconds = &secs
	}
	return resp
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
