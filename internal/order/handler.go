package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"orderflow-be/internal/cart"
	"orderflow-be/internal/inventory"
	"orderflow-be/internal/middleware"
	"orderflow-be/internal/payment"
	"orderflow-be/internal/pricing"
	"orderflow-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes the buyer-facing order endpoints plus the back-office
// fulfillment operations.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/checkout", h.checkout)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Get("/orders/{id}/tracking", h.getTracking)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth, middleware.RequireAdmin)
			r.Post("/orders/{id}/status", h.updateStatus)
		})
	})
}

type checkoutRequest struct {
	CouponCode     *string          `json:"coupon_code,omitempty"`
	ShippingMethod string           `json:"shipping_method"`
	PaymentMethod  string           `json:"payment_method"`
	MethodToken    string           `json:"method_token"`
	Address        *AddressSnapshot `json:"address,omitempty"`
}

type checkoutResponse struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	Status         string `json:"status"`
	TotalAmount    string `json:"total_amount"`
	Currency       string `json:"currency"`
	ClientSecret   string `json:"client_secret,omitempty"`
	RequiresAction bool   `json:"requires_action"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	method := pricing.ShippingMethod(req.ShippingMethod)
	if method == "" {
		method = pricing.ShippingStandard
	}

	result, err := h.service.Checkout(r.Context(), CheckoutInput{
		CouponCode:      req.CouponCode,
		ShippingMethod:  method,
		PaymentMethod:   req.PaymentMethod,
		MethodToken:     req.MethodToken,
		ShippingAddress: req.Address,
	})
	if err != nil {
		status, code := mapCheckoutError(err)
		respondError(w, status, code, err.Error())
		return
	}

	respond(w, http.StatusCreated, checkoutResponse{
		OrderID:        result.Order.ID.String(),
		OrderNumber:    result.Order.OrderNumber,
		Status:         string(result.Order.Status),
		TotalAmount:    result.Order.TotalAmount.String(),
		Currency:       result.Order.Currency,
		ClientSecret:   result.ClientSecret,
		RequiresAction: result.RequiresAction,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var status *Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := Status(s)
		status = &st
	}

	limit, page := utils.ParsePagination(r.URL.Query().Get("limit"), r.URL.Query().Get("page"))

	orders, err := h.service.GetOrders(r.Context(), status, limit, page)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respond(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}

	o, err := h.service.GetOrderDetail(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		case errors.Is(err, ErrUnauthorized):
			respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	respond(w, http.StatusOK, o)
}

func (h *Handler) getTracking(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}

	events, err := h.service.GetTracking(r.Context(), orderID)
	if err != nil {
		respondError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		return
	}
	respond(w, http.StatusOK, events)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}

	// Ownership check rides on GetOrderDetail.
	if _, err := h.service.GetOrderDetail(r.Context(), orderID); err != nil {
		respondError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		return
	}

	if err := h.service.Cancel(r.Context(), orderID, "buyer"); err != nil {
		switch {
		case errors.Is(err, ErrInvalidState):
			respondError(w, http.StatusConflict, "INVALID_STATE", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": string(StatusCancelled)})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	if err := h.service.Advance(r.Context(), orderID, Status(req.Status), "admin"); err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidState):
			respondError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
		case errors.Is(err, ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": req.Status})
}

func mapCheckoutError(err error) (int, string) {
	switch {
	case errors.Is(err, cart.ErrCartEmpty), errors.Is(err, pricing.ErrEmptyCart):
		return http.StatusBadRequest, "EMPTY_CART"
	case errors.Is(err, pricing.ErrInvalidCoupon),
		errors.Is(err, pricing.ErrCouponExpired),
		errors.Is(err, pricing.ErrCouponBelowMinimum),
		errors.Is(err, pricing.ErrCouponExhausted):
		return http.StatusBadRequest, "INVALID_COUPON"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, payment.ErrPaymentFailed), errors.Is(err, payment.ErrGatewayUnavailable):
		return http.StatusBadGateway, "PAYMENT_FAILED"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respond(w, status, map[string]string{"code": code, "error": message})
}
