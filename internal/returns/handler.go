package returns

import (
	"encoding/json"
	"errors"
	"net/http"

	"orderflow-be/internal/middleware"
	"orderflow-be/internal/order"
	"orderflow-be/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/returns", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/", h.requestReturn)
			r.Get("/order/{orderID}", h.listByOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth, middleware.RequireAdmin)
			r.Post("/{id}/approve", h.approve)
			r.Post("/{id}/reject", h.reject)
			r.Post("/{id}/receive", h.receive)
			r.Post("/{id}/refund", h.refund)
		})
	})
}

type requestReturnBody struct {
	OrderID     string `json:"order_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Items       []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	var body requestReturnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	orderID, err := uuid.Parse(body.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}

	items := make([]ItemRequest, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	rec, err := h.service.RequestReturn(r.Context(), orderID, items, body.Reason, body.Description)
	if err != nil {
		status, code := mapReturnError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respond(w, http.StatusCreated, rec)
}

func (h *Handler) listByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}

	recs, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respond(w, http.StatusOK, recs)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) error {
		return h.service.ApproveReturn(r.Context(), id, "admin")
	})
}

type rejectBody struct {
	Note string `json:"note"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	returnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid return id")
		return
	}

	var body rejectBody
	// Note is optional, a bare POST still rejects.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.service.RejectReturn(r.Context(), returnID, "admin", body.Note); err != nil {
		status, code := mapReturnError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": string(StatusRejected)})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) error {
		return h.service.ReceiveReturn(r.Context(), id, "admin")
	})
}

type refundBody struct {
	Amount *string `json:"amount,omitempty"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	returnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid return id")
		return
	}

	var body refundBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	var amount *decimal.Decimal
	if body.Amount != nil {
		d, err := decimal.NewFromString(*body.Amount)
		if err != nil || d.IsNegative() {
			respondError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a non-negative decimal")
			return
		}
		amount = &d
	}

	refunded, err := h.service.RefundReturn(r.Context(), returnID, amount)
	if err != nil {
		status, code := mapReturnError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{
		"status":        string(StatusRefunded),
		"refund_amount": refunded.String(),
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID) error) {
	returnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid return id")
		return
	}

	if err := apply(returnID); err != nil {
		status, code := mapReturnError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"result": "ok"})
}

func mapReturnError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrReturnNotFound), errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ErrOrderNotReturnable), errors.Is(err, ErrInvalidReturnState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, ErrReturnWindowExpired):
		return http.StatusUnprocessableEntity, "WINDOW_EXPIRED"
	case errors.Is(err, ErrInvalidItems):
		return http.StatusBadRequest, "INVALID_ITEMS"
	case errors.Is(err, payment.ErrRefundExceedsTotal):
		return http.StatusUnprocessableEntity, "REFUND_EXCEEDS_TOTAL"
	case errors.Is(err, payment.ErrNotRefundable):
		return http.StatusConflict, "NOT_REFUNDABLE"
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
