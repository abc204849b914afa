package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"orderflow-be/internal/logger"
	"orderflow-be/internal/payment"

	"go.uber.org/zap"
)

// Handler receives gateway callbacks and feeds them to the coordinator.
type Handler struct {
	coordinator *payment.Coordinator
	gateway     payment.Gateway
}

func NewHandler(coordinator *payment.Coordinator, gateway payment.Gateway) *Handler {
	return &Handler{coordinator: coordinator, gateway: gateway}
}

// Handle is the route handler for POST /webhook/payment. It acks duplicates
// and unknown orders with 200 so the gateway stops retrying them, and only
// returns 5xx when processing genuinely failed and a redelivery can help.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context()).With(zap.String("layer", "webhook"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.gateway.VerifySignature(r, body); err != nil {
		log.Warn("webhook signature rejected", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt payment.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	evt.Raw = body

	if evt.ID == "" || evt.Type == "" {
		http.Error(w, "missing event id or type", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.HandleGatewayCallback(r.Context(), &evt); err != nil {
		log.Error("webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.Error(err),
		)
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
