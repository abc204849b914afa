package notify

import (
	"context"

	"orderflow-be/internal/logger"

	"go.uber.org/zap"
)

// Event types emitted by the order flow.
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderCancelled = "order.cancelled"
	EventPaymentFailed  = "payment.failed"
	EventReturnApproved = "return.approved"
	EventRefundIssued   = "refund.issued"
)

// Notifier is fire-and-forget: delivery failures must never roll back
// order state, so implementations log and move on.
type Notifier interface {
	Notify(ctx context.Context, buyerID uint, eventType string, payload map[string]interface{})
}

// LogNotifier is the default wiring: it records the event and nothing else.
// Real delivery (email/SMS) lives behind an external collaborator.
type LogNotifier struct{}

func NewLogNotifier() Notifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(ctx context.Context, buyerID uint, eventType string, payload map[string]interface{}) {
	logger.FromCtx(ctx).Info("notification dispatched",
		zap.Uint("buyer_id", buyerID),
		zap.String("event_type", eventType),
		zap.Any("payload", payload),
	)
}
