package payment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusProcessing        Status = "PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
	StatusRefunded          Status = "REFUNDED"
)

// statusRank orders the payment sub-states. Transitions may only move to a
// higher rank; an event implying backward movement is an anomaly.
var statusRank = map[Status]int{
	StatusPending:           0,
	StatusProcessing:        1,
	StatusCompleted:         2,
	StatusFailed:            2,
	StatusPartiallyRefunded: 3,
	StatusRefunded:          4,
}

func ForwardOf(from, to Status) bool {
	return statusRank[to] > statusRank[from]
}

// Record is the payment sub-record of an order. The coordinator is its sole
// writer.
type Record struct {
	ID      uuid.UUID
	OrderID uuid.UUID
	Method  string
	Status  Status

	// GatewayTransactionID is the idempotency key. Once set it never
	// changes; duplicate webhook deliveries are detected through it.
	GatewayTransactionID *string

	Amount       decimal.Decimal
	Currency     string
	ClientSecret *string
	PaidAt       *time.Time
	RefundAmount decimal.Decimal
	DisputeInfo  *Dispute
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Dispute struct {
	DisputeID string    `json:"dispute_id"`
	Reason    string    `json:"reason"`
	OpenedAt  time.Time `json:"opened_at"`
}

// Webhook event types sent by the gateway.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventDisputeCreated   = "charge.dispute.created"
)

// WebhookEvent is what the gateway posts to the callback endpoint.
type WebhookEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	DisputeID     string          `json:"dispute_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// AuthResult is what the synchronous half of authorization hands back to the
// client.
type AuthResult struct {
	TransactionID  string
	ClientSecret   string
	RequiresAction bool
}
