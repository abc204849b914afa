package returns

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusReceived  Status = "RECEIVED"
	StatusRefunded  Status = "REFUNDED"
)

// transitions of the return sub-state machine.
var transitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusReceived},
	StatusReceived:  {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Record struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	Reason       string          `json:"reason"`
	Description  string          `json:"description,omitempty"`
	Status       Status          `json:"status"`
	Items        []Item          `json:"items"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Item is one returned line: a subset of the order's line items with
// quantities never above what was originally bought.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
