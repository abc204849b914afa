package order

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusConfirmed       Status = "CONFIRMED"
	StatusProcessing      Status = "PROCESSING"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
	StatusPaymentFailed   Status = "PAYMENT_FAILED"
	StatusReturnRequested Status = "RETURN_REQUESTED"
	StatusReturnApproved  Status = "RETURN_APPROVED"
	StatusRefunded        Status = "REFUNDED"
)

// transitions is the full order state machine. Anything not listed here is
// rejected with ErrInvalidTransition before any write happens.
var transitions = map[Status][]Status{
	StatusPending:         {StatusConfirmed, StatusCancelled, StatusPaymentFailed},
	StatusConfirmed:       {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusShipped},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {StatusReturnRequested},
	StatusPaymentFailed:   {StatusCancelled},
	StatusReturnRequested: {StatusReturnApproved, StatusDelivered},
	StatusReturnApproved:  {StatusRefunded, StatusDelivered},
	StatusCancelled:       {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no forward transition is defined except through
// an explicit compensating flow.
func IsTerminal(s Status) bool {
	return s == StatusRefunded
}

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "PENDING"
	FulfillmentFulfilled FulfillmentStatus = "FULFILLED"
	FulfillmentReturned  FulfillmentStatus = "RETURNED"
)
