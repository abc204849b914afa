package payment

import "errors"

var (
	// -- External Service --
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentFailed      = errors.New("payment authorization failed")

	// -- Integrity --
	ErrRecordNotFound     = errors.New("payment record not found")
	ErrRefundExceedsTotal = errors.New("refund amount exceeds order total")
	ErrNotRefundable      = errors.New("payment is not in a refundable state")
	// ErrOrderCancelled is returned by OrderHooks.ConfirmPaid when the order
	// was cancelled before the settlement arrived; the coordinator answers by
	// refunding the capture.
	ErrOrderCancelled = errors.New("order cancelled before settlement")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)
