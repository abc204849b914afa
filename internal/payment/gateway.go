package payment

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

type IntentRequest struct {
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
	MethodToken string
}

type IntentResponse struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
	RequiresAction bool   `json:"requires_action"`
}

type RefundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*RefundResponse, error)
	VerifySignature(r *http.Request, body []byte) error
}
