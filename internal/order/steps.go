package order

import (
	"context"
	"database/sql"
	"fmt"

	"orderflow-be/internal/inventory"
	"orderflow-be/internal/payment"

	"github.com/google/uuid"
)

// Checkout saga steps. Each step pairs its work with the compensating action
// that undoes it if a later step fails.

// --- reserveInventoryStep ---

type reserveInventoryStep struct {
	stock   inventory.Service
	orderID uuid.UUID
	lines   []inventory.Line
}

func (s *reserveInventoryStep) Name() string { return "reserve_inventory" }

func (s *reserveInventoryStep) Execute(ctx context.Context) error {
	_, err := s.stock.Reserve(ctx, s.orderID, s.lines)
	return err
}

func (s *reserveInventoryStep) Compensate(ctx context.Context) error {
	return s.stock.Release(ctx, s.orderID)
}

// --- createOrderStep ---

type createOrderStep struct {
	repo    Repository
	order   *Order
	consume func(ctx context.Context, tx *sql.Tx) error
}

func (s *createOrderStep) Name() string { return "create_order" }

func (s *createOrderStep) Execute(ctx context.Context) error {
	if err := s.repo.CreateOrderTx(ctx, s.order, s.consume); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}
	return nil
}

func (s *createOrderStep) Compensate(ctx context.Context) error {
	return s.repo.UpdateStatus(ctx, s.order.ID, s.order.Version, StatusChange{
		Status: StatusCancelled,
		Actor:  "system",
		Note:   "checkout aborted",
	})
}

// --- authorizePaymentStep ---

type authorizePaymentStep struct {
	authorizer payment.Authorizer
	order      *Order
	method     string
	token      string

	result *payment.AuthResult
}

func (s *authorizePaymentStep) Name() string { return "authorize_payment" }

func (s *authorizePaymentStep) Execute(ctx context.Context) error {
	res, err := s.authorizer.Authorize(
		ctx,
		s.order.ID,
		s.order.OrderNumber,
		s.order.TotalAmount,
		s.order.Currency,
		s.method,
		s.token,
	)
	if err != nil {
		return err
	}
	s.result = res
	return nil
}

// Compensate is never reached for the final step; the coordinator already
// marked the payment failed before Execute returned an error.
func (s *authorizePaymentStep) Compensate(ctx context.Context) error {
	return nil
}
