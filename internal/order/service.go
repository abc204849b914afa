package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orderflow-be/internal/cart"
	"orderflow-be/internal/catalog"
	"orderflow-be/internal/inventory"
	"orderflow-be/internal/logger"
	"orderflow-be/internal/notify"
	"orderflow-be/internal/payment"
	"orderflow-be/internal/pricing"
	"orderflow-be/internal/saga"
	"orderflow-be/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CheckoutInput struct {
	CouponCode      *string
	ShippingMethod  pricing.ShippingMethod
	PaymentMethod   string
	MethodToken     string
	ShippingAddress *AddressSnapshot
}

type CheckoutResult struct {
	Order          *Order
	ClientSecret   string
	RequiresAction bool
}

type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	GetOrders(ctx context.Context, status *Status, limit, page *int32) ([]*Order, error)
	GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*Order, error)
	GetTracking(ctx context.Context, orderID uuid.UUID) ([]TimelineEvent, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor string) error
	Advance(ctx context.Context, orderID uuid.UUID, to Status, actor string) error
	// Transition applies one state-machine edge. Guarded: anything outside
	// the transition table is rejected before any write.
	Transition(ctx context.Context, orderID uuid.UUID, to Status, actor, note string) (*Order, error)

	// Hooks driven by the payment coordinator. Idempotent.
	ConfirmPaid(ctx context.Context, orderID uuid.UUID, transactionID string, paidAt time.Time) error
	CancelPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error
	BuyerOf(ctx context.Context, orderID uuid.UUID) (uint, error)
}

type service struct {
	repo       Repository
	carts      cart.Repository
	products   catalog.Repository
	pricer     pricing.Engine
	coupons    pricing.CouponRepository
	stock      inventory.Service
	authorizer payment.Authorizer
	refunder   payment.Refunder
	payments   payment.Repository
	notifier   notify.Notifier
	currency   string
}

func NewService(
	repo Repository,
	carts cart.Repository,
	products catalog.Repository,
	pricer pricing.Engine,
	coupons pricing.CouponRepository,
	stock inventory.Service,
	authorizer payment.Authorizer,
	refunder payment.Refunder,
	payments payment.Repository,
	notifier notify.Notifier,
	currency string,
) Service {
	return &service{
		repo:       repo,
		carts:      carts,
		products:   products,
		pricer:     pricer,
		coupons:    coupons,
		stock:      stock,
		authorizer: authorizer,
		refunder:   refunder,
		payments:   payments,
		notifier:   notifier,
		currency:   currency,
	}
}

// Checkout turns the buyer's validated cart into a pending order: snapshot
// prices, compute totals, reserve stock for every line, persist the order
// and request payment authorization. Any failure unwinds the steps already
// taken, so no order is left holding stock it did not pay for.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	buyerID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "order"),
		zap.Uint("buyer_id", buyerID),
	)

	cartItems, err := s.carts.GetValidatedCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New()
	items := make([]LineItem, 0, len(cartItems))
	priceLines := make([]pricing.LineItem, 0, len(cartItems))
	stockLines := make([]inventory.Line, 0, len(cartItems))

	for _, ci := range cartItems {
		snapshot, err := s.products.GetPriceAndAvailability(ctx, ci.ProductID)
		if err != nil {
			log.Warn("product unavailable at checkout",
				zap.String("product_id", ci.ProductID),
				zap.Error(err),
			)
			return nil, err
		}

		lineTotal := snapshot.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
		items = append(items, LineItem{
			ID:                uuid.New(),
			OrderID:           orderID,
			ProductID:         ci.ProductID,
			Name:              snapshot.Name,
			SKU:               snapshot.SKU,
			Quantity:          ci.Quantity,
			UnitPrice:         snapshot.Price,
			Discount:          decimal.Zero,
			LineTotal:         lineTotal,
			VendorID:          snapshot.VendorID,
			Weight:            snapshot.Weight,
			FulfillmentStatus: FulfillmentPending,
		})
		priceLines = append(priceLines, pricing.LineItem{
			ProductID: ci.ProductID,
			Quantity:  ci.Quantity,
			UnitPrice: snapshot.Price,
			Weight:    snapshot.Weight,
		})
		stockLines = append(stockLines, inventory.Line{
			ProductID: ci.ProductID,
			Quantity:  ci.Quantity,
		})
	}

	totals, err := s.pricer.ComputeTotals(ctx, priceLines, input.CouponCode, input.ShippingMethod)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:              orderID,
		OrderNumber:     utils.GenerateOrderNumber(),
		BuyerID:         buyerID,
		Currency:        s.currency,
		Items:           items,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ShippingFee:     totals.ShippingFee,
		Discount:        totals.Discount,
		TotalAmount:     totals.Total,
		CouponCode:      totals.CouponCode,
		Status:          StatusPending,
		Version:         1,
		ShippingAddress: input.ShippingAddress,
		CreatedAt:       time.Now(),
	}

	var consume func(ctx context.Context, tx *sql.Tx) error
	if totals.CouponCode != nil && *totals.CouponCode != "" {
		code := *totals.CouponCode
		consume = func(ctx context.Context, tx *sql.Tx) error {
			return s.coupons.ConsumeCoupon(ctx, tx, code)
		}
	}

	authorize := &authorizePaymentStep{
		authorizer: s.authorizer,
		order:      o,
		method:     input.PaymentMethod,
		token:      input.MethodToken,
	}

	flow := saga.NewOrchestrator(
		&reserveInventoryStep{stock: s.stock, orderID: orderID, lines: stockLines},
		&createOrderStep{repo: s.repo, order: o, consume: consume},
		authorize,
	)
	if err := flow.Run(ctx); err != nil {
		return nil, err
	}

	log.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.TotalAmount.String()),
	)

	return &CheckoutResult{
		Order:          o,
		ClientSecret:   authorize.result.ClientSecret,
		RequiresAction: authorize.result.RequiresAction,
	}, nil
}

func (s *service) GetOrders(ctx context.Context, status *Status, limit, page *int32) ([]*Order, error) {
	buyerID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}

	l := int32(20)
	if limit != nil && *limit > 0 && *limit <= 100 {
		l = *limit
	}
	var offset int32
	if page != nil && *page > 1 {
		offset = (*page - 1) * l
	}

	return s.repo.ListOrders(ctx, buyerID, status, l, offset)
}

func (s *service) GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	buyerID, _ := utils.GetUserIDFromContext(ctx)
	if !utils.IsAdmin(ctx) && o.BuyerID != buyerID {
		return nil, ErrUnauthorized
	}

	return o, nil
}

func (s *service) GetTracking(ctx context.Context, orderID uuid.UUID) ([]TimelineEvent, error) {
	if _, err := s.GetOrderDetail(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.GetTimeline(ctx, orderID)
}

// Cancel handles both unpaid and paid cancellation. Unpaid orders release
// their reservations; paid orders additionally get a full refund of whatever
// has not been refunded yet.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "order"),
		zap.String("order_id", orderID.String()),
	)

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return ErrInvalidState
	}

	rec, err := s.payments.GetByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, payment.ErrRecordNotFound) {
		return err
	}
	paid := rec != nil && err == nil &&
		(rec.Status == payment.StatusCompleted || rec.Status == payment.StatusPartiallyRefunded)

	if _, err := s.Transition(ctx, orderID, StatusCancelled, actor, "order cancelled"); err != nil {
		return err
	}

	if err := s.stock.Release(ctx, orderID); err != nil {
		log.Error("failed to release inventory on cancel", zap.Error(err))
	}

	if paid {
		remaining := rec.Amount.Sub(rec.RefundAmount)
		status, err := s.refunder.IssueRefund(ctx, orderID, remaining)
		if err != nil {
			log.Error("refund for cancelled order failed", zap.Error(err))
			return err
		}
		if status == payment.StatusRefunded {
			if _, err := s.Transition(ctx, orderID, StatusRefunded, "system", "cancellation refund settled"); err != nil {
				return err
			}
		}
	}

	s.notifier.Notify(ctx, o.BuyerID, notify.EventOrderCancelled, map[string]interface{}{
		"order_id":     o.ID.String(),
		"order_number": o.OrderNumber,
	})

	log.Info("order cancelled", zap.Bool("refunded", paid))
	return nil
}

// Advance drives the fulfillment chain (confirmed → processing → shipped →
// delivered). Used by back-office operations.
func (s *service) Advance(ctx context.Context, orderID uuid.UUID, to Status, actor string) error {
	switch to {
	case StatusProcessing, StatusShipped, StatusDelivered:
	default:
		return ErrInvalidTransition
	}

	_, err := s.Transition(ctx, orderID, to, actor, "fulfillment update")
	return err
}

// ConfirmPaid is called by the payment coordinator when the gateway settles
// a payment. Repeat calls for an already confirmed order are no-ops.
func (s *service) ConfirmPaid(ctx context.Context, orderID uuid.UUID, transactionID string, paidAt time.Time) error {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case StatusPending:
	case StatusCancelled, StatusPaymentFailed, StatusRefunded:
		// The buyer (or the system) got here first; the coordinator must
		// return the captured funds instead of confirming.
		return payment.ErrOrderCancelled
	default:
		// Already confirmed (or further along): duplicate settlement, no
		// side effects to re-apply.
		return nil
	}

	if _, err := s.Transition(ctx, orderID, StatusConfirmed, "gateway", "payment "+transactionID+" settled"); err != nil {
		return err
	}

	if err := s.stock.Commit(ctx, orderID); err != nil {
		return err
	}
	if err := s.repo.MarkItemsFulfilled(ctx, orderID); err != nil {
		return err
	}

	return nil
}

// CancelPaymentFailed is the automatic compensation when authorization is
// rejected, exhausted or times out: the order is cancelled and its stock
// released.
func (s *service) CancelPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case StatusCancelled, StatusPaymentFailed:
		return nil
	case StatusPending:
	default:
		return ErrInvalidState
	}

	o, err = s.Transition(ctx, orderID, StatusPaymentFailed, "system", reason)
	if err != nil {
		return err
	}
	if _, err := s.Transition(ctx, orderID, StatusCancelled, "system", "auto-cancelled after payment failure"); err != nil {
		return err
	}

	return s.stock.Release(ctx, orderID)
}

func (s *service) BuyerOf(ctx context.Context, orderID uuid.UUID) (uint, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return o.BuyerID, nil
}

// Transition applies one state-machine edge with the optimistic version
// check, retrying once when a concurrent writer got there first.
func (s *service) Transition(ctx context.Context, orderID uuid.UUID, to Status, actor, note string) (*Order, error) {
	for attempt := 0; attempt < 2; attempt++ {
		o, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if o.Status == to {
			return o, nil
		}
		if !CanTransition(o.Status, to) {
			return nil, ErrInvalidTransition
		}

		err = s.repo.UpdateStatus(ctx, orderID, o.Version, StatusChange{
			Status: to,
			Actor:  actor,
			Note:   note,
		})
		if errors.Is(err, ErrVersionConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}

		o.Status = to
		o.Version++
		return o, nil
	}
	return nil, ErrVersionConflict
}
