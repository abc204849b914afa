package returns

import (
	"context"
	"time"

	"orderflow-be/internal/inventory"
	"orderflow-be/internal/logger"
	"orderflow-be/internal/notify"
	"orderflow-be/internal/order"
	"orderflow-be/internal/payment"
	"orderflow-be/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ItemRequest struct {
	ProductID string
	Quantity  int
}

type Service interface {
	RequestReturn(ctx context.Context, orderID uuid.UUID, items []ItemRequest, reason, description string) (*Record, error)
	ApproveReturn(ctx context.Context, returnID uuid.UUID, actor string) error
	RejectReturn(ctx context.Context, returnID uuid.UUID, actor, note string) error
	ReceiveReturn(ctx context.Context, returnID uuid.UUID, actor string) error
	// RefundReturn settles a received return. A nil amount means the
	// proportional refund for the returned items.
	RefundReturn(ctx context.Context, returnID uuid.UUID, amount *decimal.Decimal) (decimal.Decimal, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Record, error)
}

type service struct {
	repo     Repository
	orders   order.Repository
	orderSvc order.Service
	refunder payment.Refunder
	stock    inventory.Service
	notifier notify.Notifier
	window   time.Duration
	now      func() time.Time
}

func NewService(
	repo Repository,
	orders order.Repository,
	orderSvc order.Service,
	refunder payment.Refunder,
	stock inventory.Service,
	notifier notify.Notifier,
	window time.Duration,
) Service {
	return &service{
		repo:     repo,
		orders:   orders,
		orderSvc: orderSvc,
		refunder: refunder,
		stock:    stock,
		notifier: notifier,
		window:   window,
		now:      time.Now,
	}
}

// RequestReturn validates eligibility and records the return request. The
// order must be delivered, inside the return window, and the requested
// quantities must not exceed what was bought minus what already went back.
func (s *service) RequestReturn(
	ctx context.Context,
	orderID uuid.UUID,
	items []ItemRequest,
	reason, description string,
) (*Record, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "returns"),
		zap.String("order_id", orderID.String()),
	)

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	buyerID, _ := utils.GetUserIDFromContext(ctx)
	if !utils.IsAdmin(ctx) && o.BuyerID != buyerID {
		return nil, ErrUnauthorized
	}

	if o.Status != order.StatusDelivered {
		return nil, ErrOrderNotReturnable
	}
	if o.DeliveredAt == nil || s.now().Sub(*o.DeliveredAt) > s.window {
		return nil, ErrReturnWindowExpired
	}
	if len(items) == 0 {
		return nil, ErrInvalidItems
	}

	alreadyReturned, err := s.repo.ReturnedQuantities(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ordered := make(map[string]order.LineItem, len(o.Items))
	for _, li := range o.Items {
		ordered[li.ProductID] = li
	}

	recItems := make([]Item, 0, len(items))
	for _, req := range items {
		li, ok := ordered[req.ProductID]
		if !ok || req.Quantity <= 0 {
			return nil, ErrInvalidItems
		}
		if req.Quantity > li.Quantity-alreadyReturned[req.ProductID] {
			log.Warn("return quantity exceeds returnable",
				zap.String("product_id", req.ProductID),
				zap.Int("requested", req.Quantity),
				zap.Int("ordered", li.Quantity),
				zap.Int("already_returned", alreadyReturned[req.ProductID]),
			)
			return nil, ErrInvalidItems
		}
		recItems = append(recItems, Item{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			UnitPrice: li.UnitPrice,
		})
	}

	rec := &Record{
		ID:           uuid.New(),
		OrderID:      orderID,
		Reason:       reason,
		Description:  description,
		Status:       StatusRequested,
		Items:        recItems,
		RefundAmount: decimal.Zero,
	}

	if err := s.repo.CreateReturn(ctx, rec); err != nil {
		return nil, err
	}

	if _, err := s.orderSvc.Transition(ctx, orderID, order.StatusReturnRequested, "buyer", "return requested: "+reason); err != nil {
		return nil, err
	}

	log.Info("return requested", zap.String("return_id", rec.ID.String()))
	return rec, nil
}

func (s *service) ApproveReturn(ctx context.Context, returnID uuid.UUID, actor string) error {
	rec, err := s.advance(ctx, returnID, StatusApproved)
	if err != nil {
		return err
	}

	if _, err := s.orderSvc.Transition(ctx, rec.OrderID, order.StatusReturnApproved, actor, "return approved"); err != nil {
		return err
	}

	o, err := s.orders.GetOrder(ctx, rec.OrderID)
	if err == nil {
		s.notifier.Notify(ctx, o.BuyerID, notify.EventReturnApproved, map[string]interface{}{
			"order_id":  rec.OrderID.String(),
			"return_id": rec.ID.String(),
		})
	}

	return nil
}

func (s *service) RejectReturn(ctx context.Context, returnID uuid.UUID, actor, note string) error {
	rec, err := s.advance(ctx, returnID, StatusRejected)
	if err != nil {
		return err
	}

	// The order resumes its delivered life; the rejected request counts for
	// nothing against returnable quantities.
	_, err = s.orderSvc.Transition(ctx, rec.OrderID, order.StatusDelivered, actor, "return rejected: "+note)
	return err
}

// ReceiveReturn confirms the goods are physically back. Only now is stock
// restored; approval alone never restocks.
func (s *service) ReceiveReturn(ctx context.Context, returnID uuid.UUID, actor string) error {
	rec, err := s.advance(ctx, returnID, StatusReceived)
	if err != nil {
		return err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "returns"),
		zap.String("return_id", returnID.String()),
	)

	for _, item := range rec.Items {
		if err := s.stock.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			log.Error("restock failed",
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err),
			)
			return err
		}
		if err := s.orders.MarkItemReturned(ctx, rec.OrderID, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	log.Info("return received, stock restored", zap.Int("lines", len(rec.Items)))
	return nil
}

func (s *service) RefundReturn(ctx context.Context, returnID uuid.UUID, amount *decimal.Decimal) (decimal.Decimal, error) {
	rec, err := s.repo.GetReturn(ctx, returnID)
	if err != nil {
		return decimal.Zero, err
	}
	if !CanTransition(rec.Status, StatusRefunded) {
		return decimal.Zero, ErrInvalidReturnState
	}

	o, err := s.orders.GetOrder(ctx, rec.OrderID)
	if err != nil {
		return decimal.Zero, err
	}

	refund := decimal.Zero
	if amount != nil {
		refund = *amount
	} else {
		refund = ProportionalRefund(o, rec.Items)
	}

	payStatus, err := s.refunder.IssueRefund(ctx, rec.OrderID, refund)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.repo.SetRefundAmount(ctx, returnID, refund); err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.UpdateStatus(ctx, returnID, StatusRefunded); err != nil {
		return decimal.Zero, err
	}

	// A fully refunded order reaches its terminal state; a partial refund
	// hands the order back to delivered for possible further returns.
	target := order.StatusDelivered
	note := "partial refund settled"
	if payStatus == payment.StatusRefunded {
		target = order.StatusRefunded
		note = "refund settled in full"
	}
	if _, err := s.orderSvc.Transition(ctx, rec.OrderID, target, "system", note); err != nil {
		return decimal.Zero, err
	}

	logger.FromCtx(ctx).Info("return refunded",
		zap.String("return_id", returnID.String()),
		zap.String("amount", refund.String()),
		zap.String("payment_status", string(payStatus)),
	)

	return refund, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Record, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *service) advance(ctx context.Context, returnID uuid.UUID, to Status) (*Record, error) {
	rec, err := s.repo.GetReturn(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(rec.Status, to) {
		return nil, ErrInvalidReturnState
	}
	if err := s.repo.UpdateStatus(ctx, returnID, to); err != nil {
		return nil, err
	}
	rec.Status = to
	return rec, nil
}

// ProportionalRefund computes the refund for returned items: their gross
// value minus the same share of the order-level discount those items
// carried, rounded once at the end.
func ProportionalRefund(o *order.Order, items []Item) decimal.Decimal {
	gross := decimal.Zero
	for _, item := range items {
		gross = gross.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if o.Subtotal.IsZero() {
		return decimal.Zero
	}

	discountShare := o.Discount.Mul(gross).Div(o.Subtotal)
	return gross.Sub(discountShare).Round(2)
}
