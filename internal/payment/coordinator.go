package payment

import (
	"context"
	"errors"
	"time"

	"orderflow-be/internal/cache"
	"orderflow-be/internal/logger"
	"orderflow-be/internal/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderHooks are the order-side effects the coordinator triggers. Both must
// be idempotent: callbacks can be delivered more than once. ConfirmPaid
// returns ErrOrderCancelled when the order can no longer accept a settlement.
type OrderHooks interface {
	ConfirmPaid(ctx context.Context, orderID uuid.UUID, transactionID string, paidAt time.Time) error
	CancelPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error
}

// Authorizer is the synchronous half of payment, consumed by checkout.
type Authorizer interface {
	Authorize(ctx context.Context, orderID uuid.UUID, orderNumber string, amount decimal.Decimal, currency, method, methodToken string) (*AuthResult, error)
}

// Refunder is consumed by the return flow and by paid-order cancellation.
type Refunder interface {
	IssueRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (Status, error)
}

// Coordinator drives authorization against the gateway and correlates
// asynchronous webhook confirmations back to orders. It is the sole writer
// of payment status.
type Coordinator struct {
	gateway  Gateway
	repo     Repository
	hooks    OrderHooks
	cache    cache.Cache
	notifier notify.Notifier
	buyerOf  func(ctx context.Context, orderID uuid.UUID) (uint, error)

	maxAttempts int
	retryBase   time.Duration
	authWindow  time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

func NewCoordinator(
	gateway Gateway,
	repo Repository,
	hooks OrderHooks,
	c cache.Cache,
	notifier notify.Notifier,
	buyerOf func(ctx context.Context, orderID uuid.UUID) (uint, error),
	maxAttempts int,
	retryBase time.Duration,
	authWindow time.Duration,
) *Coordinator {
	return &Coordinator{
		gateway:     gateway,
		repo:        repo,
		hooks:       hooks,
		cache:       c,
		notifier:    notifier,
		buyerOf:     buyerOf,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		authWindow:  authWindow,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// SetOrderHooks wires the order side in after construction; the order service
// and the coordinator hold references to each other.
func (c *Coordinator) SetOrderHooks(hooks OrderHooks, buyerOf func(ctx context.Context, orderID uuid.UUID) (uint, error)) {
	c.hooks = hooks
	c.buyerOf = buyerOf
}

// ----------------- Authorize -----------------

// Authorize creates the payment record and requests an intent from the
// gateway. Gateway unavailability is retried with exponential backoff up to
// the attempt cap; exhaustion surfaces the error so the checkout saga can
// run its compensations.
func (c *Coordinator) Authorize(
	ctx context.Context,
	orderID uuid.UUID,
	orderNumber string,
	amount decimal.Decimal,
	currency, method, methodToken string,
) (*AuthResult, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "payment"),
		zap.String("order_id", orderID.String()),
		zap.String("order_number", orderNumber),
	)

	rec := &Record{
		ID:           uuid.New(),
		OrderID:      orderID,
		Method:       method,
		Status:       StatusPending,
		Amount:       amount,
		Currency:     currency,
		RefundAmount: decimal.Zero,
	}
	if err := c.repo.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}

	var res *IntentResponse
	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(c.retryBase << (attempt - 1))
			log.Warn("retrying payment authorization", zap.Int("attempt", attempt+1))
		}

		res, err = c.gateway.CreatePaymentIntent(ctx, IntentRequest{
			ReferenceID: orderNumber,
			Amount:      amount,
			Currency:    currency,
			MethodToken: methodToken,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrGatewayUnavailable) {
			// Hard decline, retrying will not change the answer.
			break
		}
	}

	if err != nil {
		log.Error("payment authorization failed", zap.Error(err))
		if updErr := c.repo.UpdateStatus(ctx, rec.ID, StatusFailed, nil); updErr != nil {
			log.Error("failed to mark payment failed", zap.Error(updErr))
		}
		return nil, err
	}

	if err := c.repo.SetTransactionID(ctx, rec.ID, res.ID, res.ClientSecret); err != nil {
		return nil, err
	}
	if err := c.repo.UpdateStatus(ctx, rec.ID, StatusProcessing, nil); err != nil {
		return nil, err
	}

	log.Info("payment authorized, awaiting confirmation", zap.String("transaction_id", res.ID))

	return &AuthResult{
		TransactionID:  res.ID,
		ClientSecret:   res.ClientSecret,
		RequiresAction: res.RequiresAction,
	}, nil
}

// ----------------- HandleGatewayCallback -----------------

// HandleGatewayCallback is the idempotency boundary for asynchronous gateway
// events. Duplicate deliveries are acknowledged without re-applying side
// effects; backward transitions are logged as anomalies and ignored.
func (c *Coordinator) HandleGatewayCallback(ctx context.Context, evt *WebhookEvent) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "payment"),
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type),
		zap.String("transaction_id", evt.TransactionID),
	)

	webhookID, processed, err := c.repo.SaveWebhook(ctx, "gateway", evt.ID, evt.Type, evt.TransactionID, evt.Raw)
	if err != nil {
		return err
	}
	if processed {
		log.Info("duplicate webhook delivery acknowledged")
		return nil
	}

	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		log.Warn("webhook carries no valid order reference, acknowledged", zap.Error(err))
		return c.repo.MarkWebhookFailed(ctx, webhookID, "invalid order_id")
	}

	rec, err := c.repo.GetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			log.Warn("webhook for unknown payment, acknowledged")
			return c.repo.MarkWebhookFailed(ctx, webhookID, "unknown payment")
		}
		return err
	}

	switch evt.Type {
	case EventPaymentSucceeded:
		err = c.applySucceeded(ctx, rec, evt, log)
	case EventPaymentFailed:
		err = c.applyFailed(ctx, rec, evt, log)
	case EventDisputeCreated:
		err = c.applyDispute(ctx, rec, evt, log)
	default:
		log.Warn("unrecognized gateway event type, acknowledged")
		return c.repo.MarkWebhookProcessed(ctx, webhookID)
	}

	if err != nil {
		if markErr := c.repo.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		return err
	}
	return c.repo.MarkWebhookProcessed(ctx, webhookID)
}

func (c *Coordinator) applySucceeded(ctx context.Context, rec *Record, evt *WebhookEvent, log *zap.Logger) error {
	settled := rec.Status == StatusCompleted &&
		rec.GatewayTransactionID != nil && *rec.GatewayTransactionID == evt.TransactionID
	if !settled && !ForwardOf(rec.Status, StatusCompleted) {
		log.Warn("backward payment transition ignored",
			zap.String("current", string(rec.Status)),
			zap.String("event_implies", string(StatusCompleted)),
		)
		return nil
	}

	paidAt := evt.PaidAt
	if paidAt == nil {
		if rec.PaidAt != nil {
			paidAt = rec.PaidAt
		} else {
			t := c.now()
			paidAt = &t
		}
	}

	if !settled {
		if rec.GatewayTransactionID == nil {
			if err := c.repo.SetTransactionID(ctx, rec.ID, evt.TransactionID, ""); err != nil {
				return err
			}
		}
		if err := c.repo.UpdateStatus(ctx, rec.ID, StatusCompleted, paidAt); err != nil {
			return err
		}
	}

	// The order-side settlement runs on every unprocessed delivery. ConfirmPaid
	// is idempotent, so a delivery that failed part-way through is repaired by
	// the gateway's redelivery of the same event.
	if err := c.hooks.ConfirmPaid(ctx, rec.OrderID, evt.TransactionID, *paidAt); err != nil {
		if errors.Is(err, ErrOrderCancelled) {
			log.Warn("payment settled for a cancelled order, returning funds")
			if _, rerr := c.IssueRefund(ctx, rec.OrderID, rec.Amount.Sub(rec.RefundAmount)); rerr != nil {
				return rerr
			}
			return nil
		}
		return err
	}

	c.notifyOnce(ctx, rec.OrderID, evt.TransactionID, notify.EventOrderConfirmed, map[string]interface{}{
		"order_id": rec.OrderID.String(),
		"amount":   rec.Amount.String(),
	})

	log.Info("payment completed, order confirmed")
	return nil
}

func (c *Coordinator) applyFailed(ctx context.Context, rec *Record, evt *WebhookEvent, log *zap.Logger) error {
	failed := rec.Status == StatusFailed &&
		rec.GatewayTransactionID != nil && *rec.GatewayTransactionID == evt.TransactionID
	if !failed && (rec.Status == StatusCompleted || !ForwardOf(rec.Status, StatusFailed)) {
		log.Warn("failure event after settlement ignored",
			zap.String("current", string(rec.Status)),
		)
		return nil
	}

	if !failed {
		if rec.GatewayTransactionID == nil {
			if err := c.repo.SetTransactionID(ctx, rec.ID, evt.TransactionID, ""); err != nil {
				return err
			}
		}
		if err := c.repo.UpdateStatus(ctx, rec.ID, StatusFailed, nil); err != nil {
			return err
		}
	}

	if err := c.hooks.CancelPaymentFailed(ctx, rec.OrderID, "gateway reported payment failure"); err != nil {
		return err
	}

	c.notifyOnce(ctx, rec.OrderID, evt.TransactionID, notify.EventPaymentFailed, map[string]interface{}{
		"order_id": rec.OrderID.String(),
	})

	log.Info("payment failed, order cancelled")
	return nil
}

func (c *Coordinator) applyDispute(ctx context.Context, rec *Record, evt *WebhookEvent, log *zap.Logger) error {
	dispute := &Dispute{
		DisputeID: evt.DisputeID,
		Reason:    evt.Reason,
		OpenedAt:  c.now(),
	}
	if err := c.repo.SetDispute(ctx, rec.ID, dispute); err != nil {
		return err
	}

	// Disputes never regress payment state; they are recorded for audit.
	log.Warn("dispute opened against payment",
		zap.String("dispute_id", evt.DisputeID),
		zap.String("reason", evt.Reason),
	)
	return nil
}

// ----------------- IssueRefund -----------------

func (c *Coordinator) IssueRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (Status, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "payment"),
		zap.String("order_id", orderID.String()),
		zap.String("amount", amount.String()),
	)

	rec, err := c.repo.GetByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	if rec.Status != StatusCompleted && rec.Status != StatusPartiallyRefunded {
		return "", ErrNotRefundable
	}
	if rec.GatewayTransactionID == nil {
		return "", ErrNotRefundable
	}
	if rec.RefundAmount.Add(amount).GreaterThan(rec.Amount) {
		log.Error("refund would exceed order total",
			zap.String("already_refunded", rec.RefundAmount.String()),
			zap.String("order_total", rec.Amount.String()),
		)
		return "", ErrRefundExceedsTotal
	}

	res, err := c.gateway.Refund(ctx, *rec.GatewayTransactionID, amount)
	if err != nil {
		return "", err
	}

	newStatus := StatusPartiallyRefunded
	if rec.RefundAmount.Add(amount).Equal(rec.Amount) {
		newStatus = StatusRefunded
	}

	if err := c.repo.AddRefund(ctx, rec.ID, amount, newStatus); err != nil {
		return "", err
	}

	// Keyed on the gateway refund id: two refunds of equal amounts are
	// distinct notifications.
	c.notifyOnce(ctx, rec.OrderID, res.RefundID, notify.EventRefundIssued, map[string]interface{}{
		"order_id":  rec.OrderID.String(),
		"refund_id": res.RefundID,
		"amount":    amount.String(),
	})

	log.Info("refund issued", zap.String("payment_status", string(newStatus)))
	return newStatus, nil
}

// ----------------- Watchdog -----------------

// ExpireStaleAuthorizations fails payments unconfirmed past the auth window
// and auto-cancels their orders. This is the compensating action for a
// gateway that never calls back.
func (c *Coordinator) ExpireStaleAuthorizations(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.authWindow)
	records, err := c.repo.ListUnresolvedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, rec := range records {
		if err := c.repo.UpdateStatus(ctx, rec.ID, StatusFailed, nil); err != nil {
			logger.L().Error("failed to expire payment",
				zap.String("payment_id", rec.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if err := c.hooks.CancelPaymentFailed(ctx, rec.OrderID, "payment authorization window elapsed"); err != nil {
			logger.L().Error("failed to cancel order for expired payment",
				zap.String("order_id", rec.OrderID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}

	return expired, nil
}

// notifyOnce suppresses duplicate notifications across redeliveries using a
// keyed idempotency mark. Notification failures never propagate.
func (c *Coordinator) notifyOnce(ctx context.Context, orderID uuid.UUID, dedupKey, eventType string, payload map[string]interface{}) {
	key := c.cache.Key("notify", eventType, dedupKey)
	first, err := c.cache.MarkOnce(ctx, key, 24*time.Hour)
	if err != nil {
		logger.FromCtx(ctx).Warn("notification dedup mark failed, sending anyway", zap.Error(err))
		first = true
	}
	if !first {
		return
	}

	buyerID, err := c.buyerOf(ctx, orderID)
	if err != nil {
		logger.FromCtx(ctx).Warn("could not resolve buyer for notification", zap.Error(err))
		return
	}

	c.notifier.Notify(ctx, buyerID, eventType, payload)
}
