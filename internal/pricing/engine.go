package pricing

import (
	"context"
	"time"

	"orderflow-be/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine computes checkout totals. It is deterministic for a given set of
// inputs; the only lookups are coupon validity and the configured tax rate.
type Engine interface {
	ComputeTotals(ctx context.Context, items []LineItem, couponCode *string, method ShippingMethod) (*Totals, error)
}

type engine struct {
	coupons  CouponRepository
	shipping ShippingStrategy
	taxRate  decimal.Decimal
	now      func() time.Time
}

func NewEngine(coupons CouponRepository, shipping ShippingStrategy, taxRate decimal.Decimal) Engine {
	return &engine{
		coupons:  coupons,
		shipping: shipping,
		taxRate:  taxRate,
		now:      time.Now,
	}
}

// ComputeTotals applies discount before tax. Discount and tax settle to two
// decimals before the total is formed, so the stored components always
// reconcile with the stored total.
func (e *engine) ComputeTotals(
	ctx context.Context,
	items []LineItem,
	couponCode *string,
	method ShippingMethod,
) (*Totals, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "pricing"),
		zap.Int("item_count", len(items)),
	)

	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineTotal)
	}

	discount := decimal.Zero
	if couponCode != nil && *couponCode != "" {
		coupon, err := e.validateCoupon(ctx, *couponCode, subtotal)
		if err != nil {
			log.Warn("coupon rejected", zap.String("code", *couponCode), zap.Error(err))
			return nil, err
		}
		discount = subtotal.Mul(coupon.PercentOff).Div(decimal.NewFromInt(100))
	}

	// Components are carried exact and settled to two decimals together, so
	// the stored amounts always satisfy total = subtotal + tax + shipping - discount.
	discount = discount.Round(2)
	tax := subtotal.Sub(discount).Mul(e.taxRate).Round(2)
	shippingFee := e.shipping.Fee(items, method)

	total := subtotal.Add(tax).Add(shippingFee).Sub(discount).Round(2)

	log.Debug("totals computed",
		zap.String("subtotal", subtotal.String()),
		zap.String("tax", tax.String()),
		zap.String("shipping_fee", shippingFee.String()),
		zap.String("discount", discount.String()),
		zap.String("total", total.String()),
	)

	return &Totals{
		Subtotal:    subtotal,
		Tax:         tax,
		ShippingFee: shippingFee,
		Discount:    discount,
		Total:       total,
		CouponCode:  couponCode,
	}, nil
}

func (e *engine) validateCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (*Coupon, error) {
	coupon, err := e.coupons.GetCoupon(ctx, code)
	if err != nil {
		if err == ErrCouponNotFound {
			return nil, ErrInvalidCoupon
		}
		return nil, err
	}

	if e.now().After(coupon.ExpiresAt) {
		return nil, ErrCouponExpired
	}
	if subtotal.LessThan(coupon.MinSpend) {
		return nil, ErrCouponBelowMinimum
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return nil, ErrCouponExhausted
	}

	return coupon, nil
}
