package pricing

import "errors"

var (
	// -- Validation & Input --
	ErrEmptyCart       = errors.New("cart has no line items")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// -- Coupon State --
	ErrInvalidCoupon      = errors.New("coupon is invalid")
	ErrCouponExpired      = errors.New("coupon has expired")
	ErrCouponBelowMinimum = errors.New("subtotal below coupon minimum spend")
	ErrCouponExhausted    = errors.New("coupon usage limit reached")
	ErrCouponNotFound     = errors.New("coupon not found")
)
