package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is the priced input the engine works on. Prices are snapshots
// taken from the catalog at checkout time.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Weight    int
}

type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	CouponCode  *string
}

type Coupon struct {
	Code       string
	PercentOff decimal.Decimal
	MinSpend   decimal.Decimal
	ExpiresAt  time.Time
	UsageLimit int
	UsedCount  int
}

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "STANDARD"
	ShippingExpress  ShippingMethod = "EXPRESS"
	ShippingNone     ShippingMethod = "NONE"
)
