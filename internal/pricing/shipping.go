package pricing

import "github.com/shopspring/decimal"

// ShippingStrategy computes the shipping fee for a set of line items.
type ShippingStrategy interface {
	Fee(items []LineItem, method ShippingMethod) decimal.Decimal
}

// WeightThresholdStrategy charges a flat rate and switches to the express
// rate once the total unit count crosses the configured threshold.
type WeightThresholdStrategy struct {
	FlatRate      decimal.Decimal
	ExpressRate   decimal.Decimal
	UnitThreshold int
}

func (s WeightThresholdStrategy) Fee(items []LineItem, method ShippingMethod) decimal.Decimal {
	if method == ShippingNone {
		return decimal.Zero
	}

	units := 0
	for _, it := range items {
		units += it.Quantity * maxInt(it.Weight, 1)
	}

	if method == ShippingExpress || units > s.UnitThreshold {
		return s.ExpressRate
	}
	return s.FlatRate
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
