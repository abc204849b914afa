package catalog

import "github.com/shopspring/decimal"

// ProductSnapshot is the read-only view taken at order time. Orders copy
// these fields so later catalog edits never rewrite history.
type ProductSnapshot struct {
	ProductID        string
	Name             string
	SKU              string
	Price            decimal.Decimal
	VendorID         string
	Weight           int
	RequiresShipping bool
}
