package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID          uuid.UUID `json:"id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uint      `json:"buyer_id"`
	Currency    string    `json:"currency"`

	Items []LineItem `json:"items"`

	// Derived amounts. Recomputed only when items change, never mutated
	// directly.
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	Discount    decimal.Decimal `json:"discount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CouponCode  *string         `json:"coupon_code,omitempty"`

	Status  Status `json:"status"`
	Version int    `json:"-"`

	ShippingAddress *AddressSnapshot `json:"shipping_address,omitempty"`
	DeliveredAt     *time.Time       `json:"delivered_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// LineItem carries catalog snapshots: name, sku and unit price are copied at
// order time so later catalog edits never rewrite a purchase.
type LineItem struct {
	ID                uuid.UUID         `json:"id"`
	OrderID           uuid.UUID         `json:"-"`
	ProductID         string            `json:"product_id"`
	Name              string            `json:"name"`
	SKU               string            `json:"sku"`
	Quantity          int               `json:"quantity"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Discount          decimal.Decimal   `json:"discount"`
	LineTotal         decimal.Decimal   `json:"line_total"`
	VendorID          string            `json:"vendor_id"`
	Weight            int               `json:"weight"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	ReturnedQuantity  int               `json:"returned_quantity"`
}

// AddressSnapshot is copied from the buyer's address book at checkout; it is
// not a live reference.
type AddressSnapshot struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TimelineEvent is the customer-facing tracking log, a superset of the
// status history.
type TimelineEvent struct {
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
