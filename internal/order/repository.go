package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateOrderTx(ctx context.Context, o *Order, inTx func(ctx context.Context, tx *sql.Tx) error) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	ListOrders(ctx context.Context, buyerID uint, status *Status, limit, offset int32) ([]*Order, error)
	// UpdateStatus writes the new status, appends to the status history and
	// the timeline in one transaction, guarded by the version check.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, version int, change StatusChange) error
	GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusChange, error)
	GetTimeline(ctx context.Context, orderID uuid.UUID) ([]TimelineEvent, error)
	AppendTimeline(ctx context.Context, orderID uuid.UUID, event TimelineEvent) error
	MarkItemsFulfilled(ctx context.Context, orderID uuid.UUID) error
	MarkItemReturned(ctx context.Context, orderID uuid.UUID, productID string, qty int) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateOrderTx(
	ctx context.Context,
	o *Order,
	inTx func(ctx context.Context, tx *sql.Tx) error,
) error {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, currency,
			subtotal, tax, shipping_fee, discount, total_amount,
			coupon_code, status, version,
			recipient, address_line1, city, postal_code, country,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		o.ID, o.OrderNumber, o.BuyerID, o.Currency,
		o.Subtotal, o.Tax, o.ShippingFee, o.Discount, o.TotalAmount,
		o.CouponCode, o.Status, o.Version,
		addrField(o.ShippingAddress, func(a *AddressSnapshot) string { return a.Recipient }),
		addrField(o.ShippingAddress, func(a *AddressSnapshot) string { return a.Line1 }),
		addrField(o.ShippingAddress, func(a *AddressSnapshot) string { return a.City }),
		addrField(o.ShippingAddress, func(a *AddressSnapshot) string { return a.PostalCode }),
		addrField(o.ShippingAddress, func(a *AddressSnapshot) string { return a.Country }),
		o.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, name, sku,
				quantity, unit_price, discount, line_total,
				vendor_id, weight, fulfillment_status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			item.ID, o.ID, item.ProductID, item.Name, item.SKU,
			item.Quantity, item.UnitPrice, item.Discount, item.LineTotal,
			item.VendorID, item.Weight, item.FulfillmentStatus,
		)
		if err != nil {
			return err
		}
	}

	if err := appendLogs(ctx, tx, o.ID, StatusChange{
		Status:    o.Status,
		Actor:     "system",
		Note:      "order created",
		CreatedAt: o.CreatedAt,
	}); err != nil {
		return err
	}

	if inTx != nil {
		if err := inTx(ctx, tx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *repository) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return r.getOrderWhere(ctx, `o.id = $1`, orderID)
}

func (r *repository) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return r.getOrderWhere(ctx, `o.order_number = $1`, orderNumber)
}

func (r *repository) getOrderWhere(ctx context.Context, cond string, arg interface{}) (*Order, error) {
	query := `
		SELECT o.id, o.order_number, o.user_id, o.currency,
			o.subtotal, o.tax, o.shipping_fee, o.discount, o.total_amount,
			o.coupon_code, o.status, o.version,
			o.recipient, o.address_line1, o.city, o.postal_code, o.country,
			o.delivered_at, o.created_at, o.updated_at
		FROM orders o
		WHERE ` + cond

	var o Order
	var addr AddressSnapshot
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&o.ID, &o.OrderNumber, &o.BuyerID, &o.Currency,
		&o.Subtotal, &o.Tax, &o.ShippingFee, &o.Discount, &o.TotalAmount,
		&o.CouponCode, &o.Status, &o.Version,
		&addr.Recipient, &addr.Line1, &addr.City, &addr.PostalCode, &addr.Country,
		&o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.ShippingAddress = &addr

	items, err := r.fetchItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *repository) fetchItems(ctx context.Context, orderID uuid.UUID) ([]LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, sku,
			quantity, unit_price, discount, line_total,
			vendor_id, weight, fulfillment_status, returned_quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.SKU,
			&it.Quantity, &it.UnitPrice, &it.Discount, &it.LineTotal,
			&it.VendorID, &it.Weight, &it.FulfillmentStatus, &it.ReturnedQuantity,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) ListOrders(ctx context.Context, buyerID uint, status *Status, limit, offset int32) ([]*Order, error) {
	query := `
		SELECT o.id, o.order_number, o.user_id, o.currency,
			o.subtotal, o.tax, o.shipping_fee, o.discount, o.total_amount,
			o.coupon_code, o.status, o.version,
			o.recipient, o.address_line1, o.city, o.postal_code, o.country,
			o.delivered_at, o.created_at, o.updated_at
		FROM orders o
		WHERE o.user_id = $1
	`
	args := []interface{}{buyerID}

	if status != nil {
		query += fmt.Sprintf(" AND o.status = $%d", len(args)+1)
		args = append(args, *status)
	}

	query += fmt.Sprintf(" ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		var addr AddressSnapshot
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.BuyerID, &o.Currency,
			&o.Subtotal, &o.Tax, &o.ShippingFee, &o.Discount, &o.TotalAmount,
			&o.CouponCode, &o.Status, &o.Version,
			&addr.Recipient, &addr.Line1, &addr.City, &addr.PostalCode, &addr.Country,
			&o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		o.ShippingAddress = &addr
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, orderID uuid.UUID, version int, change StatusChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE orders
		SET status = $2, version = version + 1, updated_at = now()
	`
	if change.Status == StatusDelivered {
		query += `, delivered_at = now()`
	}
	query += ` WHERE id = $1 AND version = $3`

	res, err := tx.ExecContext(ctx, query, orderID, change.Status, version)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	if err := appendLogs(ctx, tx, orderID, change); err != nil {
		return err
	}

	return tx.Commit()
}

// appendLogs writes the status history row and its timeline counterpart
// inside the caller's transaction. The two logs never diverge because they
// only ever change here.
func appendLogs(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, change StatusChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, change.Status, change.Actor, change.Note, change.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4)
	`, orderID, "status."+string(change.Status), change.Note, change.CreatedAt)
	return err
}

func (r *repository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, actor, note, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.Status, &c.Actor, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, c)
	}
	return history, rows.Err()
}

func (r *repository) GetTimeline(ctx context.Context, orderID uuid.UUID) ([]TimelineEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, detail, created_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TimelineEvent
	for rows.Next() {
		var e TimelineEvent
		if err := rows.Scan(&e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AppendTimeline records a customer-facing event that is not a status
// change (e.g. a dispute being opened).
func (r *repository) AppendTimeline(ctx context.Context, orderID uuid.UUID, event TimelineEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4)
	`, orderID, event.EventType, event.Detail, event.CreatedAt)
	return err
}

func (r *repository) MarkItemsFulfilled(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET fulfillment_status = $2
		WHERE order_id = $1 AND fulfillment_status = $3
	`, orderID, FulfillmentFulfilled, FulfillmentPending)
	return err
}

// MarkItemReturned accumulates the returned quantity on the line; the status
// only flips to RETURNED once the whole ordered quantity has come back.
func (r *repository) MarkItemReturned(ctx context.Context, orderID uuid.UUID, productID string, qty int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET returned_quantity = returned_quantity + $3,
			fulfillment_status = CASE
				WHEN returned_quantity + $3 >= quantity THEN $4
				ELSE fulfillment_status
			END
		WHERE order_id = $1 AND product_id = $2 AND returned_quantity + $3 <= quantity
	`, orderID, productID, qty, FulfillmentReturned)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidState
	}
	return nil
}

func addrField(a *AddressSnapshot, get func(*AddressSnapshot) string) string {
	if a == nil {
		return ""
	}
	return get(a)
}
