package returns

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateReturn(ctx context.Context, rec *Record) error
	GetReturn(ctx context.Context, returnID uuid.UUID) (*Record, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Record, error)
	UpdateStatus(ctx context.Context, returnID uuid.UUID, status Status) error
	SetRefundAmount(ctx context.Context, returnID uuid.UUID, amount decimal.Decimal) error
	// ReturnedQuantities sums quantities across all non-rejected returns of
	// an order, keyed by product.
	ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[string]int, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateReturn(ctx context.Context, rec *Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (id, order_id, reason, description, status, refund_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, rec.ID, rec.OrderID, rec.Reason, rec.Description, rec.Status, rec.RefundAmount)
	if err != nil {
		return err
	}

	for _, item := range rec.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, rec.ID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *repository) GetReturn(ctx context.Context, returnID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, reason, description, status, refund_amount, created_at, updated_at
		FROM returns
		WHERE id = $1
	`, returnID).Scan(
		&rec.ID, &rec.OrderID, &rec.Reason, &rec.Description, &rec.Status,
		&rec.RefundAmount, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReturnNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := r.fetchItems(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Items = items

	return &rec, nil
}

func (r *repository) fetchItems(ctx context.Context, returnID uuid.UUID) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM return_items
		WHERE return_id = $1
	`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, reason, description, status, refund_amount, created_at, updated_at
		FROM returns
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.Reason, &rec.Description, &rec.Status,
			&rec.RefundAmount, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range records {
		items, err := r.fetchItems(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Items = items
	}

	return records, nil
}

func (r *repository) UpdateStatus(ctx context.Context, returnID uuid.UUID, status Status) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE returns
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, returnID, status)
	return err
}

func (r *repository) SetRefundAmount(ctx context.Context, returnID uuid.UUID, amount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE returns
		SET refund_amount = $2, updated_at = now()
		WHERE id = $1
	`, returnID, amount)
	return err
}

func (r *repository) ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ri.product_id, COALESCE(SUM(ri.quantity), 0)
		FROM return_items ri
		JOIN returns rt ON rt.id = ri.return_id
		WHERE rt.order_id = $1 AND rt.status <> $2
		GROUP BY ri.product_id
	`, orderID, StatusRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quantities := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		quantities[productID] = qty
	}
	return quantities, rows.Err()
}
