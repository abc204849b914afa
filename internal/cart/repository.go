package cart

import (
	"context"
	"database/sql"
	"errors"
)

var ErrCartEmpty = errors.New("cart is empty")

type Repository interface {
	GetValidatedCart(ctx context.Context, buyerID uint) ([]Item, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetValidatedCart(ctx context.Context, buyerID uint) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, variant
		FROM carts
		WHERE user_id = $1 AND quantity > 0
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Variant); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, ErrCartEmpty
	}
	return items, nil
}
