package catalog

import (
	"context"
	"database/sql"
	"errors"
)

var ErrProductNotFound = errors.New("product not found")

type Repository interface {
	GetPriceAndAvailability(ctx context.Context, productID string) (*ProductSnapshot, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetPriceAndAvailability(ctx context.Context, productID string) (*ProductSnapshot, error) {
	query := `
		SELECT id, name, sku, price, vendor_id, weight, requires_shipping
		FROM products
		WHERE id = $1 AND status = 'active'
	`

	var p ProductSnapshot
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ProductID, &p.Name, &p.SKU, &p.Price, &p.VendorID, &p.Weight, &p.RequiresShipping,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}
