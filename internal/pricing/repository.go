package pricing

import (
	"context"
	"database/sql"
	"errors"
)

type CouponRepository interface {
	GetCoupon(ctx context.Context, code string) (*Coupon, error)
	// ConsumeCoupon increments the usage counter, refusing once the limit is
	// reached. Called inside the order creation transaction.
	ConsumeCoupon(ctx context.Context, tx *sql.Tx, code string) error
}

type couponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) GetCoupon(ctx context.Context, code string) (*Coupon, error) {
	query := `
		SELECT code, percent_off, min_spend, expires_at, usage_limit, used_count
		FROM coupons
		WHERE code = $1
	`

	var c Coupon
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.Code, &c.PercentOff, &c.MinSpend, &c.ExpiresAt, &c.UsageLimit, &c.UsedCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *couponRepository) ConsumeCoupon(ctx context.Context, tx *sql.Tx, code string) error {
	// A zero usage_limit means unlimited use, matching validation.
	res, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)
	`, code)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCouponExhausted
	}
	return nil
}
