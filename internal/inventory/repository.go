package inventory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Reserve(ctx context.Context, productID string, qty int, orderID uuid.UUID, ttl time.Duration) (uuid.UUID, error)
	Commit(ctx context.Context, reservationID uuid.UUID) error
	Release(ctx context.Context, reservationID uuid.UUID) error
	CommitForOrder(ctx context.Context, orderID uuid.UUID) error
	ReleaseForOrder(ctx context.Context, orderID uuid.UUID) error
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
	Restock(ctx context.Context, productID string, qty int) error
	GetAvailable(ctx context.Context, productID string) (int, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Reserve claims stock with a single conditional decrement. The WHERE guard
// is what makes oversell impossible under concurrent checkouts; there is no
// read-then-write anywhere in this path.
func (r *repository) Reserve(
	ctx context.Context,
	productID string,
	qty int,
	orderID uuid.UUID,
	ttl time.Duration,
) (uuid.UUID, error) {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET available = available - $2
		WHERE product_id = $1 AND available >= $2
	`, productID, qty)
	if err != nil {
		return uuid.Nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, err
	}
	if affected == 0 {
		return uuid.Nil, ErrInsufficientStock
	}

	reservationID := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_reservations (
			id, product_id, order_id, quantity, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, reservationID, productID, orderID, qty, ReservationActive, time.Now().Add(ttl))
	if err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}

	return reservationID, nil
}

// Commit converts an active reservation into a permanent decrement. Repeat
// commits are no-ops: the status guard makes the update vacuous.
func (r *repository) Commit(ctx context.Context, reservationID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE inventory_reservations
		SET status = $2, resolved_at = now()
		WHERE id = $1 AND status = $3
	`, reservationID, ReservationCommitted, ReservationActive)
	return err
}

// Release returns the reserved quantity to the pool. Idempotent for the same
// reason as Commit.
func (r *repository) Release(ctx context.Context, reservationID uuid.UUID) error {
	return r.releaseWhere(ctx, `id = $3`, reservationID)
}

func (r *repository) CommitForOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE inventory_reservations
		SET status = $2, resolved_at = now()
		WHERE order_id = $1 AND status = $3
	`, orderID, ReservationCommitted, ReservationActive)
	return err
}

func (r *repository) ReleaseForOrder(ctx context.Context, orderID uuid.UUID) error {
	return r.releaseWhere(ctx, `order_id = $3`, orderID)
}

func (r *repository) releaseWhere(ctx context.Context, cond string, arg interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Flip status first so a concurrent release cannot double-restore stock.
	rows, err := tx.QueryContext(ctx, `
		UPDATE inventory_reservations
		SET status = $1, resolved_at = now()
		WHERE status = $2 AND `+cond+`
		RETURNING product_id, quantity
	`, ReservationReleased, ReservationActive, arg)
	if err != nil {
		return err
	}

	type restock struct {
		productID string
		qty       int
	}
	var restocks []restock
	for rows.Next() {
		var rs restock
		if err := rows.Scan(&rs.productID, &rs.qty); err != nil {
			rows.Close()
			return err
		}
		restocks = append(restocks, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rs := range restocks {
		_, err = tx.ExecContext(ctx, `
			UPDATE inventory
			SET available = available + $2
			WHERE product_id = $1
		`, rs.productID, rs.qty)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReleaseExpired sweeps reservations whose TTL elapsed without a commit or
// release, returning their stock to the pool.
func (r *repository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE inventory_reservations
		SET status = $1, resolved_at = now()
		WHERE status = $2 AND expires_at < $3
		RETURNING product_id, quantity
	`, ReservationReleased, ReservationActive, now)
	if err != nil {
		return 0, err
	}

	type restock struct {
		productID string
		qty       int
	}
	var restocks []restock
	for rows.Next() {
		var rs restock
		if err := rows.Scan(&rs.productID, &rs.qty); err != nil {
			rows.Close()
			return 0, err
		}
		restocks = append(restocks, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, rs := range restocks {
		_, err = tx.ExecContext(ctx, `
			UPDATE inventory
			SET available = available + $2
			WHERE product_id = $1
		`, rs.productID, rs.qty)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return int64(len(restocks)), nil
}

func (r *repository) Restock(ctx context.Context, productID string, qty int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inventory
		SET available = available + $2
		WHERE product_id = $1
	`, productID, qty)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) GetAvailable(ctx context.Context, productID string) (int, error) {
	var available int
	err := r.db.QueryRowContext(ctx, `
		SELECT available FROM inventory WHERE product_id = $1
	`, productID).Scan(&available)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}
