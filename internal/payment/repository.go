package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	SaveRecord(ctx context.Context, rec *Record) error
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Record, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Record, error)
	// SetTransactionID writes the gateway transaction id only if none is set
	// yet; the column is immutable once written.
	SetTransactionID(ctx context.Context, recordID uuid.UUID, transactionID, clientSecret string) error
	UpdateStatus(ctx context.Context, recordID uuid.UUID, status Status, paidAt *time.Time) error
	AddRefund(ctx context.Context, recordID uuid.UUID, amount decimal.Decimal, status Status) error
	SetDispute(ctx context.Context, recordID uuid.UUID, dispute *Dispute) error
	ListUnresolvedOlderThan(ctx context.Context, cutoff time.Time) ([]*Record, error)

	// SaveWebhook records a delivery, keyed on (provider, event_id). Only a
	// delivery whose processing finished counts as a duplicate: a redelivery
	// of an attempt that failed mid-flight returns the existing row so its
	// effects can be applied again.
	SaveWebhook(ctx context.Context, provider, eventID, eventType, transactionID string, payload json.RawMessage) (webhookID int64, alreadyProcessed bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveRecord(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, method, status, amount, currency, refund_amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, rec.ID, rec.OrderID, rec.Method, rec.Status, rec.Amount, rec.Currency, rec.RefundAmount)
	return err
}

func (r *repository) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Record, error) {
	return r.getWhere(ctx, `order_id = $1`, orderID)
}

func (r *repository) GetByTransactionID(ctx context.Context, transactionID string) (*Record, error) {
	return r.getWhere(ctx, `gateway_transaction_id = $1`, transactionID)
}

func (r *repository) getWhere(ctx context.Context, cond string, arg interface{}) (*Record, error) {
	query := `
		SELECT id, order_id, method, status, gateway_transaction_id,
			amount, currency, client_secret, paid_at, refund_amount, dispute_info,
			created_at, updated_at
		FROM payments
		WHERE ` + cond

	var rec Record
	var disputeRaw []byte
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.OrderID, &rec.Method, &rec.Status, &rec.GatewayTransactionID,
		&rec.Amount, &rec.Currency, &rec.ClientSecret, &rec.PaidAt, &rec.RefundAmount, &disputeRaw,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(disputeRaw) > 0 {
		var d Dispute
		if err := json.Unmarshal(disputeRaw, &d); err != nil {
			return nil, err
		}
		rec.DisputeInfo = &d
	}

	return &rec, nil
}

func (r *repository) SetTransactionID(ctx context.Context, recordID uuid.UUID, transactionID, clientSecret string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET gateway_transaction_id = $2, client_secret = $3, updated_at = now()
		WHERE id = $1 AND gateway_transaction_id IS NULL
	`, recordID, transactionID, clientSecret)
	return err
}

func (r *repository) UpdateStatus(ctx context.Context, recordID uuid.UUID, status Status, paidAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, paid_at = COALESCE($3, paid_at), updated_at = now()
		WHERE id = $1
	`, recordID, status, paidAt)
	return err
}

func (r *repository) AddRefund(ctx context.Context, recordID uuid.UUID, amount decimal.Decimal, status Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET refund_amount = refund_amount + $2, status = $3, updated_at = now()
		WHERE id = $1 AND refund_amount + $2 <= amount
	`, recordID, amount, status)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRefundExceedsTotal
	}
	return nil
}

func (r *repository) SetDispute(ctx context.Context, recordID uuid.UUID, dispute *Dispute) error {
	raw, err := json.Marshal(dispute)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE payments
		SET dispute_info = $2, updated_at = now()
		WHERE id = $1
	`, recordID, raw)
	return err
}

// ListUnresolvedOlderThan returns payments still awaiting confirmation past
// the cutoff. The watchdog fails them and cancels their orders.
func (r *repository) ListUnresolvedOlderThan(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, method, status, gateway_transaction_id,
			amount, currency, client_secret, paid_at, refund_amount, dispute_info,
			created_at, updated_at
		FROM payments
		WHERE status IN ($1, $2) AND created_at < $3
	`, StatusPending, StatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var disputeRaw []byte
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.Method, &rec.Status, &rec.GatewayTransactionID,
			&rec.Amount, &rec.Currency, &rec.ClientSecret, &rec.PaidAt, &rec.RefundAmount, &disputeRaw,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (r *repository) SaveWebhook(
	ctx context.Context,
	provider string,
	eventID string,
	eventType string,
	transactionID string,
	payload json.RawMessage,
) (int64, bool, error) {

	// The no-op DO UPDATE makes RETURNING yield the existing row on conflict,
	// so a redelivery hands back the original id and its processed_at.
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_type,
		event_id,
		transaction_id,
		payload
	)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET transaction_id = EXCLUDED.transaction_id
	RETURNING id, processed_at;
	`

	var id int64
	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, q, provider, eventType, eventID, transactionID, payload).Scan(&id, &processedAt)
	if err != nil {
		return 0, false, err
	}

	return id, processedAt.Valid, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_webhooks
		SET processed_at = now()
		WHERE id = $1
	`, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_webhooks
		SET process_error = $2
		WHERE id = $1
	`, webhookID, reason)
	return err
}
