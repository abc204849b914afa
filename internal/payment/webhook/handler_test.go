package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"orderflow-be/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Stubs ---

type stubGateway struct {
	verifyErr error
}

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.IntentResponse, error) {
	return nil, errors.New("not used")
}

func (g *stubGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*payment.RefundResponse, error) {
	return nil, errors.New("not used")
}

func (g *stubGateway) VerifySignature(r *http.Request, body []byte) error {
	return g.verifyErr
}

// stubStore can report every event as an already processed delivery, which
// lets the coordinator ack without touching further state.
type stubStore struct {
	saveErr   error
	processed bool
}

func (s *stubStore) SaveRecord(ctx context.Context, rec *payment.Record) error { return nil }
func (s *stubStore) GetByOrder(ctx context.Context, orderID uuid.UUID) (*payment.Record, error) {
	return nil, payment.ErrRecordNotFound
}
func (s *stubStore) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Record, error) {
	return nil, payment.ErrRecordNotFound
}
func (s *stubStore) SetTransactionID(ctx context.Context, recordID uuid.UUID, transactionID, clientSecret string) error {
	return nil
}
func (s *stubStore) UpdateStatus(ctx context.Context, recordID uuid.UUID, status payment.Status, paidAt *time.Time) error {
	return nil
}
func (s *stubStore) AddRefund(ctx context.Context, recordID uuid.UUID, amount decimal.Decimal, status payment.Status) error {
	return nil
}
func (s *stubStore) SetDispute(ctx context.Context, recordID uuid.UUID, dispute *payment.Dispute) error {
	return nil
}
func (s *stubStore) ListUnresolvedOlderThan(ctx context.Context, cutoff time.Time) ([]*payment.Record, error) {
	return nil, nil
}
func (s *stubStore) SaveWebhook(ctx context.Context, provider, eventID, eventType, transactionID string, payload json.RawMessage) (int64, bool, error) {
	return 1, s.processed, s.saveErr
}
func (s *stubStore) MarkWebhookProcessed(ctx context.Context, webhookID int64) error { return nil }
func (s *stubStore) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	return nil
}

type stubCache struct{}

func (c *stubCache) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (c *stubCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 1, nil
}
func (c *stubCache) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (c *stubCache) Key(parts ...string) string                          { return strings.Join(parts, ":") }

type stubNotifier struct{}

func (n *stubNotifier) Notify(ctx context.Context, buyerID uint, eventType string, payload map[string]interface{}) {
}

func newTestHandler(gateway *stubGateway, store *stubStore) *Handler {
	coordinator := payment.NewCoordinator(
		gateway, store, nil, &stubCache{}, &stubNotifier{},
		func(ctx context.Context, orderID uuid.UUID) (uint, error) { return 7, nil },
		1, time.Millisecond, time.Minute,
	)
	return NewHandler(coordinator, gateway)
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	return rr
}

// --- Tests ---

func TestHandle_RejectsBadSignature(t *testing.T) {
	h := newTestHandler(&stubGateway{verifyErr: payment.ErrInvalidSignature}, &stubStore{})

	rr := post(h, `{"id":"evt_1","type":"payment_intent.succeeded"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandle_RejectsMalformedBody(t *testing.T) {
	h := newTestHandler(&stubGateway{}, &stubStore{})

	rr := post(h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandle_RejectsMissingEventFields(t *testing.T) {
	h := newTestHandler(&stubGateway{}, &stubStore{})

	rr := post(h, `{"id":"","type":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandle_AcksDuplicateDelivery(t *testing.T) {
	h := newTestHandler(&stubGateway{}, &stubStore{processed: true})

	rr := post(h, `{"id":"evt_1","type":"payment_intent.succeeded","transaction_id":"pi_1","order_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestHandle_ReturnsServerErrorForRetryableFailures(t *testing.T) {
	h := newTestHandler(&stubGateway{}, &stubStore{saveErr: errors.New("connection refused")})

	rr := post(h, `{"id":"evt_1","type":"payment_intent.succeeded","transaction_id":"pi_1","order_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
