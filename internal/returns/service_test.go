package returns

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"orderflow-be/internal/inventory"
	"orderflow-be/internal/order"
	"orderflow-be/internal/payment"
	"orderflow-be/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateReturn(ctx context.Context, rec *Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRepository) GetReturn(ctx context.Context, returnID uuid.UUID) (*Record, error) {
	args := m.Called(ctx, returnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *MockRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Record, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, returnID uuid.UUID, status Status) error {
	args := m.Called(ctx, returnID, status)
	return args.Error(0)
}

func (m *MockRepository) SetRefundAmount(ctx context.Context, returnID uuid.UUID, amount decimal.Decimal) error {
	args := m.Called(ctx, returnID, amount)
	return args.Error(0)
}

func (m *MockRepository) ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[string]int, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrderTx(ctx context.Context, o *order.Order, inTx func(ctx context.Context, tx *sql.Tx) error) error {
	args := m.Called(ctx, o, inTx)
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) ListOrders(ctx context.Context, buyerID uint, status *order.Status, limit, offset int32) ([]*order.Order, error) {
	args := m.Called(ctx, buyerID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, version int, change order.StatusChange) error {
	args := m.Called(ctx, orderID, version, change)
	return args.Error(0)
}

func (m *MockOrderRepository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]order.StatusChange, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.StatusChange), args.Error(1)
}

func (m *MockOrderRepository) GetTimeline(ctx context.Context, orderID uuid.UUID) ([]order.TimelineEvent, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.TimelineEvent), args.Error(1)
}

func (m *MockOrderRepository) AppendTimeline(ctx context.Context, orderID uuid.UUID, event order.TimelineEvent) error {
	args := m.Called(ctx, orderID, event)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkItemsFulfilled(ctx context.Context, orderID uuid.UUID) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkItemReturned(ctx context.Context, orderID uuid.UUID, productID string, qty int) error {
	args := m.Called(ctx, orderID, productID, qty)
	return args.Error(0)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Checkout(ctx context.Context, input order.CheckoutInput) (*order.CheckoutResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CheckoutResult), args.Error(1)
}

func (m *MockOrderService) GetOrders(ctx context.Context, status *order.Status, limit, page *int32) ([]*order.Order, error) {
	args := m.Called(ctx, status, limit, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetTracking(ctx context.Context, orderID uuid.UUID) ([]order.TimelineEvent, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.TimelineEvent), args.Error(1)
}

func (m *MockOrderService) Cancel(ctx context.Context, orderID uuid.UUID, actor string) error {
	args := m.Called(ctx, orderID, actor)
	return args.Error(0)
}

func (m *MockOrderService) Advance(ctx context.Context, orderID uuid.UUID, to order.Status, actor string) error {
	args := m.Called(ctx, orderID, to, actor)
	return args.Error(0)
}

func (m *MockOrderService) Transition(ctx context.Context, orderID uuid.UUID, to order.Status, actor, note string) (*order.Order, error) {
	args := m.Called(ctx, orderID, to, actor, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ConfirmPaid(ctx context.Context, orderID uuid.UUID, transactionID string, paidAt time.Time) error {
	args := m.Called(ctx, orderID, transactionID, paidAt)
	return args.Error(0)
}

func (m *MockOrderService) CancelPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error {
	args := m.Called(ctx, orderID, reason)
	return args.Error(0)
}

func (m *MockOrderService) BuyerOf(ctx context.Context, orderID uuid.UUID) (uint, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(uint), args.Error(1)
}

type MockRefunder struct {
	mock.Mock
}

func (m *MockRefunder) IssueRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (payment.Status, error) {
	args := m.Called(ctx, orderID, amount)
	return args.Get(0).(payment.Status), args.Error(1)
}

type MockStockService struct {
	mock.Mock
}

func (m *MockStockService) Reserve(ctx context.Context, orderID uuid.UUID, lines []inventory.Line) ([]uuid.UUID, error) {
	args := m.Called(ctx, orderID, lines)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockStockService) Commit(ctx context.Context, orderID uuid.UUID) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockStockService) Release(ctx context.Context, orderID uuid.UUID) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockStockService) Restock(ctx context.Context, productID string, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, buyerID uint, eventType string, payload map[string]interface{}) {
	m.Called(ctx, buyerID, eventType, payload)
}

// --- Helpers ---

type returnsMocks struct {
	repo     *MockRepository
	orders   *MockOrderRepository
	orderSvc *MockOrderService
	refunder *MockRefunder
	stock    *MockStockService
	notifier *MockNotifier
}

func newTestService(window time.Duration, now time.Time) (*service, *returnsMocks) {
	m := &returnsMocks{
		repo:     new(MockRepository),
		orders:   new(MockOrderRepository),
		orderSvc: new(MockOrderService),
		refunder: new(MockRefunder),
		stock:    new(MockStockService),
		notifier: new(MockNotifier),
	}
	svc := NewService(m.repo, m.orders, m.orderSvc, m.refunder, m.stock, m.notifier, window).(*service)
	svc.now = func() time.Time { return now }
	return svc, m
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func timePtr(ts time.Time) *time.Time { return &ts }

func buyerCtx(buyerID uint) context.Context {
	return utils.SetUserContext(context.Background(), buyerID, "buyer@example.com", "customer")
}

func deliveredOrder(orderID uuid.UUID, deliveredAt time.Time) *order.Order {
	return &order.Order{
		ID:          orderID,
		BuyerID:     7,
		Status:      order.StatusDelivered,
		Version:     5,
		Subtotal:    dec("55"),
		Discount:    dec("5.50"),
		TotalAmount: dec("57.50"),
		DeliveredAt: timePtr(deliveredAt),
		Items: []order.LineItem{
			{ProductID: "p1", Quantity: 3, UnitPrice: dec("10")},
			{ProductID: "p2", Quantity: 1, UnitPrice: dec("25")},
		},
	}
}

// --- Tests ---

func TestRequestReturn_HappyPath(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc, m := newTestService(30*24*time.Hour, now)
	orderID := uuid.New()

	o := deliveredOrder(orderID, now.Add(-5*24*time.Hour))
	m.orders.On("GetOrder", mock.Anything, orderID).Return(o, nil)
	m.repo.On("ReturnedQuantities", mock.Anything, orderID).Return(map[string]int{}, nil)
	m.repo.On("CreateReturn", mock.Anything, mock.MatchedBy(func(rec *Record) bool {
		return rec.Status == StatusRequested && len(rec.Items) == 1 &&
			rec.Items[0].UnitPrice.Equal(dec("10"))
	})).Return(nil)
	m.orderSvc.On("Transition", mock.Anything, orderID, order.StatusReturnRequested, "buyer", mock.Anything).
		Return(o, nil)

	rec, err := svc.RequestReturn(buyerCtx(7), orderID, []ItemRequest{
		{ProductID: "p1", Quantity: 2},
	}, "damaged", "arrived cracked")
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, rec.Status)
}

func TestRequestReturn_WindowExpired(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc, m := newTestService(30*24*time.Hour, now)
	orderID := uuid.New()

	o := deliveredOrder(orderID, now.Add(-31*24*time.Hour))
	m.orders.On("GetOrder", mock.Anything, orderID).Return(o, nil)

	_, err := svc.RequestReturn(buyerCtx(7), orderID, []ItemRequest{
		{ProductID: "p1", Quantity: 1},
	}, "damaged", "")
	assert.ErrorIs(t, err, ErrReturnWindowExpired)
	m.repo.AssertNotCalled(t, "CreateReturn", mock.Anything, mock.Anything)
}

func TestRequestReturn_NotDelivered(t *testing.T) {
	now := time.Now()
	svc, m := newTestService(30*24*time.Hour, now)
	orderID := uuid.New()

	m.orders.On("GetOrder", mock.Anything, orderID).Return(&order.Order{
		ID: orderID, BuyerID: 7, Status: order.StatusShipped,
	}, nil)

	_, err := svc.RequestReturn(buyerCtx(7), orderID, []ItemRequest{
		{ProductID: "p1", Quantity: 1},
	}, "changed my mind", "")
	assert.ErrorIs(t, err, ErrOrderNotReturnable)
}

func TestRequestReturn_QuantityExceedsReturnable(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc, m := newTestService(30*24*time.Hour, now)
	orderID := uuid.New()

	o := deliveredOrder(orderID, now.Add(-time.Hour))
	m.orders.On("GetOrder", mock.Anything, orderID).Return(o, nil)
	// Two of three units already went back in an earlier return.
	m.repo.On("ReturnedQuantities", mock.Anything, orderID).Return(map[string]int{"p1": 2}, nil)

	_, err := svc.RequestReturn(buyerCtx(7), orderID, []ItemRequest{
		{ProductID: "p1", Quantity: 2},
	}, "damaged", "")
	assert.ErrorIs(t, err, ErrInvalidItems)
}

func TestRequestReturn_UnknownProduct(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc, m := newTestService(30*24*time.Hour, now)
	orderID := uuid.New()

	o := deliveredOrder(orderID, now.Add(-time.Hour))
	m.orders.On("GetOrder", mock.Anything, orderID).Return(o, nil)
	m.repo.On("ReturnedQuantities", mock.Anything, orderID).Return(map[string]int{}, nil)

	_, err := svc.RequestReturn(buyerCtx(7), orderID, []ItemRequest{
		{ProductID: "never-ordered", Quantity: 1},
	}, "damaged", "")
	assert.ErrorIs(t, err, ErrInvalidItems)
}

func TestRequestReturn_OwnershipEnforced(t *testing.T) {
	now := time.Now()
	svc, m := newTestService(30*24*time.Hour, now)
	orderID := uuid.New()

	m.orders.On("GetOrder", mock.Anything, orderID).Return(deliveredOrder(orderID, now), nil)

	_, err := svc.RequestReturn(buyerCtx(99), orderID, []ItemRequest{
		{ProductID: "p1", Quantity: 1},
	}, "damaged", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReceiveReturn_RestocksOnlyOnReceipt(t *testing.T) {
	svc, m := newTestService(30*24*time.Hour, time.Now())
	returnID := uuid.New()
	orderID := uuid.New()

	m.repo.On("GetReturn", mock.Anything, returnID).Return(&Record{
		ID:      returnID,
		OrderID: orderID,
		Status:  StatusApproved,
		Items: []Item{
			{ProductID: "p1", Quantity: 2, UnitPrice: dec("10")},
		},
	}, nil)
	m.repo.On("UpdateStatus", mock.Anything, returnID, StatusReceived).Return(nil)
	m.stock.On("Restock", mock.Anything, "p1", 2).Return(nil)
	m.orders.On("MarkItemReturned", mock.Anything, orderID, "p1", 2).Return(nil)

	err := svc.ReceiveReturn(context.Background(), returnID, "admin")
	require.NoError(t, err)
	m.stock.AssertCalled(t, "Restock", mock.Anything, "p1", 2)
}

func TestApproveReturn_NeverRestocks(t *testing.T) {
	svc, m := newTestService(30*24*time.Hour, time.Now())
	returnID := uuid.New()
	orderID := uuid.New()

	m.repo.On("GetReturn", mock.Anything, returnID).Return(&Record{
		ID:      returnID,
		OrderID: orderID,
		Status:  StatusRequested,
		Items:   []Item{{ProductID: "p1", Quantity: 2, UnitPrice: dec("10")}},
	}, nil)
	m.repo.On("UpdateStatus", mock.Anything, returnID, StatusApproved).Return(nil)
	m.orderSvc.On("Transition", mock.Anything, orderID, order.StatusReturnApproved, "admin", mock.Anything).
		Return(&order.Order{ID: orderID, BuyerID: 7}, nil)
	m.orders.On("GetOrder", mock.Anything, orderID).Return(&order.Order{ID: orderID, BuyerID: 7}, nil)
	m.notifier.On("Notify", mock.Anything, uint(7), mock.Anything, mock.Anything).Return()

	err := svc.ApproveReturn(context.Background(), returnID, "admin")
	require.NoError(t, err)
	m.stock.AssertNotCalled(t, "Restock", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundReturn_ProportionalPartial(t *testing.T) {
	svc, m := newTestService(30*24*time.Hour, time.Now())
	returnID := uuid.New()
	orderID := uuid.New()

	o := deliveredOrder(orderID, time.Now())
	rec := &Record{
		ID:      returnID,
		OrderID: orderID,
		Status:  StatusReceived,
		Items:   []Item{{ProductID: "p1", Quantity: 3, UnitPrice: dec("10")}},
	}

	m.repo.On("GetReturn", mock.Anything, returnID).Return(rec, nil)
	m.orders.On("GetOrder", mock.Anything, orderID).Return(o, nil)
	// gross 30, minus its share of the 5.50 discount (30/55) = 27.00
	matchAmount := mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(dec("27")) })
	m.refunder.On("IssueRefund", mock.Anything, orderID, matchAmount).
		Return(payment.StatusPartiallyRefunded, nil)
	m.repo.On("SetRefundAmount", mock.Anything, returnID, matchAmount).Return(nil)
	m.repo.On("UpdateStatus", mock.Anything, returnID, StatusRefunded).Return(nil)
	m.orderSvc.On("Transition", mock.Anything, orderID, order.StatusDelivered, "system", mock.Anything).
		Return(o, nil)

	refund, err := svc.RefundReturn(context.Background(), returnID, nil)
	require.NoError(t, err)
	assert.True(t, refund.Equal(dec("27")), "refund %s", refund)
}

func TestRefundReturn_FullRefundClosesOrder(t *testing.T) {
	svc, m := newTestService(30*24*time.Hour, time.Now())
	returnID := uuid.New()
	orderID := uuid.New()

	o := deliveredOrder(orderID, time.Now())
	rec := &Record{
		ID:      returnID,
		OrderID: orderID,
		Status:  StatusReceived,
		Items: []Item{
			{ProductID: "p1", Quantity: 3, UnitPrice: dec("10")},
			{ProductID: "p2", Quantity: 1, UnitPrice: dec("25")},
		},
	}

	amount := dec("57.50")
	m.repo.On("GetReturn", mock.Anything, returnID).Return(rec, nil)
	m.orders.On("GetOrder", mock.Anything, orderID).Return(o, nil)
	m.refunder.On("IssueRefund", mock.Anything, orderID, amount).
		Return(payment.StatusRefunded, nil)
	m.repo.On("SetRefundAmount", mock.Anything, returnID, amount).Return(nil)
	m.repo.On("UpdateStatus", mock.Anything, returnID, StatusRefunded).Return(nil)
	m.orderSvc.On("Transition", mock.Anything, orderID, order.StatusRefunded, "system", mock.Anything).
		Return(o, nil)

	refund, err := svc.RefundReturn(context.Background(), returnID, &amount)
	require.NoError(t, err)
	assert.True(t, refund.Equal(amount))
	m.orderSvc.AssertCalled(t, "Transition", mock.Anything, orderID, order.StatusRefunded, "system", mock.Anything)
}

func TestRefundReturn_RequiresReceivedState(t *testing.T) {
	svc, m := newTestService(30*24*time.Hour, time.Now())
	returnID := uuid.New()

	m.repo.On("GetReturn", mock.Anything, returnID).Return(&Record{
		ID:     returnID,
		Status: StatusRequested,
	}, nil)

	_, err := svc.RefundReturn(context.Background(), returnID, nil)
	assert.ErrorIs(t, err, ErrInvalidReturnState)
	m.refunder.AssertNotCalled(t, "IssueRefund", mock.Anything, mock.Anything, mock.Anything)
}

func TestProportionalRefund(t *testing.T) {
	o := &order.Order{
		Subtotal: dec("55"),
		Discount: dec("5.50"),
	}

	t.Run("PartialItems", func(t *testing.T) {
		refund := ProportionalRefund(o, []Item{{ProductID: "p1", Quantity: 3, UnitPrice: dec("10")}})
		assert.True(t, refund.Equal(dec("27")), "refund %s", refund)
	})

	t.Run("AllItems", func(t *testing.T) {
		refund := ProportionalRefund(o, []Item{
			{ProductID: "p1", Quantity: 3, UnitPrice: dec("10")},
			{ProductID: "p2", Quantity: 1, UnitPrice: dec("25")},
		})
		// Full gross minus full discount.
		assert.True(t, refund.Equal(dec("49.50")), "refund %s", refund)
	})

	t.Run("ZeroSubtotal", func(t *testing.T) {
		refund := ProportionalRefund(&order.Order{}, []Item{{ProductID: "p1", Quantity: 1, UnitPrice: dec("10")}})
		assert.True(t, refund.IsZero())
	})
}
