package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-commerce-api/internal/gateway"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
	"github.com/noah-isme/sma-commerce-api/pkg/lock"
)

const (
	testStudentID   int64 = 42
	testClassroomID int64 = 7
)

type purchaseFixture struct {
	svc        *PurchaseService
	orders     *memOrderRepo
	ledger     *OrderLedger
	enrollRepo *memEnrollmentRepo
	gateway    *gateway.MockGateway
	auditor    *recordingAuditor
	notifier   *recordingNotifier
	classrooms memClassrooms
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	price := int64(3900)
	users := memUsers{
		testStudentID: {ID: testStudentID, Email: "ana@example.com", FullName: "Ana", Role: models.RoleStudent, Active: true},
		43:            {ID: 43, Email: "old@example.com", Role: models.RoleStudent, Active: false},
	}
	classrooms := memClassrooms{
		testClassroomID: {ID: testClassroomID, Name: "Algebra I", Active: true, PriceCents: &price, Currency: "EUR"},
		8:               {ID: 8, Name: "Closed", Active: false, PriceCents: &price},
		9:               {ID: 9, Name: "Free", Active: true},
	}
	orders := newMemOrderRepo()
	ledger := NewOrderLedger(orders, nil)
	enrollRepo := newMemEnrollmentRepo()
	gw := gateway.NewMockGateway("https://pay.test")
	auditor := &recordingAuditor{}
	notifier := &recordingNotifier{}

	svc := NewPurchaseService(users, classrooms, ledger, NewEnrollmentService(enrollRepo, nil), gw, PurchaseOptions{
		SuccessURL: "https://school.test/success",
		CancelURL:  "https://school.test/cancel",
		Auditor:    auditor,
		Notifier:   notifier,
		Metrics:    NewMetricsService(),
	})
	return &purchaseFixture{
		svc:        svc,
		orders:     orders,
		ledger:     ledger,
		enrollRepo: enrollRepo,
		gateway:    gw,
		auditor:    auditor,
		notifier:   notifier,
		classrooms: classrooms,
	}
}

func (f *purchaseFixture) onlyOrder(t *testing.T) models.Order {
	t.Helper()
	require.Len(t, f.orders.orders, 1)
	for _, o := range f.orders.orders {
		return o
	}
	return models.Order{}
}

func TestPurchaseEndToEnd(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	url, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	assert.Contains(t, url, "https://pay.test/")

	order := f.onlyOrder(t)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(3900), order.AmountTotalCents)
	assert.Equal(t, "EUR", order.Currency)
	assert.Equal(t, "mock", order.Provider)
	sessionID := order.SessionID()
	require.NotEmpty(t, sessionID)

	result, err := f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusNotPaid, result.Status)
	assert.Equal(t, models.OrderStatusPending, f.onlyOrder(t).Status)

	require.True(t, f.gateway.Pay(sessionID))

	result, err = f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusPaid, result.Status)
	assert.Equal(t, order.ID, result.OrderID)
	assert.Equal(t, models.OrderStatusPaid, f.onlyOrder(t).Status)
	assert.Equal(t, 1, f.enrollRepo.countPair(testStudentID, testClassroomID, models.EnrollmentStatusActive))

	orderWrites, enrollWrites := f.orders.writeCount(), f.enrollRepo.writes
	result, err = f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusAlreadyPaid, result.Status)
	assert.Equal(t, 1, f.enrollRepo.countPair(testStudentID, testClassroomID, ""))
	assert.Equal(t, orderWrites, f.orders.writeCount())
	assert.Equal(t, enrollWrites, f.enrollRepo.writes)

	assert.Equal(t, 1, f.auditor.count(models.PaymentEventCheckoutCreated))
	assert.Equal(t, 1, f.auditor.count(models.PaymentEventOrderPaid))
}

func TestPurchaseCheckoutValidatesClassroom(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	cases := map[string]int64{"missing id": 0, "unknown": 99, "inactive": 8, "no price": 9}
	for name, classroomID := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, classroomID, "", "")
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
			require.NotEmpty(t, appErr.Details)
			assert.Equal(t, "classroomId", appErr.Details[0].Field)
		})
	}
	assert.Empty(t, f.orders.orders)
}

func TestPurchaseCheckoutRequiresActiveStudent(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, 999, testClassroomID, "", "")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.CreateCheckoutSession(ctx, 43, testClassroomID, "", "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Empty(t, f.orders.orders)
}

func TestPurchaseCheckoutSurfacesProviderFailure(t *testing.T) {
	f := newPurchaseFixture(t)
	f.gateway.FailWith(errors.New("card network down"), nil)

	_, err := f.svc.CreateCheckoutSession(context.Background(), testStudentID, testClassroomID, "", "")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrProviderUnavailable.Code, appErr.Code)
	assert.NotContains(t, appErr.Message, "card network")

	order := f.onlyOrder(t)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, order.SessionID())
}

func TestPurchaseSameOrderReusesIdempotencyKey(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)

	req := gateway.NewSessionRequest(&order, "Algebra I", "s", "c")
	retry, err := f.gateway.CreateSession(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "order_1_create_checkout", req.IdempotencyKey())
	assert.Equal(t, order.SessionID(), retry.SessionID)
	assert.Equal(t, 1, f.gateway.SessionCount())
}

func TestPurchaseConfirmFallsBackToMetadata(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	sessionID := order.SessionID()
	require.True(t, f.gateway.Pay(sessionID))

	order.ProviderSessionID = nil
	f.orders.set(order)

	result, err := f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusPaid, result.Status)
	stored := f.onlyOrder(t)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, sessionID, stored.SessionID())
}

func TestPurchaseConfirmUnknownSessionIsNotPaid(t *testing.T) {
	f := newPurchaseFixture(t)

	result, err := f.svc.ConfirmAndEnroll(context.Background(), "cs_unknown")
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusNotPaid, result.Status)
	assert.Zero(t, result.OrderID)
}

func TestPurchaseConfirmRequiresSessionID(t *testing.T) {
	f := newPurchaseFixture(t)

	_, err := f.svc.ConfirmAndEnroll(context.Background(), "  ")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestPurchaseConfirmSwallowsProviderFailure(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	sessionID := order.SessionID()
	f.gateway.Pay(sessionID)
	f.gateway.FailWith(nil, errors.New("timeout"))

	result, err := f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusNotPaid, result.Status)
	assert.Equal(t, models.OrderStatusPending, f.onlyOrder(t).Status)
	assert.Zero(t, f.enrollRepo.countPair(testStudentID, testClassroomID, ""))
}

func TestPurchaseConfirmExpiredSessionFailsOrder(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	sessionID := order.SessionID()
	f.gateway.Expire(sessionID)

	result, err := f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusNotPaid, result.Status)
	assert.Equal(t, models.OrderStatusFailed, f.onlyOrder(t).Status)
	assert.Equal(t, 1, f.auditor.count(models.PaymentEventOrderFailed))
}

func TestPurchaseEnrollmentFailureKeepsOrderPaid(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	f.gateway.Pay(order.SessionID())
	f.enrollRepo.failErr = errors.New("connection reset")

	result, err := f.svc.ConfirmAndEnroll(ctx, order.SessionID())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.ConfirmStatusPaid, result.Status)
	assert.Equal(t, models.OrderStatusPaid, f.onlyOrder(t).Status)
	assert.Equal(t, []int64{order.ID}, f.notifier.orders)
	assert.Equal(t, 1, f.auditor.count(models.PaymentEventEnrollFailed))
}

func TestPurchaseConcurrentConfirmEnrollsOnce(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	sessionID := order.SessionID()
	f.gateway.Pay(sessionID)

	const callers = 8
	results := make([]models.ConfirmStatus, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.ConfirmAndEnroll(ctx, sessionID)
			if err == nil {
				results[i] = res.Status
			}
		}(i)
	}
	wg.Wait()

	paid := 0
	for _, status := range results {
		if status == models.ConfirmStatusPaid {
			paid++
		} else {
			assert.Equal(t, models.ConfirmStatusAlreadyPaid, status)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, f.enrollRepo.countPair(testStudentID, testClassroomID, ""))
	assert.Equal(t, 1, f.auditor.count(models.PaymentEventOrderPaid))
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (lock.Releaser, error) {
	return nil, lock.ErrNotAcquired
}

func TestPurchaseConfirmLockContentionIsNotPaid(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	sessionID := order.SessionID()
	f.gateway.Pay(sessionID)
	f.svc.locker = busyLocker{}

	result, err := f.svc.ConfirmAndEnroll(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmStatusNotPaid, result.Status)
	assert.Equal(t, models.OrderStatusPending, f.onlyOrder(t).Status)
}

func TestPurchaseReconcilePending(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	paidOrder := f.onlyOrder(t)
	f.gateway.Pay(paidOrder.SessionID())

	orphan, err := f.ledger.Create(ctx, testStudentID, 8, 3900, "EUR", "mock")
	require.NoError(t, err)

	report, err := f.svc.ReconcilePending(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Paid)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Errors)

	stored, err := f.ledger.FindByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Equal(t, 1, f.enrollRepo.countPair(testStudentID, testClassroomID, models.EnrollmentStatusActive))
}
