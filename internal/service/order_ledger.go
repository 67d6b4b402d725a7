package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

type orderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	AttachSession(ctx context.Context, id int64, sessionID string, paymentIntentID *string) (bool, error)
	MarkPaid(ctx context.Context, id int64, paymentIntentID *string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, at time.Time) (bool, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

// OrderLedger owns order creation and every order status transition.
type OrderLedger struct {
	repo   orderRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewOrderLedger constructs the ledger.
func NewOrderLedger(repo orderRepository, logger *zap.Logger) *OrderLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderLedger{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create opens a PENDING order with a server computed amount.
func (l *OrderLedger) Create(ctx context.Context, studentID, classroomID, amountCents int64, currency, provider string) (*models.Order, error) {
	if amountCents <= 0 {
		return nil, fieldError("amountTotalCents", "amountTotalCents must be > 0")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = models.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, fieldError("currency", "currency must be an ISO 4217 code")
	}

	order := &models.Order{
		StudentID:        studentID,
		ClassroomID:      classroomID,
		AmountTotalCents: amountCents,
		Currency:         currency,
		Status:           models.OrderStatusPending,
		Provider:         provider,
	}
	if err := l.repo.Create(ctx, order); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create order")
	}
	return order, nil
}

// FindByID loads an order or returns NOT_FOUND.
func (l *OrderLedger) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, l.lookupError(err)
	}
	return order, nil
}

// FindBySessionID loads the order attached to a provider session or returns NOT_FOUND.
func (l *OrderLedger) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
	}
	order, err := l.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, l.lookupError(err)
	}
	return order, nil
}

// FindByMetadataOrderID resolves an order from the id the provider echoed back.
// An order bound to a different session is treated as not found.
func (l *OrderLedger) FindByMetadataOrderID(ctx context.Context, orderID int64, sessionID string) (*models.Order, error) {
	order, err := l.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if attached := order.SessionID(); attached != "" && sessionID != "" && attached != sessionID {
		l.logger.Warn("metadata order bound to another session",
			zap.Int64("order_id", orderID), zap.String("session_id", sessionID), zap.String("attached_session_id", attached))
		return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
	}
	return order, nil
}

// AttachSession stores the provider ids on the order once.
func (l *OrderLedger) AttachSession(ctx context.Context, order *models.Order, sessionID, paymentIntentID string) error {
	intent := optionalString(paymentIntentID)
	ok, err := l.repo.AttachSession(ctx, order.ID, sessionID, intent)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach checkout session")
	}
	if !ok {
		current, err := l.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.SessionID() != sessionID {
			return appErrors.Clone(appErrors.ErrInvariant, "order already bound to another checkout session")
		}
		*order = *current
		return nil
	}
	order.ProviderSessionID = &sessionID
	if intent != nil {
		order.ProviderPaymentIntentID = intent
	}
	return nil
}

// MarkPaid moves the order to PAID. Already PAID is a successful no-op reported as alreadyPaid.
// Only the caller that performs the PENDING to PAID write gets alreadyPaid == false.
func (l *OrderLedger) MarkPaid(ctx context.Context, order *models.Order, paymentIntentID string) (alreadyPaid bool, err error) {
	if order.Status == models.OrderStatusPaid {
		return true, nil
	}
	if !order.Status.CanTransitionTo(models.OrderStatusPaid) {
		return false, l.illegalTransition(order, models.OrderStatusPaid)
	}

	paidAt := l.now()
	won, err := l.repo.MarkPaid(ctx, order.ID, optionalString(paymentIntentID), paidAt)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark order paid")
	}
	if won {
		order.Status = models.OrderStatusPaid
		order.PaidAt = &paidAt
		if paymentIntentID != "" {
			order.ProviderPaymentIntentID = &paymentIntentID
		}
		return false, nil
	}

	current, err := l.FindByID(ctx, order.ID)
	if err != nil {
		return false, err
	}
	*order = *current
	if current.Status == models.OrderStatusPaid {
		return true, nil
	}
	return false, l.illegalTransition(current, models.OrderStatusPaid)
}

// MarkFailed moves a PENDING order to FAILED. It reports whether this call changed the order.
// Orders that already left PENDING are left untouched.
func (l *OrderLedger) MarkFailed(ctx context.Context, order *models.Order) (bool, error) {
	if !order.Status.CanTransitionTo(models.OrderStatusFailed) {
		return false, nil
	}
	changed, err := l.repo.MarkFailed(ctx, order.ID, l.now())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark order failed")
	}
	if changed {
		order.Status = models.OrderStatusFailed
		return true, nil
	}
	if current, err := l.FindByID(ctx, order.ID); err == nil {
		*order = *current
	}
	return false, nil
}

// ListStalePending returns PENDING orders older than the given age.
func (l *OrderLedger) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	orders, err := l.repo.ListStalePending(ctx, l.now().Add(-olderThan), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending orders")
	}
	return orders, nil
}

func (l *OrderLedger) lookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "order not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
}

func (l *OrderLedger) illegalTransition(order *models.Order, next models.OrderStatus) error {
	l.logger.Error("illegal order transition",
		zap.Int64("order_id", order.ID), zap.String("from", string(order.Status)), zap.String("to", string(next)))
	return appErrors.Clone(appErrors.ErrInvariant, "order cannot move from "+string(order.Status)+" to "+string(next))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
