package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/gateway"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
	"github.com/noah-isme/sma-commerce-api/pkg/lock"
)

type userLookup interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type classroomLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Classroom, error)
}

type orderLedger interface {
	Create(ctx context.Context, studentID, classroomID, amountCents int64, currency, provider string) (*models.Order, error)
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	FindByMetadataOrderID(ctx context.Context, orderID int64, sessionID string) (*models.Order, error)
	AttachSession(ctx context.Context, order *models.Order, sessionID, paymentIntentID string) error
	MarkPaid(ctx context.Context, order *models.Order, paymentIntentID string) (bool, error)
	MarkFailed(ctx context.Context, order *models.Order) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
}

type enroller interface {
	Enroll(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error)
}

// PurchaseOptions carries the checkout defaults.
type PurchaseOptions struct {
	SuccessURL      string
	CancelURL       string
	DefaultCurrency string
	Locker          lock.Locker
	Auditor         PaymentAuditor
	Notifier        OperatorNotifier
	Metrics         *MetricsService
	Logger          *zap.Logger
}

// PurchaseService coordinates orders, the checkout provider and enrollments.
type PurchaseService struct {
	users       userLookup
	classrooms  classroomLookup
	orders      orderLedger
	enrollments enroller
	gateway     gateway.CheckoutGateway
	locker      lock.Locker
	auditor     PaymentAuditor
	notifier    OperatorNotifier
	metrics     *MetricsService
	logger      *zap.Logger
	opts        PurchaseOptions
}

// NewPurchaseService wires the purchase flow.
func NewPurchaseService(users userLookup, classrooms classroomLookup, orders orderLedger, enrollments enroller, gw gateway.CheckoutGateway, opts PurchaseOptions) *PurchaseService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NoopLocker{}
	}
	if opts.Auditor == nil {
		opts.Auditor = NoopAuditor{}
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{logger: opts.Logger}
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = models.DefaultCurrency
	}
	return &PurchaseService{
		users:       users,
		classrooms:  classrooms,
		orders:      orders,
		enrollments: enrollments,
		gateway:     gw,
		locker:      opts.Locker,
		auditor:     opts.Auditor,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		opts:        opts,
	}
}

// CreateCheckoutSession opens a PENDING order priced from the classroom and returns the hosted checkout URL.
// Gateway failures are returned immediately; the order stays PENDING without a session.
func (s *PurchaseService) CreateCheckoutSession(ctx context.Context, studentID, classroomID int64, successURL, cancelURL string) (string, error) {
	if classroomID <= 0 {
		return "", fieldError("classroomId", "classroomId is required")
	}
	if _, err := s.purchaser(ctx, studentID); err != nil {
		return "", err
	}
	classroom, err := s.purchasableClassroom(ctx, classroomID)
	if err != nil {
		return "", err
	}

	currency := classroom.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	order, err := s.orders.Create(ctx, studentID, classroom.ID, *classroom.PriceCents, currency, s.gateway.Name())
	if err != nil {
		return "", err
	}

	if successURL == "" {
		successURL = s.opts.SuccessURL
	}
	if cancelURL == "" {
		cancelURL = s.opts.CancelURL
	}
	session, err := s.gateway.CreateSession(ctx, gateway.NewSessionRequest(order, classroom.Name, successURL, cancelURL))
	if err != nil {
		s.metrics.RecordCheckoutSession("failed")
		s.logger.Error("checkout session creation failed",
			zap.Int64("order_id", order.ID), zap.String("provider", s.gateway.Name()), zap.Error(err))
		return "", appErrors.Wrap(err, appErrors.ErrProviderUnavailable.Code, appErrors.ErrProviderUnavailable.Status, appErrors.ErrProviderUnavailable.Message)
	}

	if err := s.orders.AttachSession(ctx, order, session.SessionID, session.PaymentIntentID); err != nil {
		return "", err
	}
	s.metrics.RecordCheckoutSession("created")
	s.auditor.Record(order, models.PaymentEventCheckoutCreated, "")
	s.logger.Info("checkout session created",
		zap.Int64("order_id", order.ID), zap.Int64("student_id", studentID), zap.Int64("classroom_id", classroom.ID),
		zap.Int64("amount_cents", order.AmountTotalCents), zap.String("session_id", session.SessionID))
	return session.URL, nil
}

// ConfirmAndEnroll reconciles the provider's payment status into the order and enrollment.
// It is safe to call repeatedly: only the call that moves the order to PAID enrolls the student.
// Provider failures and lock contention are reported as not_paid so the client keeps polling.
func (s *PurchaseService) ConfirmAndEnroll(ctx context.Context, sessionID string) (*models.ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fieldError("session_id", "session_id is required")
	}

	release, err := s.locker.Acquire(ctx, "confirm:"+sessionID)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return s.result(models.ConfirmStatusNotPaid, 0), nil
	case err != nil:
		s.logger.Warn("confirm lock unavailable", zap.String("session_id", sessionID), zap.Error(err))
	default:
		defer release(context.WithoutCancel(ctx))
	}

	order, live, err := s.resolveOrder(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderUnavailable) {
			s.logger.Warn("provider unavailable during confirm", zap.String("session_id", sessionID), zap.Error(err))
			return s.result(models.ConfirmStatusNotPaid, 0), nil
		}
		return nil, err
	}
	if order == nil {
		return s.result(models.ConfirmStatusNotPaid, 0), nil
	}
	if order.Status == models.OrderStatusPaid {
		return s.result(models.ConfirmStatusAlreadyPaid, order.ID), nil
	}
	if order.Status != models.OrderStatusPending {
		if live.Paid() {
			s.logger.Error("provider reports payment for a closed order",
				zap.Int64("order_id", order.ID), zap.String("status", string(order.Status)), zap.String("session_id", sessionID))
		}
		return s.result(models.ConfirmStatusNotPaid, order.ID), nil
	}

	if live == nil {
		live, err = s.gateway.RetrieveSession(ctx, sessionID)
		if err != nil {
			s.logger.Warn("provider unavailable during confirm",
				zap.Int64("order_id", order.ID), zap.String("session_id", sessionID), zap.Error(err))
			return s.result(models.ConfirmStatusNotPaid, order.ID), nil
		}
	}

	if !live.Paid() {
		if live.Expired {
			if changed, err := s.orders.MarkFailed(ctx, order); err != nil {
				return nil, err
			} else if changed {
				s.auditor.Record(order, models.PaymentEventOrderFailed, "checkout session expired")
			}
		}
		return s.result(models.ConfirmStatusNotPaid, order.ID), nil
	}

	if order.SessionID() == "" {
		if err := s.orders.AttachSession(ctx, order, sessionID, live.PaymentIntentID); err != nil {
			return nil, err
		}
	}

	alreadyPaid, err := s.orders.MarkPaid(ctx, order, live.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if alreadyPaid {
		return s.result(models.ConfirmStatusAlreadyPaid, order.ID), nil
	}
	s.auditor.Record(order, models.PaymentEventOrderPaid, "")

	if _, err := s.enrollments.Enroll(ctx, order.StudentID, order.ClassroomID); err != nil {
		s.metrics.RecordEnrollmentFailure()
		s.auditor.Record(order, models.PaymentEventEnrollFailed, err.Error())
		s.notifier.EnrollmentFailed(order, err)
		return s.result(models.ConfirmStatusPaid, order.ID),
			appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "payment confirmed but enrollment failed")
	}

	s.logger.Info("order paid and student enrolled",
		zap.Int64("order_id", order.ID), zap.Int64("student_id", order.StudentID), zap.Int64("classroom_id", order.ClassroomID))
	return s.result(models.ConfirmStatusPaid, order.ID), nil
}

// ReconcileReport summarises one housekeeping pass over stale PENDING orders.
type ReconcileReport struct {
	Scanned      int
	Paid         int
	Failed       int
	StillPending int
	Errors       int
}

// ReconcilePending re-runs confirmation for PENDING orders older than olderThan.
// Orders that never got a checkout session are marked FAILED.
func (s *PurchaseService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (*ReconcileReport, error) {
	orders, err := s.orders.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Scanned: len(orders)}
	for i := range orders {
		order := &orders[i]
		if order.SessionID() == "" {
			changed, err := s.orders.MarkFailed(ctx, order)
			if err != nil {
				report.Errors++
				s.logger.Warn("reconcile mark failed", zap.Int64("order_id", order.ID), zap.Error(err))
				continue
			}
			if changed {
				s.auditor.Record(order, models.PaymentEventOrderFailed, "no checkout session")
				report.Failed++
			}
			continue
		}

		result, err := s.ConfirmAndEnroll(ctx, order.SessionID())
		if err != nil {
			report.Errors++
			s.logger.Warn("reconcile confirm failed", zap.Int64("order_id", order.ID), zap.Error(err))
			continue
		}
		switch result.Status {
		case models.ConfirmStatusPaid, models.ConfirmStatusAlreadyPaid:
			report.Paid++
		default:
			current, err := s.orders.FindByID(ctx, order.ID)
			if err == nil && current.Status == models.OrderStatusFailed {
				report.Failed++
			} else {
				report.StillPending++
			}
		}
	}
	return report, nil
}

// resolveOrder finds the order behind a session id: first by the stored id, then through the
// order id the provider echoes in metadata. The provider status is returned when it was fetched.
// A nil order without error means nothing could be resolved.
func (s *PurchaseService) resolveOrder(ctx context.Context, sessionID string) (*models.Order, *gateway.SessionStatus, error) {
	order, err := s.orders.FindBySessionID(ctx, sessionID)
	if err == nil {
		return order, nil, nil
	}
	if !errors.Is(err, appErrors.ErrNotFound) {
		return nil, nil, err
	}

	live, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	orderID, ok := live.OrderID()
	if !ok {
		s.logger.Warn("session carries no order metadata", zap.String("session_id", sessionID))
		return nil, live, nil
	}
	order, err = s.orders.FindByMetadataOrderID(ctx, orderID, sessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, live, nil
		}
		return nil, nil, err
	}
	return order, live, nil
}

func (s *PurchaseService) purchaser(ctx context.Context, studentID int64) (*models.User, error) {
	if studentID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	user, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is inactive")
	}
	return user, nil
}

func (s *PurchaseService) purchasableClassroom(ctx context.Context, classroomID int64) (*models.Classroom, error) {
	classroom, err := s.classrooms.FindByID(ctx, classroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fieldError("classroomId", "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	if !classroom.Active {
		return nil, fieldError("classroomId", "classroom is not open for purchase")
	}
	if classroom.PriceCents == nil || *classroom.PriceCents <= 0 {
		return nil, fieldError("classroomId", "classroom has no price")
	}
	return classroom, nil
}

func (s *PurchaseService) result(status models.ConfirmStatus, orderID int64) *models.ConfirmResult {
	s.metrics.RecordConfirmation(status)
	return &models.ConfirmResult{Status: status, OrderID: orderID}
}

type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) EnrollmentFailed(order *models.Order, cause error) {
	n.logger.Error("paid order requires manual enrollment", zap.Int64("order_id", order.ID), zap.Error(cause))
}
