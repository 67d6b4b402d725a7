package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/pkg/jobs"
)

const jobKindPaymentEvent = "payment_event"

type paymentEventStore interface {
	Append(ctx context.Context, event models.PaymentEvent) error
	ListByOrder(ctx context.Context, orderID int64) ([]models.PaymentEvent, error)
}

// PaymentAuditor records payment lifecycle events off the request path.
type PaymentAuditor interface {
	Record(order *models.Order, eventType models.PaymentEventType, detail string)
}

// NoopAuditor discards events.
type NoopAuditor struct{}

// Record implements PaymentAuditor.
func (NoopAuditor) Record(*models.Order, models.PaymentEventType, string) {}

// PaymentAuditService appends events to the audit store through a job queue.
// Event ids are derived from order and type, so retries and repeated confirms collapse to one record.
type PaymentAuditService struct {
	store  paymentEventStore
	queue  *jobs.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewPaymentAuditService builds the auditor and its queue. Call Start before recording.
func NewPaymentAuditService(store paymentEventStore, cfg jobs.QueueConfig, logger *zap.Logger) *PaymentAuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PaymentAuditService{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	s.queue = jobs.NewQueue("payment-audit", s.handle, cfg)
	return s
}

// Start launches the audit workers.
func (s *PaymentAuditService) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains pending events.
func (s *PaymentAuditService) Stop() { s.queue.Stop() }

// Record enqueues an event. Queue failures are logged and never reach the caller.
func (s *PaymentAuditService) Record(order *models.Order, eventType models.PaymentEventType, detail string) {
	if order == nil {
		return
	}
	event := models.PaymentEvent{
		ID:          PaymentEventID(order.ID, eventType),
		OrderID:     order.ID,
		Type:        eventType,
		OrderStatus: order.Status,
		Provider:    order.Provider,
		SessionID:   order.SessionID(),
		StudentID:   order.StudentID,
		ClassroomID: order.ClassroomID,
		AmountCents: order.AmountTotalCents,
		Currency:    order.Currency,
		Detail:      detail,
		OccurredAt:  s.now(),
	}
	if err := s.queue.Enqueue(jobs.Job{ID: event.ID, Kind: jobKindPaymentEvent, Payload: event}); err != nil {
		s.logger.Warn("payment event dropped", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// History returns the audit trail of an order.
func (s *PaymentAuditService) History(ctx context.Context, orderID int64) ([]models.PaymentEvent, error) {
	return s.store.ListByOrder(ctx, orderID)
}

func (s *PaymentAuditService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.PaymentEvent)
	if !ok {
		s.logger.Error("unexpected audit payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.store.Append(ctx, event)
}

// PaymentEventID is the deterministic audit id for one order transition.
func PaymentEventID(orderID int64, eventType models.PaymentEventType) string {
	return fmt.Sprintf("order_%d_%s", orderID, strings.ToLower(string(eventType)))
}
