package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/pkg/config"
	"github.com/noah-isme/sma-commerce-api/pkg/jobs"
)

const (
	jobKindEnrollmentAlert = "enrollment_alert"
	sendgridHost           = "https://api.sendgrid.com"
	sendgridMailPath       = "/v3/mail/send"
)

// OperatorNotifier alerts support staff about orders that need manual reconciliation.
type OperatorNotifier interface {
	EnrollmentFailed(order *models.Order, cause error)
}

type enrollmentAlert struct {
	OrderID     int64
	StudentID   int64
	ClassroomID int64
	SessionID   string
	Cause       string
}

// NotificationService mails operators through SendGrid. Without an API key it only logs.
type NotificationService struct {
	cfg    config.NotificationsConfig
	queue  *jobs.Queue
	logger *zap.Logger
	send   func(rest.Request) (*rest.Response, error)
}

// NewNotificationService builds the notifier and its queue. Call Start before use.
func NewNotificationService(cfg config.NotificationsConfig, queueCfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{cfg: cfg, logger: logger, send: sendgrid.API}
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	s.queue = jobs.NewQueue("operator-notify", s.handle, queueCfg)
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains pending notifications.
func (s *NotificationService) Stop() { s.queue.Stop() }

// EnrollmentFailed queues an alert for a PAID order without an ACTIVE enrollment.
func (s *NotificationService) EnrollmentFailed(order *models.Order, cause error) {
	if order == nil {
		return
	}
	alert := enrollmentAlert{
		OrderID:     order.ID,
		StudentID:   order.StudentID,
		ClassroomID: order.ClassroomID,
		SessionID:   order.SessionID(),
	}
	if cause != nil {
		alert.Cause = cause.Error()
	}
	s.logger.Error("paid order requires manual enrollment",
		zap.Int64("order_id", alert.OrderID), zap.Int64("student_id", alert.StudentID),
		zap.Int64("classroom_id", alert.ClassroomID), zap.String("cause", alert.Cause))

	if !s.deliverable() {
		return
	}
	job := jobs.Job{ID: fmt.Sprintf("order_%d_enrollment_alert", order.ID), Kind: jobKindEnrollmentAlert, Payload: alert}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("operator alert dropped", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (s *NotificationService) deliverable() bool {
	return s.cfg.SendgridAPIKey != "" && s.cfg.SupportEmail != ""
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	alert, ok := job.Payload.(enrollmentAlert)
	if !ok {
		return nil
	}

	p := sgmail.NewPersonalization()
	p.Subject = fmt.Sprintf("Order %d paid but enrollment failed", alert.OrderID)
	p.AddTos(sgmail.NewEmail("Support", s.cfg.SupportEmail))

	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(s.cfg.FromName, s.cfg.FromEmail))
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", fmt.Sprintf(
		"Order %d for student %d in classroom %d is PAID but the enrollment could not be activated.\n"+
			"Checkout session: %s\nError: %s\n\nEnroll the student manually. Do not refund without review.",
		alert.OrderID, alert.StudentID, alert.ClassroomID, alert.SessionID, alert.Cause)))

	req := sendgrid.GetRequest(s.cfg.SendgridAPIKey, sendgridMailPath, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := s.send(req)
	if err != nil {
		return fmt.Errorf("send operator alert: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("send operator alert: sendgrid status %d", res.StatusCode)
	}
	return nil
}
