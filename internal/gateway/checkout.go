// Package gateway adapts external hosted-checkout providers to one interface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

// Metadata keys embedded in every provider session.
const (
	MetadataOrderID     = "orderId"
	MetadataClassroomID = "classroomId"
	MetadataStudentID   = "studentId"
)

// ErrProviderUnavailable is the only failure callers see from a provider.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ProviderError keeps the provider detail for server-side logs.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProviderUnavailable) hold for every provider failure.
func (e *ProviderError) Is(target error) bool { return target == ErrProviderUnavailable }

func unavailable(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// IdempotencyKey derives the provider idempotency token from the order identity.
func IdempotencyKey(orderID int64) string {
	return fmt.Sprintf("order_%d_create_checkout", orderID)
}

// SessionRequest is everything a provider needs to open a checkout for one order.
type SessionRequest struct {
	OrderID      int64
	StudentID    int64
	ClassroomID  int64
	AmountCents  int64
	Currency     string
	ProductLabel string
	SuccessURL   string
	CancelURL    string
}

// NewSessionRequest builds a request from a persisted order.
func NewSessionRequest(order *models.Order, productLabel, successURL, cancelURL string) SessionRequest {
	return SessionRequest{
		OrderID:      order.ID,
		StudentID:    order.StudentID,
		ClassroomID:  order.ClassroomID,
		AmountCents:  order.AmountTotalCents,
		Currency:     order.Currency,
		ProductLabel: productLabel,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
	}
}

// IdempotencyKey returns the token for this request's order.
func (r SessionRequest) IdempotencyKey() string {
	return IdempotencyKey(r.OrderID)
}

// Metadata returns the string metadata attached to the session.
func (r SessionRequest) Metadata() map[string]string {
	return map[string]string{
		MetadataOrderID:     strconv.FormatInt(r.OrderID, 10),
		MetadataClassroomID: strconv.FormatInt(r.ClassroomID, 10),
		MetadataStudentID:   strconv.FormatInt(r.StudentID, 10),
	}
}

// Session is a created hosted checkout.
type Session struct {
	URL             string
	SessionID       string
	PaymentIntentID string
}

// PaymentStatus is the provider's view of whether money moved.
type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusUnpaid PaymentStatus = "unpaid"
)

// SessionStatus is the live state of a session as reported by the provider.
type SessionStatus struct {
	SessionID       string
	PaymentStatus   PaymentStatus
	Expired         bool
	PaymentIntentID string
	Metadata        map[string]string
}

// Paid reports whether the provider considers the session paid.
func (s *SessionStatus) Paid() bool {
	return s != nil && s.PaymentStatus == PaymentStatusPaid
}

// OrderID extracts the order id placed in metadata at creation.
func (s *SessionStatus) OrderID() (int64, bool) {
	if s == nil {
		return 0, false
	}
	raw, ok := s.Metadata[MetadataOrderID]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CheckoutGateway creates and inspects hosted payment sessions.
type CheckoutGateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error)
}

// CallObserver records provider call latency.
type CallObserver interface {
	ObserveProviderCall(provider, op string, duration time.Duration, err error)
}

type instrumented struct {
	next     CheckoutGateway
	observer CallObserver
}

// WithObserver wraps gw so every call is reported to observer.
func WithObserver(gw CheckoutGateway, observer CallObserver) CheckoutGateway {
	if observer == nil {
		return gw
	}
	return &instrumented{next: gw, observer: observer}
}

func (g *instrumented) Name() string { return g.next.Name() }

func (g *instrumented) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	start := time.Now()
	session, err := g.next.CreateSession(ctx, req)
	g.observer.ObserveProviderCall(g.next.Name(), "create_session", time.Since(start), err)
	return session, err
}

func (g *instrumented) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	start := time.Now()
	status, err := g.next.RetrieveSession(ctx, sessionID)
	g.observer.ObserveProviderCall(g.next.Name(), "retrieve_session", time.Since(start), err)
	return status, err
}
