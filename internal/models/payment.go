package models

import "time"

// ConfirmStatus is the client visible outcome of a confirmation attempt.
type ConfirmStatus string

const (
	ConfirmStatusPaid        ConfirmStatus = "paid"
	ConfirmStatusAlreadyPaid ConfirmStatus = "already_paid"
	ConfirmStatusNotPaid     ConfirmStatus = "not_paid"
)

// ConfirmResult reports what one confirmation call did.
type ConfirmResult struct {
	Status  ConfirmStatus
	OrderID int64
}

// PaymentEventType names audit trail entries.
type PaymentEventType string

const (
	PaymentEventCheckoutCreated PaymentEventType = "CHECKOUT_CREATED"
	PaymentEventOrderPaid       PaymentEventType = "ORDER_PAID"
	PaymentEventOrderFailed     PaymentEventType = "ORDER_FAILED"
	PaymentEventEnrollFailed    PaymentEventType = "ENROLLMENT_FAILED"
)

// PaymentEvent is one append-only audit record about an order.
type PaymentEvent struct {
	ID          string           `dynamodbav:"id" json:"id"`
	OrderID     int64            `dynamodbav:"order_id" json:"order_id"`
	Type        PaymentEventType `dynamodbav:"type" json:"type"`
	OrderStatus OrderStatus      `dynamodbav:"order_status" json:"order_status"`
	Provider    string           `dynamodbav:"provider" json:"provider"`
	SessionID   string           `dynamodbav:"session_id,omitempty" json:"session_id,omitempty"`
	StudentID   int64            `dynamodbav:"student_id" json:"student_id"`
	ClassroomID int64            `dynamodbav:"classroom_id" json:"classroom_id"`
	AmountCents int64            `dynamodbav:"amount_cents" json:"amount_cents"`
	Currency    string           `dynamodbav:"currency" json:"currency"`
	Detail      string           `dynamodbav:"detail,omitempty" json:"detail,omitempty"`
	OccurredAt  time.Time        `dynamodbav:"occurred_at" json:"occurred_at"`
}
