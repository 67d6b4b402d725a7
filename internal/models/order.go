package models

import "time"

// OrderStatus is the payment state of an Order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusFailed   OrderStatus = "FAILED"
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// DefaultCurrency applies when a classroom carries no currency.
const DefaultCurrency = "EUR"

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// PENDING may settle to PAID or FAILED; PAID may only be refunded; FAILED and REFUNDED are final.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid || next == OrderStatusFailed
	case OrderStatusPaid:
		return next == OrderStatusRefunded
	case OrderStatusFailed, OrderStatusRefunded:
		return false
	}
	return false
}

// Order is one purchase attempt for one classroom seat. Rows are never deleted.
type Order struct {
	ID                      int64       `db:"id" json:"id"`
	StudentID               int64       `db:"student_id" json:"student_id"`
	ClassroomID             int64       `db:"classroom_id" json:"classroom_id"`
	AmountTotalCents        int64       `db:"amount_total_cents" json:"amount_total_cents"`
	Currency                string      `db:"currency" json:"currency"`
	Status                  OrderStatus `db:"status" json:"status"`
	Provider                string      `db:"provider" json:"provider"`
	ProviderSessionID       *string     `db:"provider_session_id" json:"provider_session_id,omitempty"`
	ProviderPaymentIntentID *string     `db:"provider_payment_intent_id" json:"provider_payment_intent_id,omitempty"`
	CreatedAt               time.Time   `db:"created_at" json:"created_at"`
	PaidAt                  *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	UpdatedAt               time.Time   `db:"updated_at" json:"updated_at"`
}

// SessionID returns the provider session id or "".
func (o *Order) SessionID() string {
	if o == nil || o.ProviderSessionID == nil {
		return ""
	}
	return *o.ProviderSessionID
}
