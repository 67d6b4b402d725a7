package models

import "time"

// Classroom is the purchasable unit. Only the fields checkout needs are mapped.
type Classroom struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Active     bool      `db:"active" json:"active"`
	PriceCents *int64    `db:"price_cents" json:"price_cents,omitempty"`
	Currency   string    `db:"currency" json:"currency"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
