package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

const orderColumns = `id, student_id, classroom_id, amount_total_cents, currency, status, provider,
        provider_session_id, provider_payment_intent_id, created_at, paid_at, updated_at`

// OrderRepository persists purchase orders. Rows are never deleted.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a PENDING order and fills the generated fields.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	const query = `INSERT INTO orders (student_id, classroom_id, amount_total_cents, currency, status, provider)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`
	row := r.db.QueryRowxContext(ctx, query,
		order.StudentID, order.ClassroomID, order.AmountTotalCents, order.Currency, order.Status, order.Provider)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// FindByID returns an order by primary key.
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	var order models.Order
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		return nil, err
	}
	return &order, nil
}

// FindBySessionID returns the order owning a provider session.
func (r *OrderRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE provider_session_id = $1`
	var order models.Order
	if err := r.db.GetContext(ctx, &order, query, sessionID); err != nil {
		return nil, err
	}
	return &order, nil
}

// AttachSession records provider ids once. It reports false when a session was already attached.
func (r *OrderRepository) AttachSession(ctx context.Context, id int64, sessionID string, paymentIntentID *string) (bool, error) {
	const query = `UPDATE orders SET provider_session_id = $2,
        provider_payment_intent_id = COALESCE($3, provider_payment_intent_id), updated_at = NOW()
        WHERE id = $1 AND provider_session_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, sessionID, paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("attach order session: %w", err)
	}
	return affectedOne(res)
}

// MarkPaid moves a PENDING order to PAID. It reports false when the order was not PENDING.
func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, paymentIntentID *string, paidAt time.Time) (bool, error) {
	const query = `UPDATE orders SET status = $2, paid_at = $3,
        provider_payment_intent_id = COALESCE($4, provider_payment_intent_id), updated_at = $3
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.OrderStatusPaid, paidAt, paymentIntentID, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return affectedOne(res)
}

// MarkFailed moves a PENDING order to FAILED. It reports false when the order was not PENDING.
func (r *OrderRepository) MarkFailed(ctx context.Context, id int64, at time.Time) (bool, error) {
	const query = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.OrderStatusFailed, at, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order failed: %w", err)
	}
	return affectedOne(res)
}

// ListStalePending returns PENDING orders created before the cutoff, oldest first.
func (r *OrderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`
	var orders []models.Order
	if err := r.db.SelectContext(ctx, &orders, query, models.OrderStatusPending, before, limit); err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	return orders, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
