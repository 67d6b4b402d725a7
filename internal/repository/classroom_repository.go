package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

// ClassroomRepository is the read side of classrooms used by checkout.
type ClassroomRepository struct {
	db *sqlx.DB
}

// NewClassroomRepository constructs the repository.
func NewClassroomRepository(db *sqlx.DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

// FindByID returns a classroom with its price.
func (r *ClassroomRepository) FindByID(ctx context.Context, id int64) (*models.Classroom, error) {
	const query = `SELECT id, name, active, price_cents, currency, created_at, updated_at FROM classrooms WHERE id = $1`
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, query, id); err != nil {
		return nil, err
	}
	return &classroom, nil
}
