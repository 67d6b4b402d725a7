package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

const gradeColumns = `id, enrollment_id, component, score, max_score, graded_at, created_at, updated_at`

// GradeTotals is the raw point sum of an enrollment's grades.
type GradeTotals struct {
	Score    float64 `db:"score"`
	MaxScore float64 `db:"max_score"`
	Count    int     `db:"grade_count"`
}

// GradeRepository manages grade persistence.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// Create inserts a grade and fills the generated fields.
func (r *GradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	const query = `INSERT INTO grades (enrollment_id, component, score, max_score, graded_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`
	row := r.db.QueryRowxContext(ctx, query, grade.EnrollmentID, grade.Component, grade.Score, grade.MaxScore, grade.GradedAt)
	if err := row.Scan(&grade.ID, &grade.CreatedAt, &grade.UpdatedAt); err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// FindByID returns a grade by primary key.
func (r *GradeRepository) FindByID(ctx context.Context, id int64) (*models.Grade, error) {
	query := `SELECT ` + gradeColumns + ` FROM grades WHERE id = $1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// Update writes every mutable column of the grade.
func (r *GradeRepository) Update(ctx context.Context, grade *models.Grade) error {
	const query = `UPDATE grades SET component = $2, score = $3, max_score = $4, graded_at = $5, updated_at = NOW()
        WHERE id = $1
        RETURNING updated_at`
	row := r.db.QueryRowxContext(ctx, query, grade.ID, grade.Component, grade.Score, grade.MaxScore, grade.GradedAt)
	if err := row.Scan(&grade.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// Delete removes a grade. sql.ErrNoRows is returned when nothing matched.
func (r *GradeRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM grades WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete grade: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return sql.ErrNoRows
	}
	return nil
}

// ListByEnrollment returns grades of an enrollment in grading order.
func (r *GradeRepository) ListByEnrollment(ctx context.Context, enrollmentID int64) ([]models.Grade, error) {
	query := `SELECT ` + gradeColumns + ` FROM grades WHERE enrollment_id = $1 ORDER BY graded_at ASC, id ASC`
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// TotalsForEnrollment sums raw points in the database.
func (r *GradeRepository) TotalsForEnrollment(ctx context.Context, enrollmentID int64) (*GradeTotals, error) {
	const query = `SELECT COALESCE(SUM(score), 0) AS score, COALESCE(SUM(max_score), 0) AS max_score, COUNT(*) AS grade_count
        FROM grades WHERE enrollment_id = $1`
	var totals GradeTotals
	if err := r.db.GetContext(ctx, &totals, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("sum grades: %w", err)
	}
	return &totals, nil
}
