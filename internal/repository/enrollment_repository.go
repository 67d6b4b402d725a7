package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

const enrollmentColumns = `id, student_id, classroom_id, status, enrolled_at, dropped_at, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Upsert makes the (student, classroom) row ACTIVE in one statement.
// The returned flag is false when the row was already ACTIVE and nothing was written.
func (r *EnrollmentRepository) Upsert(ctx context.Context, studentID, classroomID int64, at time.Time) (*models.Enrollment, bool, error) {
	query := `INSERT INTO enrollments (student_id, classroom_id, status, enrolled_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4, $4)
        ON CONFLICT (student_id, classroom_id) DO UPDATE
        SET status = EXCLUDED.status, enrolled_at = EXCLUDED.enrolled_at, dropped_at = NULL, updated_at = EXCLUDED.updated_at
        WHERE enrollments.status <> EXCLUDED.status
        RETURNING ` + enrollmentColumns
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, studentID, classroomID, models.EnrollmentStatusActive, at)
	if err == nil {
		return &enrollment, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("upsert enrollment: %w", err)
	}

	existing, err := r.FindByPair(ctx, studentID, classroomID)
	if err != nil {
		return nil, false, fmt.Errorf("load active enrollment: %w", err)
	}
	return existing, false, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByPair returns the single row for a student and classroom.
func (r *EnrollmentRepository) FindByPair(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND classroom_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, classroomID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// DropActiveForStudent soft-drops the student's ACTIVE rows, optionally for one classroom.
func (r *EnrollmentRepository) DropActiveForStudent(ctx context.Context, studentID int64, classroomID *int64, at time.Time) (int64, error) {
	query := `UPDATE enrollments SET status = $1, dropped_at = $2, updated_at = $2 WHERE student_id = $3 AND status = $4`
	args := []interface{}{models.EnrollmentStatusDropped, at, studentID, models.EnrollmentStatusActive}
	if classroomID != nil {
		query += fmt.Sprintf(" AND classroom_id = $%d", len(args)+1)
		args = append(args, *classroomID)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("drop student enrollments: %w", err)
	}
	return res.RowsAffected()
}

// DropAllActiveForClassroom soft-drops every ACTIVE row of a classroom.
func (r *EnrollmentRepository) DropAllActiveForClassroom(ctx context.Context, classroomID int64, at time.Time) (int64, error) {
	const query = `UPDATE enrollments SET status = $1, dropped_at = $2, updated_at = $2 WHERE classroom_id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, models.EnrollmentStatusDropped, at, classroomID, models.EnrollmentStatusActive)
	if err != nil {
		return 0, fmt.Errorf("drop classroom enrollments: %w", err)
	}
	return res.RowsAffected()
}

// Complete moves an ACTIVE enrollment to COMPLETED. It reports false when the row was not ACTIVE.
func (r *EnrollmentRepository) Complete(ctx context.Context, id int64, at time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, models.EnrollmentStatusCompleted, at, id, models.EnrollmentStatusActive)
	if err != nil {
		return false, fmt.Errorf("complete enrollment: %w", err)
	}
	return affectedOne(res)
}

// PurgeDropped hard-deletes rows dropped before the cutoff.
func (r *EnrollmentRepository) PurgeDropped(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM enrollments WHERE status = $1 AND dropped_at < $2`
	res, err := r.db.ExecContext(ctx, query, models.EnrollmentStatusDropped, before)
	if err != nil {
		return 0, fmt.Errorf("purge dropped enrollments: %w", err)
	}
	return res.RowsAffected()
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, *filter.StudentID)
	}
	if filter.ClassroomID != nil {
		conditions = append(conditions, fmt.Sprintf("classroom_id = $%d", len(args)+1))
		args = append(args, *filter.ClassroomID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY id DESC LIMIT %d OFFSET %d`,
		enrollmentColumns, clause, size, (page-1)*size)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
