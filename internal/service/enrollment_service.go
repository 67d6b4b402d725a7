package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/pkg/database"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

type enrollmentRepository interface {
	Upsert(ctx context.Context, studentID, classroomID int64, at time.Time) (*models.Enrollment, bool, error)
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
	FindByPair(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error)
	DropActiveForStudent(ctx context.Context, studentID int64, classroomID *int64, at time.Time) (int64, error)
	DropAllActiveForClassroom(ctx context.Context, classroomID int64, at time.Time) (int64, error)
	Complete(ctx context.Context, id int64, at time.Time) (bool, error)
	PurgeDropped(ctx context.Context, before time.Time) (int64, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

// EnrollmentService owns the ACTIVE/DROPPED/COMPLETED lifecycle per student and classroom.
type EnrollmentService struct {
	repo   enrollmentRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewEnrollmentService constructs the enrollment service.
func NewEnrollmentService(repo enrollmentRepository, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Enroll makes the pair ACTIVE. An ACTIVE row is returned unchanged; a DROPPED or COMPLETED row is reactivated.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error) {
	if err := validatePair(studentID, classroomID); err != nil {
		return nil, err
	}
	enrollment, changed, err := s.repo.Upsert(ctx, studentID, classroomID, s.now())
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, appErrors.Validation("student or classroom does not exist",
				appErrors.FieldError{Field: "studentId", Message: "must reference an existing student"},
				appErrors.FieldError{Field: "classroomId", Message: "must reference an existing classroom"})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvariant, "enrollment did not become active")
	}
	if changed {
		s.logger.Info("enrollment activated", zap.Int64("enrollment_id", enrollment.ID),
			zap.Int64("student_id", studentID), zap.Int64("classroom_id", classroomID))
	}
	return enrollment, nil
}

// DropActiveForStudent soft-drops the student's ACTIVE enrollments, optionally only in one classroom.
func (s *EnrollmentService) DropActiveForStudent(ctx context.Context, studentID int64, classroomID *int64) (int64, error) {
	if studentID <= 0 {
		return 0, fieldError("studentId", "studentId must be > 0")
	}
	count, err := s.repo.DropActiveForStudent(ctx, studentID, classroomID, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollments")
	}
	return count, nil
}

// DropAllActiveForClassroom soft-drops every ACTIVE enrollment in a classroom.
func (s *EnrollmentService) DropAllActiveForClassroom(ctx context.Context, classroomID int64) (int64, error) {
	if classroomID <= 0 {
		return 0, fieldError("classroomId", "classroomId must be > 0")
	}
	count, err := s.repo.DropAllActiveForClassroom(ctx, classroomID, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollments")
	}
	return count, nil
}

// GetByIDsOrFail returns the pair's enrollment whatever its status, or NOT_FOUND.
func (s *EnrollmentService) GetByIDsOrFail(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error) {
	if err := validatePair(studentID, classroomID); err != nil {
		return nil, err
	}
	enrollment, err := s.repo.FindByPair(ctx, studentID, classroomID)
	if err != nil {
		return nil, enrollmentLookupError(err)
	}
	return enrollment, nil
}

// GetByID returns an enrollment by id.
func (s *EnrollmentService) GetByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, enrollmentLookupError(err)
	}
	return enrollment, nil
}

// Complete moves an ACTIVE enrollment to COMPLETED.
func (s *EnrollmentService) Complete(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCompleted {
		return enrollment, nil
	}
	if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusCompleted) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only active enrollments can be completed")
	}
	ok, err := s.repo.Complete(ctx, id, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment changed concurrently")
	}
	return s.GetByID(ctx, id)
}

// List returns enrollments matching the filter with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, fieldError("status", "status must be one of ACTIVE DROPPED COMPLETED")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// PurgeDropped hard-deletes enrollments that have been DROPPED for longer than retention.
func (s *EnrollmentService) PurgeDropped(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fieldError("retention", "retention must be > 0")
	}
	count, err := s.repo.PurgeDropped(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge enrollments")
	}
	s.logger.Info("purged dropped enrollments", zap.Int64("count", count), zap.Duration("retention", retention))
	return count, nil
}

func validatePair(studentID, classroomID int64) error {
	var details []appErrors.FieldError
	if studentID <= 0 {
		details = append(details, appErrors.FieldError{Field: "studentId", Message: "studentId must be > 0"})
	}
	if classroomID <= 0 {
		details = append(details, appErrors.FieldError{Field: "classroomId", Message: "classroomId must be > 0"})
	}
	if len(details) > 0 {
		return appErrors.Validation("invalid enrollment reference", details...)
	}
	return nil
}

func enrollmentLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
}
