package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/repository"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
	"github.com/noah-isme/sma-commerce-api/pkg/export"
)

const (
	msgMaxScore = "maxScore must be > 0"
	msgScore    = "score must be within 0..maxScore"

	gradeAverageCacheKey = "grades:avg:enrollment:%d"
)

type gradeRepository interface {
	Create(ctx context.Context, grade *models.Grade) error
	FindByID(ctx context.Context, id int64) (*models.Grade, error)
	Update(ctx context.Context, grade *models.Grade) error
	Delete(ctx context.Context, id int64) error
	ListByEnrollment(ctx context.Context, enrollmentID int64) ([]models.Grade, error)
	TotalsForEnrollment(ctx context.Context, enrollmentID int64) (*repository.GradeTotals, error)
}

type enrollmentResolver interface {
	GetByID(ctx context.Context, id int64) (*models.Enrollment, error)
	GetByIDsOrFail(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error)
}

// GradeCache is the cache-aside store for enrollment averages.
type GradeCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// GradeInput is a new grade before validation.
type GradeInput struct {
	Component models.GradeComponent
	Score     float64
	MaxScore  float64
	GradedAt  *time.Time
}

// GradeService validates, stores and aggregates grades scoped to an enrollment.
type GradeService struct {
	repo        gradeRepository
	enrollments enrollmentResolver
	cache       GradeCache
	cacheTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
	// writes counts average invalidations; a read that saw it move skips the cache fill.
	writes atomic.Uint64
}

// NewGradeService constructs the grade book. cache may be nil.
func NewGradeService(repo gradeRepository, enrollments enrollmentResolver, cache GradeCache, cacheTTL time.Duration, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		repo:        repo,
		enrollments: enrollments,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ValidateScore checks the score bounds. The negated range test rejects NaN.
func ValidateScore(score, maxScore float64) error {
	if !(maxScore > 0) {
		return appErrors.Validation(msgMaxScore, appErrors.FieldError{Field: "maxScore", Message: msgMaxScore})
	}
	if !(score >= 0 && score <= maxScore) {
		return appErrors.Validation(msgScore, appErrors.FieldError{Field: "score", Message: msgScore})
	}
	return nil
}

func validateComponent(c models.GradeComponent) error {
	if !c.Valid() {
		return fieldError("component", "component must be one of QUIZ PROJECT HOMEWORK EXAM")
	}
	return nil
}

// AddGrade validates the input and stores it against the enrollment.
func (s *GradeService) AddGrade(ctx context.Context, enrollment *models.Enrollment, input GradeInput) (*models.Grade, error) {
	if enrollment == nil || enrollment.ID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if err := validateComponent(input.Component); err != nil {
		return nil, err
	}
	if err := ValidateScore(input.Score, input.MaxScore); err != nil {
		return nil, err
	}

	grade := &models.Grade{
		EnrollmentID: enrollment.ID,
		Component:    input.Component,
		Score:        input.Score,
		MaxScore:     input.MaxScore,
		GradedAt:     s.now(),
	}
	if input.GradedAt != nil {
		grade.GradedAt = input.GradedAt.UTC()
	}
	if err := s.repo.Create(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grade")
	}
	s.invalidateAverage(ctx, enrollment.ID)
	return grade, nil
}

// AddGradeToEnrollment resolves the enrollment by id and adds the grade.
func (s *GradeService) AddGradeToEnrollment(ctx context.Context, enrollmentID int64, input GradeInput) (*models.Grade, error) {
	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return s.AddGrade(ctx, enrollment, input)
}

// AddGradeByIDs resolves the enrollment for the pair and adds the grade.
func (s *GradeService) AddGradeByIDs(ctx context.Context, studentID, classroomID int64, input GradeInput) (*models.Grade, error) {
	enrollment, err := s.enrollments.GetByIDsOrFail(ctx, studentID, classroomID)
	if err != nil {
		return nil, err
	}
	return s.AddGrade(ctx, enrollment, input)
}

// UpdateGrade applies the provided fields and re-validates the resulting pair.
func (s *GradeService) UpdateGrade(ctx context.Context, id int64, patch models.GradePatch) (*models.Grade, error) {
	if patch.Empty() {
		return nil, appErrors.Validation("no fields to update")
	}
	current, err := s.GetGrade(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := patch.Apply(*current)
	if err := validateComponent(updated.Component); err != nil {
		return nil, err
	}
	if err := ValidateScore(updated.Score, updated.MaxScore); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}
	s.invalidateAverage(ctx, updated.EnrollmentID)
	return &updated, nil
}

// GetGrade loads one grade.
func (s *GradeService) GetGrade(ctx context.Context, id int64) (*models.Grade, error) {
	grade, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return grade, nil
}

// DeleteGrade removes a grade.
func (s *GradeService) DeleteGrade(ctx context.Context, id int64) error {
	grade, err := s.GetGrade(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade")
	}
	s.invalidateAverage(ctx, grade.EnrollmentID)
	return nil
}

// ListForEnrollment returns the grades of an enrollment ordered by grading time.
func (s *GradeService) ListForEnrollment(ctx context.Context, enrollmentID int64) ([]models.Grade, error) {
	if _, err := s.enrollments.GetByID(ctx, enrollmentID); err != nil {
		return nil, err
	}
	grades, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return grades, nil
}

// AveragePercentForEnrollment returns Σscore / Σmax * 100, or 0 without grades.
func (s *GradeService) AveragePercentForEnrollment(ctx context.Context, enrollmentID int64) (*models.GradeAverage, error) {
	if _, err := s.enrollments.GetByID(ctx, enrollmentID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf(gradeAverageCacheKey, enrollmentID)
	if s.cache != nil {
		var cached models.GradeAverage
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	generation := s.writes.Load()
	totals, err := s.repo.TotalsForEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate grades")
	}
	avg := &models.GradeAverage{
		EnrollmentID: enrollmentID,
		Percent:      models.PercentOf(totals.Score, totals.MaxScore),
		GradeCount:   totals.Count,
	}
	if s.cache != nil && s.writes.Load() == generation {
		_ = s.cache.Set(ctx, key, avg, s.cacheTTL)
	}
	return avg, nil
}

// AveragePercentByIDs resolves the pair's enrollment first.
func (s *GradeService) AveragePercentByIDs(ctx context.Context, studentID, classroomID int64) (*models.GradeAverage, error) {
	enrollment, err := s.enrollments.GetByIDsOrFail(ctx, studentID, classroomID)
	if err != nil {
		return nil, err
	}
	return s.AveragePercentForEnrollment(ctx, enrollment.ID)
}

// ExportEnrollmentCSV renders the enrollment's grades with a closing weighted total row.
func (s *GradeService) ExportEnrollmentCSV(ctx context.Context, enrollmentID int64) ([]byte, error) {
	grades, err := s.ListForEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	table := export.Table{Headers: []string{"id", "component", "score", "max_score", "percent", "graded_at"}}
	for _, g := range grades {
		table.Rows = append(table.Rows, []string{
			strconv.FormatInt(g.ID, 10),
			string(g.Component),
			formatFloat(g.Score),
			formatFloat(g.MaxScore),
			formatFloat(g.Percent()),
			g.GradedAt.UTC().Format(time.RFC3339),
		})
	}
	table.Rows = append(table.Rows, []string{"", "TOTAL", "", "", formatFloat(models.WeightedPercent(grades)), ""})

	body, err := export.RenderCSV(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render grades")
	}
	return body, nil
}

func (s *GradeService) invalidateAverage(ctx context.Context, enrollmentID int64) {
	if s.cache == nil {
		return
	}
	s.writes.Add(1)
	if err := s.cache.Invalidate(ctx, fmt.Sprintf(gradeAverageCacheKey, enrollmentID)); err != nil {
		s.logger.Warn("grade average invalidation failed", zap.Int64("enrollment_id", enrollmentID), zap.Error(err))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
