package service

import (
	"context"
	"encoding/csv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/repository"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

type gradeFixture struct {
	svc         *GradeService
	grades      *memGradeRepo
	enrollments *EnrollmentService
	cache       *memCache
	enrollment  *models.Enrollment
}

func newGradeFixture(t *testing.T) *gradeFixture {
	t.Helper()
	enrollments := NewEnrollmentService(newMemEnrollmentRepo(), nil)
	enrollment, err := enrollments.Enroll(context.Background(), 1, 7)
	require.NoError(t, err)
	grades := newMemGradeRepo()
	cache := newMemCache()
	return &gradeFixture{
		svc:         NewGradeService(grades, enrollments, cache, time.Minute, nil),
		grades:      grades,
		enrollments: enrollments,
		cache:       cache,
		enrollment:  enrollment,
	}
}

func TestGradeServiceAddGradeRejectsNonPositiveMax(t *testing.T) {
	f := newGradeFixture(t)

	for _, max := range []float64{0, -5} {
		_, err := f.svc.AddGrade(context.Background(), f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 0, MaxScore: max})
		require.Error(t, err)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
		assert.Equal(t, "maxScore must be > 0", appErr.Message)
	}
	assert.Empty(t, f.grades.grades)
}

func TestGradeServiceAddGradeRejectsOutOfRangeScore(t *testing.T) {
	f := newGradeFixture(t)

	for _, score := range []float64{-1, 20.5, math.NaN()} {
		_, err := f.svc.AddGrade(context.Background(), f.enrollment, GradeInput{Component: models.GradeComponentExam, Score: score, MaxScore: 20})
		require.Error(t, err)
		appErr := appErrors.FromError(err)
		assert.Equal(t, "score must be within 0..maxScore", appErr.Message)
		require.Len(t, appErr.Details, 1)
		assert.Equal(t, "score", appErr.Details[0].Field)
	}
	assert.Empty(t, f.grades.grades)
}

func TestGradeServiceAddGradeRejectsUnknownComponent(t *testing.T) {
	f := newGradeFixture(t)

	_, err := f.svc.AddGrade(context.Background(), f.enrollment, GradeInput{Component: "ESSAY", Score: 1, MaxScore: 2})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestGradeServiceWeightedAverage(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 18, MaxScore: 20})
	require.NoError(t, err)
	_, err = f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentExam, Score: 45, MaxScore: 50})
	require.NoError(t, err)

	avg, err := f.svc.AveragePercentForEnrollment(ctx, f.enrollment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, avg.Percent, 1e-9)
	assert.Equal(t, 2, avg.GradeCount)
}

func TestGradeServiceAverageWithoutGradesIsZero(t *testing.T) {
	f := newGradeFixture(t)

	avg, err := f.svc.AveragePercentForEnrollment(context.Background(), f.enrollment.ID)
	require.NoError(t, err)
	assert.Zero(t, avg.Percent)
	assert.Zero(t, avg.GradeCount)
}

func TestGradeServiceAverageCacheInvalidatedOnWrite(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	grade, err := f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 10, MaxScore: 20})
	require.NoError(t, err)
	avg, err := f.svc.AveragePercentForEnrollment(ctx, f.enrollment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, avg.Percent, 1e-9)
	assert.Len(t, f.cache.items, 1)

	score := 20.0
	_, err = f.svc.UpdateGrade(ctx, grade.ID, models.GradePatch{Score: &score})
	require.NoError(t, err)
	assert.Empty(t, f.cache.items)

	avg, err = f.svc.AveragePercentForEnrollment(ctx, f.enrollment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, avg.Percent, 1e-9)
}

func TestGradeServiceAddGradeByIDs(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	grade, err := f.svc.AddGradeByIDs(ctx, 1, 7, GradeInput{Component: models.GradeComponentHomework, Score: 5, MaxScore: 10})
	require.NoError(t, err)
	assert.Equal(t, f.enrollment.ID, grade.EnrollmentID)

	_, err = f.svc.AddGradeByIDs(ctx, 1, 99, GradeInput{Component: models.GradeComponentHomework, Score: 5, MaxScore: 10})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Len(t, f.grades.grades, 1)
}

func TestGradeServiceUpdateGradeRevalidates(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	grade, err := f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentProject, Score: 8, MaxScore: 10})
	require.NoError(t, err)

	max := 5.0
	_, err = f.svc.UpdateGrade(ctx, grade.ID, models.GradePatch{MaxScore: &max})
	require.Error(t, err)
	assert.Equal(t, "score must be within 0..maxScore", appErrors.FromError(err).Message)

	stored, err := f.svc.GetGrade(ctx, grade.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.MaxScore)

	_, err = f.svc.UpdateGrade(ctx, grade.ID, models.GradePatch{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestGradeServiceDeleteGrade(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	grade, err := f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 1, MaxScore: 2})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteGrade(ctx, grade.ID))
	assert.ErrorIs(t, f.svc.DeleteGrade(ctx, grade.ID), appErrors.ErrNotFound)
	assert.Contains(t, f.cache.invalidated, "grades:avg:enrollment:1")
}

func TestGradeServiceExportEnrollmentCSV(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 18, MaxScore: 20})
	require.NoError(t, err)
	_, err = f.svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentExam, Score: 45, MaxScore: 50})
	require.NoError(t, err)

	body, err := f.svc.ExportEnrollmentCSV(ctx, f.enrollment.ID)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "component", records[0][1])
	assert.Equal(t, "90.00", records[1][4])
	assert.Equal(t, "TOTAL", records[3][1])
	assert.Equal(t, "90.00", records[3][4])
}

// interleavedGradeRepo runs duringTotals after the aggregate is read, standing in
// for a grade write that commits while an average is being computed.
type interleavedGradeRepo struct {
	*memGradeRepo
	duringTotals func()
}

func (r *interleavedGradeRepo) TotalsForEnrollment(ctx context.Context, enrollmentID int64) (*repository.GradeTotals, error) {
	totals, err := r.memGradeRepo.TotalsForEnrollment(ctx, enrollmentID)
	if hook := r.duringTotals; hook != nil {
		r.duringTotals = nil
		hook()
	}
	return totals, err
}

func TestGradeServiceAverageSkipsCacheFillAfterConcurrentWrite(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()
	repo := &interleavedGradeRepo{memGradeRepo: f.grades}
	svc := NewGradeService(repo, f.enrollments, f.cache, time.Minute, nil)

	_, err := svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 10, MaxScore: 20})
	require.NoError(t, err)

	repo.duringTotals = func() {
		_, err := svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentExam, Score: 20, MaxScore: 20})
		require.NoError(t, err)
	}
	stale, err := svc.AveragePercentForEnrollment(ctx, f.enrollment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, stale.Percent, 1e-9)
	assert.Empty(t, f.cache.items)

	fresh, err := svc.AveragePercentForEnrollment(ctx, f.enrollment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, fresh.Percent, 1e-9)
	assert.Len(t, f.cache.items, 1)
}

var _ GradeCache = (*CacheService)(nil)

func TestGradeServiceAverageWithoutCache(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()
	var noCache GradeCache
	svc := NewGradeService(f.grades, f.enrollments, noCache, time.Minute, nil)

	_, err := svc.AddGrade(ctx, f.enrollment, GradeInput{Component: models.GradeComponentQuiz, Score: 15, MaxScore: 20})
	require.NoError(t, err)
	avg, err := svc.AveragePercentForEnrollment(ctx, f.enrollment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, avg.Percent, 1e-9)
	assert.Equal(t, 1, avg.GradeCount)
}
