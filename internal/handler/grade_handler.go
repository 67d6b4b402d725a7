package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-commerce-api/internal/dto"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/service"
	"github.com/noah-isme/sma-commerce-api/pkg/response"
)

type gradeService interface {
	AddGradeToEnrollment(ctx context.Context, enrollmentID int64, input service.GradeInput) (*models.Grade, error)
	AddGradeByIDs(ctx context.Context, studentID, classroomID int64, input service.GradeInput) (*models.Grade, error)
	UpdateGrade(ctx context.Context, id int64, patch models.GradePatch) (*models.Grade, error)
	GetGrade(ctx context.Context, id int64) (*models.Grade, error)
	DeleteGrade(ctx context.Context, id int64) error
	ListForEnrollment(ctx context.Context, enrollmentID int64) ([]models.Grade, error)
	AveragePercentForEnrollment(ctx context.Context, enrollmentID int64) (*models.GradeAverage, error)
	AveragePercentByIDs(ctx context.Context, studentID, classroomID int64) (*models.GradeAverage, error)
	ExportEnrollmentCSV(ctx context.Context, enrollmentID int64) ([]byte, error)
}

// GradeHandler exposes grade endpoints.
type GradeHandler struct {
	grades    gradeService
	validator *validator.Validate
}

// NewGradeHandler constructs handler.
func NewGradeHandler(grades gradeService) *GradeHandler {
	return &GradeHandler{grades: grades, validator: service.NewValidator()}
}

// List godoc
// @Summary List grades of an enrollment
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/grades [get]
func (h *GradeHandler) List(c *gin.Context) {
	enrollmentID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	grades, err := h.grades.ListForEnrollment(c.Request.Context(), enrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// Create godoc
// @Summary Add a grade to an enrollment
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Enrollment ID"
// @Param payload body dto.GradeRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments/{id}/grades [post]
func (h *GradeHandler) Create(c *gin.Context) {
	enrollmentID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	if err := service.ValidateStruct(h.validator, req, "invalid grade payload"); err != nil {
		response.Error(c, err)
		return
	}
	grade, err := h.grades.AddGradeToEnrollment(c.Request.Context(), enrollmentID, gradeInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// CreateByIDs godoc
// @Summary Add a grade by student and classroom
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.GradeByIDsRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grades/by-ids [post]
func (h *GradeHandler) CreateByIDs(c *gin.Context) {
	var req dto.GradeByIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	if err := service.ValidateStruct(h.validator, req, "invalid grade payload"); err != nil {
		response.Error(c, err)
		return
	}
	grade, err := h.grades.AddGradeByIDs(c.Request.Context(), req.StudentID, req.ClassroomID, gradeInput(req.GradeRequest))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// Get godoc
// @Summary Get grade
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param id path int true "Grade ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [get]
func (h *GradeHandler) Get(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	grade, err := h.grades.GetGrade(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Patch godoc
// @Summary Update grade fields
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Grade ID"
// @Param payload body dto.GradePatchRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [patch]
func (h *GradeHandler) Patch(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.GradePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	if err := service.ValidateStruct(h.validator, req, "invalid grade payload"); err != nil {
		response.Error(c, err)
		return
	}
	patch := models.GradePatch{Score: req.Score, MaxScore: req.MaxScore, GradedAt: req.GradedAt}
	if req.Component != nil {
		component := models.GradeComponent(*req.Component)
		patch.Component = &component
	}
	grade, err := h.grades.UpdateGrade(c.Request.Context(), id, patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Delete godoc
// @Summary Delete grade
// @Tags Grades
// @Security BearerAuth
// @Param id path int true "Grade ID"
// @Success 204
// @Router /grades/{id} [delete]
func (h *GradeHandler) Delete(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.grades.DeleteGrade(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Average godoc
// @Summary Weighted average percent of an enrollment
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/grades/average [get]
func (h *GradeHandler) Average(c *gin.Context) {
	enrollmentID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	avg, err := h.grades.AveragePercentForEnrollment(c.Request.Context(), enrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, avg, nil)
}

// AverageByIDs godoc
// @Summary Weighted average percent by student and classroom
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param studentId query int true "Student ID"
// @Param classroomId query int true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Router /grades/average [get]
func (h *GradeHandler) AverageByIDs(c *gin.Context) {
	studentID, err := int64Query(c, "studentId")
	if err != nil {
		response.Error(c, err)
		return
	}
	classroomID, err := int64Query(c, "classroomId")
	if err != nil {
		response.Error(c, err)
		return
	}
	avg, err := h.grades.AveragePercentByIDs(c.Request.Context(), studentID, classroomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, avg, nil)
}

// Export godoc
// @Summary Export the grades of an enrollment as CSV
// @Tags Grades
// @Produce text/csv
// @Security BearerAuth
// @Param id path int true "Enrollment ID"
// @Success 200 {file} file
// @Router /enrollments/{id}/grades/export [get]
func (h *GradeHandler) Export(c *gin.Context) {
	enrollmentID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	body, err := h.grades.ExportEnrollmentCSV(c.Request.Context(), enrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "text/csv", fmt.Sprintf("grades-enrollment-%d.csv", enrollmentID), body)
}

func gradeInput(req dto.GradeRequest) service.GradeInput {
	input := service.GradeInput{Component: models.GradeComponent(req.Component), GradedAt: req.GradedAt}
	if req.Score != nil {
		input.Score = *req.Score
	}
	if req.MaxScore != nil {
		input.MaxScore = *req.MaxScore
	}
	return input
}
