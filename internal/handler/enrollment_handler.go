package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-commerce-api/internal/dto"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/service"
	"github.com/noah-isme/sma-commerce-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error)
	DropActiveForStudent(ctx context.Context, studentID int64, classroomID *int64) (int64, error)
	DropAllActiveForClassroom(ctx context.Context, classroomID int64) (int64, error)
	Complete(ctx context.Context, id int64) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
	validator   *validator.Validate
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, validator: service.NewValidator()}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param studentId query int false "Filter by student"
// @Param classroomId query int false "Filter by classroom"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	if raw := c.Query("studentId"); raw != "" {
		id, err := parsePositiveID(raw, "studentId")
		if err != nil {
			response.Error(c, err)
			return
		}
		filter.StudentID = &id
	}
	if raw := c.Query("classroomId"); raw != "" {
		id, err := parsePositiveID(raw, "classroomId")
		if err != nil {
			response.Error(c, err)
			return
		}
		filter.ClassroomID = &id
	}
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Create godoc
// @Summary Enroll student
// @Description Creates or reactivates the single enrollment of the pair.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	if err := service.ValidateStruct(h.validator, req, "invalid enrollment payload"); err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), req.StudentID, req.ClassroomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Drop godoc
// @Summary Drop a student's active enrollments
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.DropRequest true "Drop payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req dto.DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	if err := service.ValidateStruct(h.validator, req, "invalid drop payload"); err != nil {
		response.Error(c, err)
		return
	}
	dropped, err := h.enrollments.DropActiveForStudent(c.Request.Context(), req.StudentID, req.ClassroomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DropResult{Dropped: dropped}, nil)
}

// DropClassroom godoc
// @Summary Drop every active enrollment of a classroom
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Router /classrooms/{id}/enrollments/drop [post]
func (h *EnrollmentHandler) DropClassroom(c *gin.Context) {
	classroomID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	dropped, err := h.enrollments.DropAllActiveForClassroom(c.Request.Context(), classroomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DropResult{Dropped: dropped}, nil)
}

// Complete godoc
// @Summary Mark an active enrollment completed
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/complete [post]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.enrollments.Complete(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
