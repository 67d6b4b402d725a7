package dto

import "time"

// GradeRequest creates a grade. Bounds are checked by the grade book.
type GradeRequest struct {
	Component string     `json:"component" validate:"required,oneof=QUIZ PROJECT HOMEWORK EXAM"`
	Score     *float64   `json:"score" validate:"required"`
	MaxScore  *float64   `json:"maxScore" validate:"required"`
	GradedAt  *time.Time `json:"gradedAt,omitempty"`
}

// GradeByIDsRequest creates a grade for the enrollment of a student in a classroom.
type GradeByIDsRequest struct {
	StudentID   int64 `json:"studentId" validate:"required,gt=0"`
	ClassroomID int64 `json:"classroomId" validate:"required,gt=0"`
	GradeRequest
}

// GradePatchRequest updates only the provided fields.
type GradePatchRequest struct {
	Component *string    `json:"component,omitempty" validate:"omitempty,oneof=QUIZ PROJECT HOMEWORK EXAM"`
	Score     *float64   `json:"score,omitempty"`
	MaxScore  *float64   `json:"maxScore,omitempty"`
	GradedAt  *time.Time `json:"gradedAt,omitempty"`
}
