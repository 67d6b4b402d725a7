package dto

// EnrollRequest activates a student in a classroom.
type EnrollRequest struct {
	StudentID   int64 `json:"studentId" validate:"required,gt=0"`
	ClassroomID int64 `json:"classroomId" validate:"required,gt=0"`
}

// DropRequest soft-drops a student's active enrollments, optionally for one classroom.
type DropRequest struct {
	StudentID   int64  `json:"studentId" validate:"required,gt=0"`
	ClassroomID *int64 `json:"classroomId,omitempty" validate:"omitempty,gt=0"`
}

// DropResult reports how many enrollments changed.
type DropResult struct {
	Dropped int64 `json:"dropped"`
}
