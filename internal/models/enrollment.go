package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusDropped, EnrollmentStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// Dropped and completed rows are reactivated in place by enroll.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusActive:
		return next == EnrollmentStatusDropped || next == EnrollmentStatusCompleted
	case EnrollmentStatusDropped, EnrollmentStatusCompleted:
		return next == EnrollmentStatusActive
	}
	return false
}

// Enrollment links one student to one classroom. There is one row per pair.
type Enrollment struct {
	ID          int64            `db:"id" json:"id"`
	StudentID   int64            `db:"student_id" json:"student_id"`
	ClassroomID int64            `db:"classroom_id" json:"classroom_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt  *time.Time       `db:"enrolled_at" json:"enrolled_at,omitempty"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID   *int64
	ClassroomID *int64
	Status      EnrollmentStatus
	Page        int
	PageSize    int
}
