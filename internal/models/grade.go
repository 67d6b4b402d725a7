package models

import "time"

// GradeComponent is the kind of assessment a grade belongs to.
type GradeComponent string

const (
	GradeComponentQuiz     GradeComponent = "QUIZ"
	GradeComponentProject  GradeComponent = "PROJECT"
	GradeComponentHomework GradeComponent = "HOMEWORK"
	GradeComponentExam     GradeComponent = "EXAM"
)

// Valid reports whether c is a known component.
func (c GradeComponent) Valid() bool {
	switch c {
	case GradeComponentQuiz, GradeComponentProject, GradeComponentHomework, GradeComponentExam:
		return true
	}
	return false
}

// Grade represents one scored component within an enrollment.
type Grade struct {
	ID           int64          `db:"id" json:"id"`
	EnrollmentID int64          `db:"enrollment_id" json:"enrollment_id"`
	Component    GradeComponent `db:"component" json:"component"`
	Score        float64        `db:"score" json:"score"`
	MaxScore     float64        `db:"max_score" json:"max_score"`
	GradedAt     time.Time      `db:"graded_at" json:"graded_at"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Percent returns score relative to maxScore on a 0..100 scale, or 0 when maxScore is 0.
func (g Grade) Percent() float64 {
	return PercentOf(g.Score, g.MaxScore)
}

// GradePatch carries the fields of a partial grade update. Nil fields are left unchanged.
type GradePatch struct {
	Component *GradeComponent
	Score     *float64
	MaxScore  *float64
	GradedAt  *time.Time
}

// Apply returns g with the patch applied.
func (p GradePatch) Apply(g Grade) Grade {
	if p.Component != nil {
		g.Component = *p.Component
	}
	if p.Score != nil {
		g.Score = *p.Score
	}
	if p.MaxScore != nil {
		g.MaxScore = *p.MaxScore
	}
	if p.GradedAt != nil {
		g.GradedAt = *p.GradedAt
	}
	return g
}

// Empty reports whether no field is set.
func (p GradePatch) Empty() bool {
	return p.Component == nil && p.Score == nil && p.MaxScore == nil && p.GradedAt == nil
}

// PercentOf divides with a zero guard.
func PercentOf(score, maxScore float64) float64 {
	if maxScore == 0 {
		return 0
	}
	return score / maxScore * 100
}

// WeightedPercent sums raw points before dividing, so larger assessments weigh more.
func WeightedPercent(grades []Grade) float64 {
	var score, max float64
	for _, g := range grades {
		score += g.Score
		max += g.MaxScore
	}
	return PercentOf(score, max)
}

// GradeAverage is the aggregate returned by average endpoints.
type GradeAverage struct {
	EnrollmentID int64   `json:"enrollment_id"`
	Percent      float64 `json:"percent"`
	GradeCount   int     `json:"grade_count"`
}
