package models

import (
	"time"

	"gorm.io/datatypes"
)

// Assignment represents a gradable assignment definition within a course.
type Assignment struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CourseID     uint           `gorm:"not null;index" json:"course_id"`
	Title        string         `gorm:"size:255;not null" json:"title"`
	Description  string         `gorm:"type:text" json:"description"`
	Type         string         `gorm:"size:32;index" json:"type"`
	MaxScore     float64        `gorm:"not null;default:100" json:"max_score"`
	PassingScore float64        `json:"passing_score"`
	AnswerKey    datatypes.JSON `json:"answer_key,omitempty"`
	DueDate      time.Time      `json:"due_date"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Submissions  []Submission
}

// Assignment-declared types. The classifier maps these onto grading
// strategies; anything else falls back to content inspection.
const (
	AssignmentTypeQuiz    = "quiz"
	AssignmentTypeEssay   = "essay"
	AssignmentTypeProject = "project"
	AssignmentTypeLabWork = "lab_work"
	AssignmentTypeMath    = "math"
)

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return reference.After(a.DueDate)
}
