package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission represents student work handed in for an assignment. It is
// created by the intake flow in status submitted and mutated exactly once
// per grading pass.
type Submission struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	AssignmentID   uint           `gorm:"not null;index" json:"assignment_id"`
	EnrollmentID   uint           `gorm:"index" json:"enrollment_id"`
	CourseID       uint           `gorm:"index" json:"course_id"`
	StudentID      uint           `gorm:"not null;index" json:"student_id"`
	Content        string         `gorm:"type:text" json:"content"`
	ContentType    string         `gorm:"size:32" json:"content_type"`
	Attachments    datatypes.JSON `json:"attachments,omitempty"`
	Status         string         `gorm:"size:32;not null" json:"status"`
	Score          *float64       `json:"score"`
	GradeDetail    datatypes.JSON `json:"grade_detail,omitempty"`
	AlignmentScore *float64       `json:"alignment_score"`
	ImpactScore    *float64       `json:"impact_score"`
	GradedAt       *time.Time     `json:"graded_at"`
	GradedBy       *uint          `json:"graded_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Assignment     Assignment     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment"`
	Student        Student        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
}

const (
	// SubmissionStatusSubmitted indicates the submission was handed in but not graded.
	SubmissionStatusSubmitted = "submitted"
	// SubmissionStatusGraded indicates a grading pass has completed.
	SubmissionStatusGraded = "graded"
)

// IsGraded reports whether the submission carries a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}
