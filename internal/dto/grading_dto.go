package dto

import (
	"time"

	"github.com/scrollu/portal-api/internal/models"
)

// GradeSubmissionRequest triggers an automated grading pass for one
// submission. Re-grading an already graded submission runs a fresh pass.
type GradeSubmissionRequest struct {
	Rubric models.Rubric `json:"rubric" validate:"required"`
}

// BulkGradeRequest fans a shared rubric across an ordered batch of
// submission ids.
type BulkGradeRequest struct {
	SubmissionIDs []uint        `json:"submission_ids" validate:"required,min=1"`
	Rubric        models.Rubric `json:"rubric" validate:"required"`
}

// ManualOverrideRequest records a faculty-supplied grade that bypasses the
// automated pipeline.
type ManualOverrideRequest struct {
	Score    float64 `json:"score" validate:"gte=0"`
	Feedback string  `json:"feedback"`
}

// GradeResponse is the API view of one completed grading pass.
type GradeResponse struct {
	SubmissionID        uint               `json:"submission_id"`
	PassID              string             `json:"pass_id"`
	Type                string             `json:"type"`
	Status              string             `json:"status"`
	OverallScore        float64            `json:"overall_score"`
	Confidence          float64            `json:"confidence"`
	RequiresHumanReview bool               `json:"requires_human_review"`
	ReviewReason        string             `json:"review_reason,omitempty"`
	PlagiarismFlagged   bool               `json:"plagiarism_flagged"`
	AlignmentScore      float64            `json:"alignment_score"`
	ImpactScore         float64            `json:"impact_score"`
	GradedAt            *time.Time         `json:"graded_at"`
	GradedBy            *uint              `json:"graded_by"`
	Detail              models.GradeDetail `json:"detail"`
}

// NewGradeResponse builds the response from the persisted submission state
// and its parsed grade detail.
func NewGradeResponse(submission models.Submission, detail models.GradeDetail) GradeResponse {
	response := GradeResponse{
		SubmissionID:        submission.ID,
		PassID:              detail.PassID,
		Type:                detail.Type,
		Status:              submission.Status,
		OverallScore:        detail.OverallScore,
		Confidence:          detail.Confidence,
		RequiresHumanReview: detail.RequiresHumanReview,
		ReviewReason:        detail.ReviewReason,
		PlagiarismFlagged:   detail.PlagiarismFlagged,
		GradedAt:            submission.GradedAt,
		GradedBy:            submission.GradedBy,
		Detail:              detail,
	}

	if submission.AlignmentScore != nil {
		response.AlignmentScore = *submission.AlignmentScore
	}
	if submission.ImpactScore != nil {
		response.ImpactScore = *submission.ImpactScore
	}

	return response
}

// SubmissionSummary is the list view of a submission, used by the review
// queue.
type SubmissionSummary struct {
	ID             uint       `json:"id"`
	AssignmentID   uint       `json:"assignment_id"`
	StudentID      uint       `json:"student_id"`
	Status         string     `json:"status"`
	Score          *float64   `json:"score,omitempty"`
	AlignmentScore *float64   `json:"alignment_score,omitempty"`
	ImpactScore    *float64   `json:"impact_score,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	GradedAt       *time.Time `json:"graded_at,omitempty"`
}

// NewSubmissionSummary maps a persisted submission to its list view.
func NewSubmissionSummary(submission models.Submission) SubmissionSummary {
	return SubmissionSummary{
		ID:             submission.ID,
		AssignmentID:   submission.AssignmentID,
		StudentID:      submission.StudentID,
		Status:         submission.Status,
		Score:          submission.Score,
		AlignmentScore: submission.AlignmentScore,
		ImpactScore:    submission.ImpactScore,
		SubmittedAt:    submission.CreatedAt,
		GradedAt:       submission.GradedAt,
	}
}

// BulkGradeOutcome is one entry in a bulk grading response. Exactly one of
// Result or Error is meaningful depending on Success.
type BulkGradeOutcome struct {
	SubmissionID uint           `json:"submission_id"`
	Success      bool           `json:"success"`
	Result       *GradeResponse `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// BulkGradeResponse wraps the per-item outcomes with the batch identity
// used to follow progress over the websocket stream.
type BulkGradeResponse struct {
	BatchID   string             `json:"batch_id"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Outcomes  []BulkGradeOutcome `json:"outcomes"`
}
