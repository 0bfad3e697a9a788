package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// GradeDetailVersion is bumped whenever the persisted detail shape changes
// in a way downstream consumers must discriminate on.
const GradeDetailVersion = 1

// GradeDetail is the versioned, strongly typed grade breakdown persisted
// alongside the submission score. Exactly one of the per-type breakdowns is
// populated, matching Type.
type GradeDetail struct {
	Version             int             `json:"version"`
	PassID              string          `json:"pass_id"`
	Type                string          `json:"type"`
	OverallScore        float64         `json:"overall_score"`
	Confidence          float64         `json:"confidence"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	ReviewReason        string          `json:"review_reason,omitempty"`
	PlagiarismFlagged   bool            `json:"plagiarism_flagged"`
	ManualOverride      bool            `json:"manual_override"`
	ProcessingCost      int64           `json:"processing_cost"`
	Code                *CodeBreakdown  `json:"code,omitempty"`
	Essay               *EssayBreakdown `json:"essay,omitempty"`
	Math                *MathBreakdown  `json:"math,omitempty"`
	Quiz                *QuizBreakdown  `json:"quiz,omitempty"`
	Note                string          `json:"note,omitempty"`
}

// CodeBreakdown carries the sub-scores produced for code submissions.
type CodeBreakdown struct {
	Correctness float64  `json:"correctness"`
	Style       float64  `json:"style"`
	Efficiency  float64  `json:"efficiency"`
	LineNotes   []string `json:"line_notes,omitempty"`
}

// EssayBreakdown carries the sub-scores produced for essay submissions.
type EssayBreakdown struct {
	ThesisClarity     float64  `json:"thesis_clarity"`
	ArgumentStructure float64  `json:"argument_structure"`
	Evidence          float64  `json:"evidence"`
	ParagraphNotes    []string `json:"paragraph_notes,omitempty"`
}

// MathBreakdown carries the sub-scores produced for math submissions.
type MathBreakdown struct {
	Methodology float64  `json:"methodology"`
	Correctness float64  `json:"correctness"`
	StepNotes   []string `json:"step_notes,omitempty"`
}

// QuizBreakdown records deterministic quiz grading counts.
type QuizBreakdown struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// ToJSON serializes the detail for the gorm JSON column.
func (d GradeDetail) ToJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal grade detail: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// GradeDetailFromJSON parses a persisted detail column, rejecting unknown
// versions so additive changes stay explicit.
func GradeDetailFromJSON(raw datatypes.JSON) (GradeDetail, error) {
	var detail GradeDetail
	if len(raw) == 0 {
		return detail, fmt.Errorf("grade detail is empty")
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return GradeDetail{}, fmt.Errorf("parse grade detail: %w", err)
	}
	if detail.Version != GradeDetailVersion {
		return GradeDetail{}, fmt.Errorf("unsupported grade detail version %d", detail.Version)
	}
	return detail, nil
}

// GradeHistory archives a completed grading pass before any later pass
// overwrites the submission's grade fields.
type GradeHistory struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	SubmissionID uint           `gorm:"not null;index" json:"submission_id"`
	PassID       string         `gorm:"size:64" json:"pass_id"`
	Score        float64        `gorm:"not null" json:"score"`
	Detail       datatypes.JSON `json:"detail,omitempty"`
	GradedBy     uint           `json:"graded_by"`
	GradedAt     time.Time      `json:"graded_at"`
	CreatedAt    time.Time      `json:"created_at"`
}
