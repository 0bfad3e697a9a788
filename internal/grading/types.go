package grading

import (
	"encoding/json"

	"github.com/scrollu/portal-api/internal/models"
)

// SubmissionType identifies the grading strategy a submission is routed to.
type SubmissionType string

const (
	TypeCode  SubmissionType = "code"
	TypeEssay SubmissionType = "essay"
	TypeMath  SubmissionType = "math"
	TypeQuiz  SubmissionType = "quiz"
)

// Valid reports whether the type maps to a registered strategy.
func (t SubmissionType) Valid() bool {
	switch t {
	case TypeCode, TypeEssay, TypeMath, TypeQuiz:
		return true
	}
	return false
}

// Input bundles the submission artefacts a strategy needs. Content has
// already been sanitized by the caller.
type Input struct {
	SubmissionID uint
	Content      string
	Language     string
	AnswerKey    json.RawMessage
}

// Result is a confidence-qualified raw grade produced by a strategy and
// refined by the penalty policy. OverallScore is bounded to [0,100] and
// Confidence to [0,1] before it ever reaches persistence.
type Result struct {
	SubmissionID        uint
	Type                SubmissionType
	OverallScore        float64
	Confidence          float64
	RequiresHumanReview bool
	ReviewReason        string
	PlagiarismFlagged   bool
	ProcessingCost      int64
	Code                *models.CodeBreakdown
	Essay               *models.EssayBreakdown
	Math                *models.MathBreakdown
	Quiz                *models.QuizBreakdown
	Notes               []string
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize enforces the score and confidence bounds in place.
func (r *Result) Normalize() {
	r.OverallScore = clampScore(r.OverallScore)
	r.Confidence = clampConfidence(r.Confidence)
}
