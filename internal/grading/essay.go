package grading

import (
	"context"

	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/pkg/ai"
)

type essayStrategy struct {
	evaluator ai.Evaluator
	cfg       Config
}

func (essayStrategy) Type() SubmissionType { return TypeEssay }

func (s essayStrategy) Grade(ctx context.Context, in Input, rubric models.Rubric) (Result, error) {
	evaluation, result, err := runEvaluator(ctx, s.evaluator, TypeEssay, in, rubric, s.cfg)
	if err != nil {
		return Result{}, err
	}

	result.Essay = &models.EssayBreakdown{
		ThesisClarity:     subScore(evaluation, "thesis_clarity", result.OverallScore),
		ArgumentStructure: subScore(evaluation, "argument_structure", result.OverallScore),
		Evidence:          subScore(evaluation, "evidence", result.OverallScore),
		ParagraphNotes:    evaluation.Notes,
	}

	return result, nil
}
