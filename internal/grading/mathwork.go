package grading

import (
	"context"

	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/pkg/ai"
)

type mathStrategy struct {
	evaluator ai.Evaluator
	cfg       Config
}

func (mathStrategy) Type() SubmissionType { return TypeMath }

func (s mathStrategy) Grade(ctx context.Context, in Input, rubric models.Rubric) (Result, error) {
	evaluation, result, err := runEvaluator(ctx, s.evaluator, TypeMath, in, rubric, s.cfg)
	if err != nil {
		return Result{}, err
	}

	result.Math = &models.MathBreakdown{
		Methodology: subScore(evaluation, "methodology", result.OverallScore),
		Correctness: subScore(evaluation, "correctness", result.OverallScore),
		StepNotes:   evaluation.Notes,
	}

	return result, nil
}
