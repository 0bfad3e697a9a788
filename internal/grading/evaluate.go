package grading

import (
	"context"
	"fmt"

	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/pkg/ai"
)

// runEvaluator performs the shared inference call for the probabilistic
// strategies: render the rubric, delegate the qualitative assessment, and
// bounds-check what comes back. The strategy itself only wires the returned
// sub-scores into its typed breakdown.
func runEvaluator(ctx context.Context, evaluator ai.Evaluator, t SubmissionType, in Input, rubric models.Rubric, cfg Config) (ai.EvaluationResult, Result, error) {
	if evaluator == nil {
		return ai.EvaluationResult{}, Result{}, ErrEvaluatorUnavailable
	}

	criteria := make([]ai.Criterion, 0, len(rubric.Criteria))
	weights := rubric.NormalizedWeights()
	for _, c := range rubric.Criteria {
		criteria = append(criteria, ai.Criterion{
			Key:         c.Key,
			Description: c.Description,
			Weight:      weights[c.Key],
		})
	}

	evaluation, err := evaluator.Evaluate(ctx, ai.EvaluationInput{
		SubmissionType: string(t),
		Content:        in.Content,
		Language:       in.Language,
		Criteria:       criteria,
	})
	if err != nil {
		return ai.EvaluationResult{}, Result{}, fmt.Errorf("evaluate %s submission: %w", t, err)
	}

	overall := evaluation.OverallScore
	if overall <= 0 && len(evaluation.SubScores) > 0 {
		overall = weightedOverall(evaluation.SubScores, weights)
	}

	result := Result{
		SubmissionID:   in.SubmissionID,
		Type:           t,
		OverallScore:   clampScore(overall),
		Confidence:     clampConfidence(evaluation.Confidence),
		ProcessingCost: evaluation.TokensUsed,
		Notes:          evaluation.Notes,
	}

	if result.Confidence < cfg.LowConfidenceThreshold {
		result.RequiresHumanReview = true
		result.ReviewReason = "Low confidence grade"
	}

	return evaluation, result, nil
}

func weightedOverall(subScores map[string]float64, weights map[string]float64) float64 {
	total := 0.0
	weightSum := 0.0
	for key, weight := range weights {
		score, ok := subScores[key]
		if !ok {
			continue
		}
		total += clampScore(score) * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// subScore reads one bounded sub-score from the evaluation, defaulting to
// the overall score when the model omitted the key.
func subScore(evaluation ai.EvaluationResult, key string, fallback float64) float64 {
	if score, ok := evaluation.SubScores[key]; ok {
		return clampScore(score)
	}
	return clampScore(fallback)
}
