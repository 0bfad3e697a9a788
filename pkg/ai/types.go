package ai

import "context"

// Criterion is one rubric criterion rendered for the inference backend.
// Weight is already normalized by the caller.
type Criterion struct {
	Key         string
	Description string
	Weight      float64
}

// EvaluationInput contains the artefacts needed to score a submission
// qualitatively.
type EvaluationInput struct {
	SubmissionType string
	Content        string
	Language       string
	ProgramOutput  string
	Criteria       []Criterion
}

// EvaluationResult is the structured assessment returned by the model.
// SubScores are keyed by rubric criterion and bounded to [0,100];
// OverallScore is bounded to [0,100] and Confidence to [0,1].
type EvaluationResult struct {
	SubScores    map[string]float64
	OverallScore float64
	Confidence   float64
	Notes        []string
	TokensUsed   int64
	Raw          map[string]interface{}
}

// Evaluator describes an inference backend capable of scoring essay, code
// and math submissions against a rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
}
