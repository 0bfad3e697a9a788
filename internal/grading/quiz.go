package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/scrollu/portal-api/internal/models"
)

// quizPayloadSchema constrains both the submitted answers and the
// assignment answer key to the same wire shape.
var quizPayloadSchema = jsonschema.MustCompileString("quiz_payload.json", `{
	"type": "object",
	"required": ["answers"],
	"properties": {
		"answers": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string"}
		}
	}
}`)

type quizPayload struct {
	Answers []string `json:"answers"`
}

// quizStrategy grades deterministically by exact answer matching. No
// inference backend is involved, so confidence is always 1.0 and the result
// never escalates on its own.
type quizStrategy struct{}

func (quizStrategy) Type() SubmissionType { return TypeQuiz }

func (quizStrategy) Grade(_ context.Context, in Input, _ models.Rubric) (Result, error) {
	key, err := parseQuizPayload([]byte(in.AnswerKey))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedAnswerKey, err)
	}

	answers, err := parseQuizPayload([]byte(in.Content))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
	}

	total := len(key.Answers)
	correct := 0
	for i, expected := range key.Answers {
		if i >= len(answers.Answers) {
			break
		}
		if normalizeAnswer(answers.Answers[i]) == normalizeAnswer(expected) {
			correct++
		}
	}

	return Result{
		SubmissionID: in.SubmissionID,
		Type:         TypeQuiz,
		OverallScore: float64(correct) / float64(total) * 100,
		Confidence:   1.0,
		Quiz:         &models.QuizBreakdown{Correct: correct, Total: total},
	}, nil
}

func parseQuizPayload(raw []byte) (quizPayload, error) {
	if len(raw) == 0 {
		return quizPayload{}, fmt.Errorf("payload is empty")
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return quizPayload{}, err
	}
	if err := quizPayloadSchema.Validate(decoded); err != nil {
		return quizPayload{}, err
	}

	var payload quizPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return quizPayload{}, err
	}
	return payload, nil
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
