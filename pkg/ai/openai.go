package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Subsystem: "ai",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of AI evaluation requests",
	}, []string{"model", "submission_type"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "ai",
		Name:      "evaluation_failures_total",
		Help:      "Number of AI evaluation failures",
	}, []string{"model", "submission_type"})
)

// OpenAIConfig defines configuration options for the OpenAI evaluator.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIEvaluator implements Evaluator against the OpenAI chat completion API.
type OpenAIEvaluator struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEvaluator builds a new evaluator using the provided configuration.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 768
	}

	tracer := otel.Tracer("github.com/scrollu/portal-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIEvaluator{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Evaluate sends the scoring request to OpenAI and parses the response.
func (e *OpenAIEvaluator) Evaluate(parent context.Context, input EvaluationInput) (EvaluationResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.evaluate", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("submission_type", input.SubmissionType),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: evaluatorSystemPrompt(input.SubmissionType),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := e.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(e.cfg.Model, input.SubmissionType).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(e.cfg.Model, input.SubmissionType).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EvaluationResult{}, fmt.Errorf("openai evaluate: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(e.cfg.Model, input.SubmissionType).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EvaluationResult{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseEvaluationResponse(content)
	if err != nil {
		aiFailures.WithLabelValues(e.cfg.Model, input.SubmissionType).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EvaluationResult{}, err
	}

	result.TokensUsed = int64(resp.Usage.TotalTokens)
	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	span.SetAttributes(
		attribute.Float64("overall_score", result.OverallScore),
		attribute.Float64("confidence", result.Confidence),
	)

	return result, nil
}

func evaluatorSystemPrompt(submissionType string) string {
	var focus string
	switch submissionType {
	case "essay":
		focus = "thesis clarity, argument structure, and use of evidence, with per-paragraph notes"
	case "math":
		focus = "methodological soundness and correctness, with per-step notes"
	default:
		focus = "correctness, style, and efficiency, with per-line notes where relevant"
	}

	return "You are an automated grader. Score the submission against each rubric criterion. " +
		"Respond with a JSON object containing sub_scores (criterion key to score 0-100), " +
		"overall_score (0-100), confidence (0-1), and notes (array of strings). Focus on " + focus + "."
}

func buildUserPrompt(input EvaluationInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Rubric\n")
	for _, c := range input.Criteria {
		builder.WriteString(fmt.Sprintf("- %s (weight %.2f): %s\n", c.Key, c.Weight, c.Description))
	}
	builder.WriteString("\n## Submission Type\n")
	builder.WriteString(input.SubmissionType)
	if input.Language != "" {
		builder.WriteString("\n\n## Language\n")
		builder.WriteString(input.Language)
	}
	builder.WriteString("\n\n## Submission\n")
	builder.WriteString(input.Content)
	if input.ProgramOutput != "" {
		builder.WriteString("\n\n## Program Output\n")
		builder.WriteString(input.ProgramOutput)
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseEvaluationResponse(content string) (EvaluationResult, error) {
	type payload struct {
		SubScores    map[string]float64 `json:"sub_scores"`
		OverallScore float64            `json:"overall_score"`
		Confidence   float64            `json:"confidence"`
		Notes        []string           `json:"notes"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse evaluation json: %w", err)
	}

	if data.OverallScore < 0 {
		data.OverallScore = 0
	}
	if data.OverallScore > 100 {
		data.OverallScore = 100
	}
	if data.Confidence < 0 {
		data.Confidence = 0
	}
	if data.Confidence > 1 {
		data.Confidence = 1
	}
	for key, score := range data.SubScores {
		if score < 0 {
			data.SubScores[key] = 0
		}
		if score > 100 {
			data.SubScores[key] = 100
		}
	}

	return EvaluationResult{
		SubScores:    data.SubScores,
		OverallScore: data.OverallScore,
		Confidence:   data.Confidence,
		Notes:        data.Notes,
	}, nil
}
