package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Input summarises a freshly graded submission for feedback generation.
type Input struct {
	SubmissionType string
	Content        string
	OverallScore   float64
	ReviewReason   string
	Notes          []string
}

// Options tunes the generated feedback block.
type Options struct {
	IncludeEncouragement bool
	Tone                 string
}

// Feedback is the structured narrative returned to the student.
type Feedback struct {
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Suggestions         []string `json:"suggestions"`
	Encouragement       string   `json:"encouragement,omitempty"`
}

// Generator produces student-facing feedback for a graded submission. It is
// only invoked after the grade has been persisted; failures are logged by
// the caller and never roll back a grade.
type Generator interface {
	Generate(ctx context.Context, in Input, opts Options) (Feedback, error)
}

// Config holds the OpenAI-backed generator settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Logger    zerolog.Logger
}

// OpenAIGenerator implements Generator against the chat completion API.
type OpenAIGenerator struct {
	client    *openai.Client
	cfg       Config
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewOpenAIGenerator constructs the generator.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey)),
		cfg:       cfg,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}, nil
}

// Generate asks the model for structured feedback and strips any markup
// from the response before returning it.
func (g *OpenAIGenerator) Generate(ctx context.Context, in Input, opts Options) (Feedback, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: feedbackSystemPrompt(opts)},
			{Role: openai.ChatMessageRoleUser, Content: buildFeedbackPrompt(in)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Feedback{}, fmt.Errorf("generate feedback: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Feedback{}, fmt.Errorf("no choices returned from openai")
	}

	var feedback Feedback
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &feedback); err != nil {
		return Feedback{}, fmt.Errorf("parse feedback json: %w", err)
	}

	g.sanitize(&feedback)
	return feedback, nil
}

func (g *OpenAIGenerator) sanitize(feedback *Feedback) {
	for i, s := range feedback.Strengths {
		feedback.Strengths[i] = g.sanitizer.Sanitize(s)
	}
	for i, s := range feedback.AreasForImprovement {
		feedback.AreasForImprovement[i] = g.sanitizer.Sanitize(s)
	}
	for i, s := range feedback.Suggestions {
		feedback.Suggestions[i] = g.sanitizer.Sanitize(s)
	}
	feedback.Encouragement = g.sanitizer.Sanitize(feedback.Encouragement)
}

func feedbackSystemPrompt(opts Options) string {
	prompt := "You are a supportive instructor writing feedback for a graded submission. " +
		"Respond with a JSON object containing strengths, areas_for_improvement, and " +
		"suggestions as arrays of short strings."
	if opts.IncludeEncouragement {
		prompt += " Include an encouragement field with one uplifting sentence."
	}
	if opts.Tone != "" {
		prompt += " Use a " + opts.Tone + " tone."
	}
	return prompt
}

func buildFeedbackPrompt(in Input) string {
	builder := strings.Builder{}
	builder.WriteString("## Submission Type\n")
	builder.WriteString(in.SubmissionType)
	builder.WriteString(fmt.Sprintf("\n\n## Score\n%.1f/100\n", in.OverallScore))
	if in.ReviewReason != "" {
		builder.WriteString("\n## Review Note\n")
		builder.WriteString(in.ReviewReason)
		builder.WriteString("\n")
	}
	if len(in.Notes) > 0 {
		builder.WriteString("\n## Grader Notes\n")
		for _, note := range in.Notes {
			builder.WriteString("- ")
			builder.WriteString(note)
			builder.WriteString("\n")
		}
	}
	builder.WriteString("\n## Submission\n")
	builder.WriteString(in.Content)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}
