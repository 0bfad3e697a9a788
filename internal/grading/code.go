package grading

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/pkg/ai"
	sandbox "github.com/scrollu/portal-api/pkg/docker"
)

type codeLanguage struct {
	Image    string
	FileName string
	Command  []string
}

var codeLanguages = map[string]codeLanguage{
	"python": {
		Image:    "python:3.11-alpine",
		FileName: "main.py",
		Command:  []string{"python", "main.py"},
	},
	"javascript": {
		Image:    "node:20-alpine",
		FileName: "main.js",
		Command:  []string{"node", "main.js"},
	},
	"go": {
		Image:    "golang:1.22-alpine",
		FileName: "main.go",
		Command:  []string{"sh", "-c", "go run main.go"},
	},
}

// codeStrategy grades code submissions. When a sandbox executor is
// configured and the language is known, the program is run first so the
// evaluator sees real output; execution failures fall through to a purely
// static review rather than failing the grading pass.
type codeStrategy struct {
	evaluator ai.Evaluator
	executor  sandbox.Executor
	logger    zerolog.Logger
	cfg       Config
}

func (codeStrategy) Type() SubmissionType { return TypeCode }

func (s codeStrategy) Grade(ctx context.Context, in Input, rubric models.Rubric) (Result, error) {
	in.Content = strings.TrimSpace(in.Content)

	output := s.runSandboxed(ctx, in)

	if s.evaluator == nil {
		return Result{}, ErrEvaluatorUnavailable
	}

	criteria := make([]ai.Criterion, 0, len(rubric.Criteria))
	weights := rubric.NormalizedWeights()
	for _, c := range rubric.Criteria {
		criteria = append(criteria, ai.Criterion{Key: c.Key, Description: c.Description, Weight: weights[c.Key]})
	}

	evaluation, err := s.evaluator.Evaluate(ctx, ai.EvaluationInput{
		SubmissionType: string(TypeCode),
		Content:        in.Content,
		Language:       in.Language,
		ProgramOutput:  output,
		Criteria:       criteria,
	})
	if err != nil {
		return Result{}, err
	}

	overall := evaluation.OverallScore
	if overall <= 0 && len(evaluation.SubScores) > 0 {
		overall = weightedOverall(evaluation.SubScores, weights)
	}

	result := Result{
		SubmissionID:   in.SubmissionID,
		Type:           TypeCode,
		OverallScore:   clampScore(overall),
		Confidence:     clampConfidence(evaluation.Confidence),
		ProcessingCost: evaluation.TokensUsed,
		Notes:          evaluation.Notes,
		Code: &models.CodeBreakdown{
			Correctness: subScore(evaluation, "correctness", overall),
			Style:       subScore(evaluation, "style", overall),
			Efficiency:  subScore(evaluation, "efficiency", overall),
			LineNotes:   evaluation.Notes,
		},
	}

	if result.Confidence < s.cfg.LowConfidenceThreshold {
		result.RequiresHumanReview = true
		result.ReviewReason = "Low confidence grade"
	}

	return result, nil
}

func (s codeStrategy) runSandboxed(ctx context.Context, in Input) string {
	if s.executor == nil {
		return ""
	}

	language := strings.ToLower(strings.TrimSpace(in.Language))
	langCfg, ok := codeLanguages[language]
	if !ok {
		return ""
	}

	workspace, err := os.MkdirTemp("", "grading-")
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to create sandbox workspace")
		return ""
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, langCfg.FileName), []byte(in.Content), 0600); err != nil {
		s.logger.Warn().Err(err).Msg("failed to stage submission source")
		return ""
	}

	result, err := s.executor.Run(ctx, sandbox.ExecutionRequest{
		Image:           langCfg.Image,
		Cmd:             langCfg.Command,
		Timeout:         s.cfg.ExecutionTimeout,
		Workspace:       workspace,
		WorkingDir:      "/workspace",
		MemoryLimitMB:   s.cfg.MemoryLimitMB,
		CPUShares:       s.cfg.CPUShares,
		NetworkDisabled: true,
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", in.SubmissionID).Msg("sandbox execution failed, grading statically")
		return ""
	}

	return result.Stdout
}
