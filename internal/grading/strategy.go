package grading

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/pkg/ai"
	sandbox "github.com/scrollu/portal-api/pkg/docker"
)

var (
	strategyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Subsystem: "grading",
		Name:      "strategy_duration_seconds",
		Help:      "Duration of strategy grading runs",
	}, []string{"type"})

	strategyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "grading",
		Name:      "strategy_failures_total",
		Help:      "Number of strategy grading runs that returned an error",
	}, []string{"type"})
)

// Strategy turns (content, rubric) into a raw grade for one submission type.
type Strategy interface {
	Type() SubmissionType
	Grade(ctx context.Context, in Input, rubric models.Rubric) (Result, error)
}

// Config tunes the probabilistic strategies.
type Config struct {
	// LowConfidenceThreshold marks grades below it for human review.
	LowConfidenceThreshold float64
	// ExecutionTimeout bounds the optional sandbox run for code submissions.
	ExecutionTimeout time.Duration
	MemoryLimitMB    int64
	CPUShares        int64
}

// Registry holds one strategy per submission type, selected once by the
// classifier and never re-inspected downstream.
type Registry struct {
	strategies map[SubmissionType]Strategy
}

// NewRegistry installs the built-in strategies. The evaluator may be nil, in
// which case the probabilistic strategies fail with ErrEvaluatorUnavailable
// and the caller degrades to human review. The executor may be nil to skip
// sandboxed execution of code submissions.
func NewRegistry(evaluator ai.Evaluator, executor sandbox.Executor, logger zerolog.Logger, cfg Config) *Registry {
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = 0.7
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 10 * time.Second
	}

	strategyLogger := logger.With().Str("component", "grading_strategy").Logger()

	return &Registry{
		strategies: map[SubmissionType]Strategy{
			TypeQuiz:  quizStrategy{},
			TypeEssay: essayStrategy{evaluator: evaluator, cfg: cfg},
			TypeMath:  mathStrategy{evaluator: evaluator, cfg: cfg},
			TypeCode: codeStrategy{
				evaluator: evaluator,
				executor:  executor,
				logger:    strategyLogger,
				cfg:       cfg,
			},
		},
	}
}

// For returns the strategy registered for the given type.
func (r *Registry) For(t SubmissionType) (Strategy, error) {
	strategy, ok := r.strategies[t]
	if !ok {
		return nil, ErrUnsupportedType
	}
	return strategy, nil
}

// Grade dispatches to the registered strategy and records metrics.
func (r *Registry) Grade(ctx context.Context, t SubmissionType, in Input, rubric models.Rubric) (Result, error) {
	strategy, err := r.For(t)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := strategy.Grade(ctx, in, rubric)
	strategyDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
	if err != nil {
		strategyFailures.WithLabelValues(string(t)).Inc()
		return Result{}, err
	}

	result.Normalize()
	return result, nil
}
