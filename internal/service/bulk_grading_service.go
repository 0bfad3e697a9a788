package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/scrollu/portal-api/internal/dto"
	"github.com/scrollu/portal-api/internal/observability"
)

// BulkGradingService fans one rubric across a batch of submissions.
type BulkGradingService interface {
	GradeBatch(ctx context.Context, payload dto.BulkGradeRequest, actor ActivityActor) (dto.BulkGradeResponse, error)
}

type bulkGradingService struct {
	grading   GradingService
	events    *GradingEventBus
	validator *validator.Validate
	workers   int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewBulkGradingService constructs the batch orchestrator. Workers bounds
// how many submissions grade concurrently within one batch.
func NewBulkGradingService(grading GradingService, events *GradingEventBus, validate *validator.Validate, workers int, logger zerolog.Logger) BulkGradingService {
	if workers <= 0 {
		workers = 4
	}

	return &bulkGradingService{
		grading:   grading,
		events:    events,
		validator: validate,
		workers:   workers,
		logger:    logger.With().Str("component", "bulk_grading_service").Logger(),
		now:       time.Now,
	}
}

// GradeBatch grades every submission in the batch and reports one outcome
// per input id, in input order. A failed submission never aborts the rest;
// only batch cancellation stops work, and submissions not yet started are
// reported as cancelled rather than silently dropped.
func (s *bulkGradingService) GradeBatch(ctx context.Context, payload dto.BulkGradeRequest, actor ActivityActor) (dto.BulkGradeResponse, error) {
	tracer := otel.Tracer("github.com/scrollu/portal-api/internal/service/bulk_grading")
	ctx, span := tracer.Start(ctx, "grading.bulk")
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.BulkGradeResponse{}, err
	}
	if err := payload.Rubric.Validate(); err != nil {
		return dto.BulkGradeResponse{}, err
	}

	batchID := uuid.NewString()
	span.SetAttributes(
		attribute.String("grading.batch_id", batchID),
		attribute.Int("grading.batch_size", len(payload.SubmissionIDs)),
	)

	outcomes := make([]dto.BulkGradeOutcome, len(payload.SubmissionIDs))

	// Plain errgroup rather than WithContext: a failed item must not cancel
	// its siblings.
	var group errgroup.Group
	group.SetLimit(s.workers)

	for i, id := range payload.SubmissionIDs {
		i, id := i, id

		if err := ctx.Err(); err != nil {
			outcomes[i] = dto.BulkGradeOutcome{SubmissionID: id, Error: "cancelled"}
			s.publish(batchID, id, PhaseCancelled, false, nil, "cancelled")
			continue
		}

		group.Go(func() error {
			s.publish(batchID, id, PhaseStarted, true, nil, "")

			result, err := s.grading.GradeSubmission(ctx, id, payload.Rubric, actor)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("batch_id", batchID).
					Uint("submission_id", id).
					Msg("bulk item failed")
				outcomes[i] = dto.BulkGradeOutcome{SubmissionID: id, Error: err.Error()}
				s.publish(batchID, id, PhaseFailed, false, nil, err.Error())
				return nil
			}

			outcomes[i] = dto.BulkGradeOutcome{SubmissionID: id, Success: true, Result: &result}
			s.publish(batchID, id, PhaseGraded, true, &result.OverallScore, "")
			return nil
		})
	}

	// Worker funcs always return nil; Wait only joins them.
	_ = group.Wait()

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}

	outcomeLabel := "complete"
	if succeeded < len(outcomes) {
		outcomeLabel = "partial"
	}
	observability.BulkBatchSize().WithLabelValues(outcomeLabel).Observe(float64(len(outcomes)))

	span.SetAttributes(attribute.Int("grading.batch_succeeded", succeeded))
	s.logger.Info().
		Str("batch_id", batchID).
		Int("total", len(outcomes)).
		Int("succeeded", succeeded).
		Msg("bulk grading batch finished")

	return dto.BulkGradeResponse{
		BatchID:   batchID,
		Total:     len(outcomes),
		Succeeded: succeeded,
		Outcomes:  outcomes,
	}, nil
}

func (s *bulkGradingService) publish(batchID string, submissionID uint, phase string, success bool, score *float64, errMsg string) {
	if s.events == nil {
		return
	}
	s.events.Publish(GradingEvent{
		BatchID:      batchID,
		SubmissionID: submissionID,
		Phase:        phase,
		Success:      success,
		Score:        score,
		Error:        errMsg,
		Timestamp:    s.now(),
	})
}
