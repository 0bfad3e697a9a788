package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/scrollu/portal-api/internal/dto"
	"github.com/scrollu/portal-api/internal/grading"
	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/internal/observability"
	"github.com/scrollu/portal-api/internal/repository"
	"github.com/scrollu/portal-api/pkg/transcript"
)

// ErrScoreExceedsMax indicates an override score surpasses the assignment max.
var ErrScoreExceedsMax = errors.New("score exceeds assignment max")

// ManualGradingService encapsulates the faculty override workflow. An
// override bypasses classification, strategies and the plagiarism penalty
// entirely and records the supplied score as authoritative.
type ManualGradingService interface {
	Override(ctx context.Context, submissionID uint, payload dto.ManualOverrideRequest, actor ActivityActor) (dto.GradeResponse, error)
}

type manualGradingService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	history     repository.GradeHistoryRepository
	transcript  transcript.Updater
	activity    ActivityRecorder
	validator   *validator.Validate
	locks       *SubmissionLocks
	lockWait    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewManualGradingService constructs the override service. The locks must
// be the same registry the automated pipeline uses so overrides and passes
// for one submission never interleave.
func NewManualGradingService(
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	history repository.GradeHistoryRepository,
	updater transcript.Updater,
	activity ActivityRecorder,
	validate *validator.Validate,
	locks *SubmissionLocks,
	lockWait time.Duration,
	logger zerolog.Logger,
) ManualGradingService {
	if locks == nil {
		locks = NewSubmissionLocks()
	}
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}

	return &manualGradingService{
		submissions: submissions,
		assignments: assignments,
		history:     history,
		transcript:  updater,
		activity:    activity,
		validator:   validate,
		locks:       locks,
		lockWait:    lockWait,
		logger:      logger.With().Str("component", "manual_grading_service").Logger(),
		now:         time.Now,
	}
}

func (s *manualGradingService) Override(ctx context.Context, submissionID uint, payload dto.ManualOverrideRequest, actor ActivityActor) (dto.GradeResponse, error) {
	tracer := otel.Tracer("github.com/scrollu/portal-api/internal/service/manual_grading")
	ctx, span := tracer.Start(ctx, "grading.override")
	span.SetAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradeResponse{}, err
	}

	release, err := s.locks.acquire(ctx, submissionID, s.lockWait)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock_unavailable")
		return dto.GradeResponse{}, err
	}
	defer release()

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.GradeResponse{}, ErrSubmissionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.GradeResponse{}, err
	}

	assignment := submission.Assignment
	if assignment.ID == 0 {
		assignment, err = s.assignments.GetByID(ctx, submission.AssignmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				span.SetStatus(codes.Error, "assignment_not_found")
				return dto.GradeResponse{}, ErrAssignmentNotFound
			}
			span.RecordError(err)
			return dto.GradeResponse{}, err
		}
	}

	maxScore := assignment.MaxScore
	if maxScore <= 0 {
		maxScore = 100
	}
	if payload.Score > maxScore+1e-9 {
		span.SetStatus(codes.Error, "score_exceeds_max")
		return dto.GradeResponse{}, ErrScoreExceedsMax
	}

	note := strings.TrimSpace(payload.Feedback)

	// Re-submitting the identical override by the same grader is a no-op.
	if submission.IsGraded() && submission.Score != nil && math.Abs(*submission.Score-payload.Score) < 1e-6 {
		if existing, parseErr := models.GradeDetailFromJSON(submission.GradeDetail); parseErr == nil &&
			existing.ManualOverride && existing.Note == note &&
			submission.GradedBy != nil && *submission.GradedBy == actor.ID {
			span.SetAttributes(attribute.Bool("grading.idempotent", true))
			return dto.NewGradeResponse(submission, existing), nil
		}
	}

	detail := models.GradeDetail{
		Version:        models.GradeDetailVersion,
		PassID:         uuid.NewString(),
		Type:           string(grading.Classify(assignment.Type, submission.Content).Type),
		OverallScore:   payload.Score,
		Confidence:     1.0,
		ManualOverride: true,
		Note:           note,
	}
	detailJSON, err := detail.ToJSON()
	if err != nil {
		span.RecordError(err)
		return dto.GradeResponse{}, err
	}

	derived := grading.DeriveMetrics(payload.Score)
	gradedAt := s.now()
	update := repository.GradeUpdate{
		Score:          payload.Score,
		Detail:         detailJSON,
		AlignmentScore: derived.AlignmentScore,
		ImpactScore:    derived.ImpactScore,
		GradedAt:       gradedAt,
		GradedBy:       actor.ID,
	}
	if err := s.submissions.ApplyGrade(ctx, submissionID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_update_failed")
		return dto.GradeResponse{}, err
	}

	historyEntry := models.GradeHistory{
		SubmissionID: submissionID,
		PassID:       detail.PassID,
		Score:        payload.Score,
		Detail:       detailJSON,
		GradedBy:     actor.ID,
		GradedAt:     gradedAt,
	}
	if err := s.history.Create(ctx, &historyEntry); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("failed to archive override")
	}

	observability.GradingPasses().WithLabelValues(detail.Type, "override").Inc()

	postCtx := context.WithoutCancel(ctx)
	if s.transcript != nil {
		if err := s.transcript.UpdateGrade(postCtx, transcript.GradeUpdate{
			UserID:       submission.StudentID,
			AssignmentID: submission.AssignmentID,
			Score:        payload.Score,
			PassID:       detail.PassID,
			GradedAt:     gradedAt,
		}); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("transcript update failed")
		}
	}

	if s.activity != nil {
		id := submissionID
		_, _ = s.activity.Record(postCtx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "submission.grade_overridden",
			EntityType: "submission",
			EntityID:   &id,
			Metadata: map[string]interface{}{
				"submission_id": submissionID,
				"student_id":    submission.StudentID,
				"assignment_id": submission.AssignmentID,
				"score":         payload.Score,
				"pass_id":       detail.PassID,
			},
		})
	}

	submission.Status = models.SubmissionStatusGraded
	score := payload.Score
	submission.Score = &score
	submission.GradeDetail = detailJSON
	submission.AlignmentScore = &derived.AlignmentScore
	submission.ImpactScore = &derived.ImpactScore
	submission.GradedAt = &gradedAt
	gradedBy := actor.ID
	submission.GradedBy = &gradedBy

	s.logger.Info().
		Uint("submission_id", submissionID).
		Float64("score", payload.Score).
		Uint("actor_id", actor.ID).
		Msg("manual override recorded")

	return dto.NewGradeResponse(submission, detail), nil
}
