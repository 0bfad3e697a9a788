package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
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
	"github.com/scrollu/portal-api/pkg/feedback"
	"github.com/scrollu/portal-api/pkg/plagiarism"
	"github.com/scrollu/portal-api/pkg/transcript"
)

// ErrSubmissionNotFound indicates the submission was not located.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrAssignmentNotFound indicates the parent assignment was not located.
var ErrAssignmentNotFound = errors.New("assignment not found")

// ErrInvalidRubric indicates the supplied rubric cannot produce a grade.
var ErrInvalidRubric = errors.New("invalid rubric")

// ErrGradingInProgress indicates a concurrent pass already holds the
// submission's grading lock.
var ErrGradingInProgress = errors.New("grading already in progress for submission")

// ErrSubmissionNotGraded indicates no grading pass has completed yet.
var ErrSubmissionNotGraded = errors.New("submission not graded")

// upstreamUnavailableReason marks grades degraded by inference or
// plagiarism collaborator failure.
const upstreamUnavailableReason = "upstream unavailable"

// heuristicReviewReason marks grades whose type came from content
// inspection rather than the assignment definition.
const heuristicReviewReason = "Type inferred from content"

// GradingConfig tunes the orchestration of a grading pass.
type GradingConfig struct {
	// PassTimeout bounds one full pass including all collaborator calls.
	PassTimeout time.Duration
	// LockWait bounds how long a pass waits on a submission already being graded.
	LockWait              time.Duration
	FeedbackEncouragement bool
}

// GradingService runs automated grading passes.
type GradingService interface {
	GradeSubmission(ctx context.Context, submissionID uint, rubric models.Rubric, grader ActivityActor) (dto.GradeResponse, error)
	GetGrade(ctx context.Context, submissionID uint) (dto.GradeResponse, error)
	ListSubmissions(ctx context.Context, filter repository.SubmissionFilter) ([]dto.SubmissionSummary, error)
}

type gradingService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	history     repository.GradeHistoryRepository
	strategies  *grading.Registry
	detector    plagiarism.Detector
	feedback    feedback.Generator
	transcript  transcript.Updater
	activity    ActivityRecorder
	events      *GradingEventBus
	locks       *SubmissionLocks
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	cfg         GradingConfig
	now         func() time.Time
}

// NewGradingService constructs the automated grading orchestrator. The
// detector, feedback generator, transcript updater and activity recorder
// are optional; missing collaborators degrade the corresponding step.
func NewGradingService(
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	history repository.GradeHistoryRepository,
	strategies *grading.Registry,
	detector plagiarism.Detector,
	generator feedback.Generator,
	updater transcript.Updater,
	activity ActivityRecorder,
	events *GradingEventBus,
	locks *SubmissionLocks,
	logger zerolog.Logger,
	cfg GradingConfig,
) GradingService {
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 45 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if locks == nil {
		locks = NewSubmissionLocks()
	}

	return &gradingService{
		submissions: submissions,
		assignments: assignments,
		history:     history,
		strategies:  strategies,
		detector:    detector,
		feedback:    generator,
		transcript:  updater,
		activity:    activity,
		events:      events,
		locks:       locks,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "grading_service").Logger(),
		cfg:         cfg,
		now:         time.Now,
	}
}

// GradeSubmission runs one full grading pass: classify, grade, screen for
// plagiarism, apply the penalty policy, persist, and propagate. A re-grade
// always starts from a fresh strategy run, never from a previously
// penalized stored score.
func (s *gradingService) GradeSubmission(ctx context.Context, submissionID uint, rubric models.Rubric, grader ActivityActor) (dto.GradeResponse, error) {
	tracer := otel.Tracer("github.com/scrollu/portal-api/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.pass")
	span.SetAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(grader.ID)),
	)
	defer span.End()

	if err := rubric.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_rubric")
		return dto.GradeResponse{}, fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}

	release, err := s.locks.acquire(ctx, submissionID, s.cfg.LockWait)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock_unavailable")
		return dto.GradeResponse{}, err
	}
	defer release()

	passCtx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	submission, err := s.submissions.GetByID(passCtx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.GradeResponse{}, ErrSubmissionNotFound
		}
		span.RecordError(err)
		return dto.GradeResponse{}, err
	}

	assignment := submission.Assignment
	if assignment.ID == 0 {
		assignment, err = s.assignments.GetByID(passCtx, submission.AssignmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				span.SetStatus(codes.Error, "assignment_not_found")
				return dto.GradeResponse{}, ErrAssignmentNotFound
			}
			span.RecordError(err)
			return dto.GradeResponse{}, err
		}
	}

	classification := grading.Classify(assignment.Type, submission.Content)
	span.SetAttributes(
		attribute.String("grading.type", string(classification.Type)),
		attribute.Bool("grading.heuristic", classification.Heuristic),
	)

	input := grading.Input{
		SubmissionID: submissionID,
		Content:      s.contentFor(classification.Type, submission),
		Language:     submission.ContentType,
		AnswerKey:    json.RawMessage(assignment.AnswerKey),
	}

	degraded := false
	raw, gradeErr := s.strategies.Grade(passCtx, classification.Type, input, rubric)
	if gradeErr != nil {
		if isGradingValidationError(gradeErr) {
			span.RecordError(gradeErr)
			span.SetStatus(codes.Error, "validation_failed")
			return dto.GradeResponse{}, gradeErr
		}

		// Inference failure or timeout: degrade to human review instead of
		// failing the pass.
		s.logger.Warn().Err(gradeErr).Uint("submission_id", submissionID).Msg("strategy run degraded")
		degraded = true
		raw = grading.Result{
			SubmissionID:        submissionID,
			Type:                classification.Type,
			Confidence:          0,
			RequiresHumanReview: true,
			ReviewReason:        upstreamUnavailableReason,
		}
	}

	flagged := false
	if contentBearing(classification.Type) {
		report, checkErr := s.checkPlagiarism(passCtx, submission, assignment)
		if checkErr != nil {
			s.logger.Warn().Err(checkErr).Uint("submission_id", submissionID).Msg("plagiarism check degraded")
			degraded = true
		} else {
			flagged = report.Flagged
		}
	}

	final := grading.ApplyPenalty(raw, flagged)

	if degraded {
		final.Confidence = 0
		final.RequiresHumanReview = true
		if final.ReviewReason == "" {
			final.ReviewReason = upstreamUnavailableReason
		}
	}

	if classification.Heuristic && !final.RequiresHumanReview {
		final.RequiresHumanReview = true
		final.ReviewReason = heuristicReviewReason
	}

	if final.RequiresHumanReview {
		observability.GradingReviews().WithLabelValues(final.ReviewReason).Inc()
	}

	passID := uuid.NewString()
	detail := buildGradeDetail(passID, final, false, "")
	response, err := s.persistPass(ctx, &submission, final, detail, grader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence_failed")
		return dto.GradeResponse{}, err
	}

	outcome := "graded"
	if degraded {
		outcome = "degraded"
	}
	observability.GradingPasses().WithLabelValues(string(final.Type), outcome).Inc()
	if final.PlagiarismFlagged {
		span.SetAttributes(attribute.Bool("grading.plagiarism_flagged", true))
	}
	span.SetAttributes(attribute.Float64("grading.score", final.OverallScore))

	s.propagate(context.WithoutCancel(ctx), submission, final, detail, grader)

	return response, nil
}

// GetGrade returns the persisted grade for a submission.
func (s *gradingService) GetGrade(ctx context.Context, submissionID uint) (dto.GradeResponse, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradeResponse{}, ErrSubmissionNotFound
		}
		return dto.GradeResponse{}, err
	}

	if !submission.IsGraded() {
		return dto.GradeResponse{}, ErrSubmissionNotGraded
	}

	detail, err := models.GradeDetailFromJSON(submission.GradeDetail)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	return dto.NewGradeResponse(submission, detail), nil
}

// ListSubmissions returns submissions matching the filter, newest first.
// It backs the review queue for graders.
func (s *gradingService) ListSubmissions(ctx context.Context, filter repository.SubmissionFilter) ([]dto.SubmissionSummary, error) {
	submissions, err := s.submissions.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]dto.SubmissionSummary, 0, len(submissions))
	for _, submission := range submissions {
		summaries = append(summaries, dto.NewSubmissionSummary(submission))
	}
	return summaries, nil
}

// persistPass writes the grade through the shared update contract and
// archives the pass. Persistence runs on a context detached from the pass
// timeout so a degraded grade still lands.
func (s *gradingService) persistPass(ctx context.Context, submission *models.Submission, final grading.Result, detail models.GradeDetail, grader ActivityActor) (dto.GradeResponse, error) {
	detailJSON, err := detail.ToJSON()
	if err != nil {
		return dto.GradeResponse{}, err
	}

	derived := grading.DeriveMetrics(final.OverallScore)
	gradedAt := s.now()

	persistCtx := context.WithoutCancel(ctx)
	update := repository.GradeUpdate{
		Score:          final.OverallScore,
		Detail:         detailJSON,
		AlignmentScore: derived.AlignmentScore,
		ImpactScore:    derived.ImpactScore,
		GradedAt:       gradedAt,
		GradedBy:       grader.ID,
	}
	if err := s.submissions.ApplyGrade(persistCtx, submission.ID, update); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradeResponse{}, ErrSubmissionNotFound
		}
		return dto.GradeResponse{}, fmt.Errorf("persist grade: %w", err)
	}

	historyEntry := models.GradeHistory{
		SubmissionID: submission.ID,
		PassID:       detail.PassID,
		Score:        final.OverallScore,
		Detail:       detailJSON,
		GradedBy:     grader.ID,
		GradedAt:     gradedAt,
	}
	if err := s.history.Create(persistCtx, &historyEntry); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to archive grading pass")
	}

	submission.Status = models.SubmissionStatusGraded
	score := final.OverallScore
	submission.Score = &score
	submission.GradeDetail = detailJSON
	submission.AlignmentScore = &derived.AlignmentScore
	submission.ImpactScore = &derived.ImpactScore
	submission.GradedAt = &gradedAt
	gradedBy := grader.ID
	submission.GradedBy = &gradedBy

	return dto.NewGradeResponse(*submission, detail), nil
}

// propagate notifies downstream collaborators after persistence. Failures
// here are logged, never surfaced: the grade already landed.
func (s *gradingService) propagate(ctx context.Context, submission models.Submission, final grading.Result, detail models.GradeDetail, grader ActivityActor) {
	if s.feedback != nil {
		_, err := s.feedback.Generate(ctx, feedback.Input{
			SubmissionType: string(final.Type),
			Content:        submission.Content,
			OverallScore:   final.OverallScore,
			ReviewReason:   final.ReviewReason,
			Notes:          final.Notes,
		}, feedback.Options{IncludeEncouragement: s.cfg.FeedbackEncouragement})
		if err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("feedback generation failed")
		}
	}

	if s.transcript != nil {
		err := s.transcript.UpdateGrade(ctx, transcript.GradeUpdate{
			UserID:       submission.StudentID,
			AssignmentID: submission.AssignmentID,
			Score:        final.OverallScore,
			PassID:       detail.PassID,
			GradedAt:     *submission.GradedAt,
		})
		if err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("transcript update failed")
		}
	}

	if s.activity != nil {
		submissionID := submission.ID
		_, _ = s.activity.Record(ctx, ActivityEntry{
			ActorID:    grader.ID,
			ActorRole:  grader.Role,
			Action:     "submission.graded",
			EntityType: "submission",
			EntityID:   &submissionID,
			Metadata: map[string]interface{}{
				"submission_id": submission.ID,
				"student_id":    submission.StudentID,
				"assignment_id": submission.AssignmentID,
				"score":         final.OverallScore,
				"pass_id":       detail.PassID,
			},
		})
	}

	if s.events != nil {
		score := final.OverallScore
		s.events.Publish(GradingEvent{
			SubmissionID: submission.ID,
			Phase:        PhaseGraded,
			Success:      true,
			Score:        &score,
		})
	}
}

func (s *gradingService) contentFor(t grading.SubmissionType, submission models.Submission) string {
	// Code and quiz payloads must survive verbatim; prose is stripped of
	// markup before it reaches the inference backend.
	if t == grading.TypeEssay {
		return s.sanitizer.Sanitize(submission.Content)
	}
	return submission.Content
}

func (s *gradingService) checkPlagiarism(ctx context.Context, submission models.Submission, assignment models.Assignment) (plagiarism.Report, error) {
	if s.detector == nil {
		return plagiarism.Report{}, nil
	}

	return s.detector.Check(ctx, plagiarism.CheckRequest{
		SubmissionID: submission.ID,
		StudentID:    submission.StudentID,
		CourseID:     assignment.CourseID,
		AssignmentID: assignment.ID,
		Content:      submission.Content,
	})
}

func contentBearing(t grading.SubmissionType) bool {
	return t == grading.TypeEssay || t == grading.TypeCode
}

func isGradingValidationError(err error) bool {
	return errors.Is(err, grading.ErrUnsupportedType) ||
		errors.Is(err, grading.ErrMalformedAnswerKey) ||
		errors.Is(err, grading.ErrMalformedAnswers)
}

func buildGradeDetail(passID string, final grading.Result, manual bool, note string) models.GradeDetail {
	return models.GradeDetail{
		Version:             models.GradeDetailVersion,
		PassID:              passID,
		Type:                string(final.Type),
		OverallScore:        final.OverallScore,
		Confidence:          final.Confidence,
		RequiresHumanReview: final.RequiresHumanReview,
		ReviewReason:        final.ReviewReason,
		PlagiarismFlagged:   final.PlagiarismFlagged,
		ManualOverride:      manual,
		ProcessingCost:      final.ProcessingCost,
		Code:                final.Code,
		Essay:               final.Essay,
		Math:                final.Math,
		Quiz:                final.Quiz,
		Note:                note,
	}
}
