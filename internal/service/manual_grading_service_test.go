package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/scrollu/portal-api/internal/dto"
	"github.com/scrollu/portal-api/internal/models"
)

func newTestManualService(submissions *fakeSubmissionRepo, assignments *fakeAssignmentRepo, history *fakeHistoryRepo) ManualGradingService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewManualGradingService(submissions, assignments, history, nil, nil, validate, nil, 0, testLogger())
}

func TestManualOverrideRecordsAuthoritativeGrade(t *testing.T) {
	submission, assignment := essayFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	history := &fakeHistoryRepo{}

	svc := newTestManualService(submissions, assignments, history)

	response, err := svc.Override(context.Background(), submission.ID, dto.ManualOverrideRequest{Score: 88, Feedback: "Strong argument"}, ActivityActor{ID: 42, Role: "teacher"})
	require.NoError(t, err)
	require.InDelta(t, 88.0, response.OverallScore, 1e-9)
	require.Equal(t, 1.0, response.Confidence)
	require.False(t, response.RequiresHumanReview)
	require.True(t, response.Detail.ManualOverride)
	require.Equal(t, "Strong argument", response.Detail.Note)
	require.False(t, response.PlagiarismFlagged)
	require.Equal(t, models.SubmissionStatusGraded, response.Status)

	// Derived metrics follow the same policy as the automated path.
	require.InDelta(t, 0.88, response.AlignmentScore, 1e-9)
	require.InDelta(t, 0.704, response.ImpactScore, 1e-9)

	persisted, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.GradedBy)
	require.Equal(t, uint(42), *persisted.GradedBy)
	require.Len(t, history.entries, 1)
}

func TestManualOverrideScoreExceedsMax(t *testing.T) {
	submission, assignment := essayFixture()
	assignment.MaxScore = 50
	submission.Assignment = assignment
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	svc := newTestManualService(submissions, assignments, &fakeHistoryRepo{})

	_, err := svc.Override(context.Background(), submission.ID, dto.ManualOverrideRequest{Score: 80}, ActivityActor{ID: 42})
	require.ErrorIs(t, err, ErrScoreExceedsMax)
	require.Equal(t, 0, submissions.applyCalls)
}

func TestManualOverrideIdempotentRepeat(t *testing.T) {
	submission, assignment := essayFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	history := &fakeHistoryRepo{}

	svc := newTestManualService(submissions, assignments, history)
	actor := ActivityActor{ID: 42, Role: "teacher"}

	first, err := svc.Override(context.Background(), submission.ID, dto.ManualOverrideRequest{Score: 75, Feedback: "ok"}, actor)
	require.NoError(t, err)

	second, err := svc.Override(context.Background(), submission.ID, dto.ManualOverrideRequest{Score: 75, Feedback: "ok"}, actor)
	require.NoError(t, err)
	require.Equal(t, first.PassID, second.PassID)
	require.Equal(t, 1, submissions.applyCalls)
	require.Len(t, history.entries, 1)
}

func TestManualOverrideSubmissionNotFound(t *testing.T) {
	svc := newTestManualService(newFakeSubmissionRepo(), &fakeAssignmentRepo{}, &fakeHistoryRepo{})

	_, err := svc.Override(context.Background(), 404, dto.ManualOverrideRequest{Score: 50}, ActivityActor{ID: 42})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestManualOverrideReplacesAutomatedGrade(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	history := &fakeHistoryRepo{}

	gradingSvc := newTestGradingService(submissions, assignments, history, nil, nil)
	_, err := gradingSvc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.NoError(t, err)

	manualSvc := newTestManualService(submissions, assignments, history)
	response, err := manualSvc.Override(context.Background(), submission.ID, dto.ManualOverrideRequest{Score: 95, Feedback: "regraded by hand"}, ActivityActor{ID: 42})
	require.NoError(t, err)
	require.InDelta(t, 95.0, response.OverallScore, 1e-9)
	require.True(t, response.Detail.ManualOverride)

	// Both passes are archived.
	require.Len(t, history.entries, 2)
}
