package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/scrollu/portal-api/internal/dto"
	"github.com/scrollu/portal-api/internal/models"
)

func TestGradeBatchIsolatesFailures(t *testing.T) {
	subA, assignment := quizFixture()
	subB := subA
	subB.ID = 2
	subB.Content = "not json" // hard validation failure
	subC := subA
	subC.ID = 3

	submissions := newFakeSubmissionRepo(subA, subB, subC)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	history := &fakeHistoryRepo{}

	gradingSvc := newTestGradingService(submissions, assignments, history, nil, nil)
	validate := validator.New(validator.WithRequiredStructEnabled())
	bulk := NewBulkGradingService(gradingSvc, nil, validate, 2, testLogger())

	response, err := bulk.GradeBatch(context.Background(), dto.BulkGradeRequest{
		SubmissionIDs: []uint{subA.ID, subB.ID, subC.ID},
		Rubric:        testRubric(),
	}, ActivityActor{ID: 99, Role: "teacher"})
	require.NoError(t, err)
	require.NotEmpty(t, response.BatchID)
	require.Equal(t, 3, response.Total)
	require.Equal(t, 2, response.Succeeded)
	require.Len(t, response.Outcomes, 3)

	// Outcomes stay in input order.
	require.Equal(t, subA.ID, response.Outcomes[0].SubmissionID)
	require.Equal(t, subB.ID, response.Outcomes[1].SubmissionID)
	require.Equal(t, subC.ID, response.Outcomes[2].SubmissionID)

	require.True(t, response.Outcomes[0].Success)
	require.NotNil(t, response.Outcomes[0].Result)
	require.InDelta(t, 70.0, response.Outcomes[0].Result.OverallScore, 1e-9)

	require.False(t, response.Outcomes[1].Success)
	require.Nil(t, response.Outcomes[1].Result)
	require.NotEmpty(t, response.Outcomes[1].Error)

	require.True(t, response.Outcomes[2].Success)

	// Both successful passes persisted and archived.
	require.Len(t, history.entries, 2)
}

func TestGradeBatchDuplicateIDsAreSerialized(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	gradingSvc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, nil, nil)
	validate := validator.New(validator.WithRequiredStructEnabled())
	bulk := NewBulkGradingService(gradingSvc, nil, validate, 4, testLogger())

	response, err := bulk.GradeBatch(context.Background(), dto.BulkGradeRequest{
		SubmissionIDs: []uint{submission.ID, submission.ID, submission.ID},
		Rubric:        testRubric(),
	}, ActivityActor{ID: 99})
	require.NoError(t, err)

	// The per-submission lock serializes the duplicates; each pass runs to
	// completion rather than erroring.
	for _, outcome := range response.Outcomes {
		require.True(t, outcome.Success, "outcome error: %s", outcome.Error)
	}
}

func TestGradeBatchRejectsEmptyBatch(t *testing.T) {
	gradingSvc := newTestGradingService(newFakeSubmissionRepo(), &fakeAssignmentRepo{}, &fakeHistoryRepo{}, nil, nil)
	validate := validator.New(validator.WithRequiredStructEnabled())
	bulk := NewBulkGradingService(gradingSvc, nil, validate, 2, testLogger())

	_, err := bulk.GradeBatch(context.Background(), dto.BulkGradeRequest{Rubric: testRubric()}, ActivityActor{ID: 99})
	require.Error(t, err)
}

func TestGradeBatchPublishesProgressEvents(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	gradingSvc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, nil, nil)
	validate := validator.New(validator.WithRequiredStructEnabled())
	bus := NewGradingEventBus(nil, "", testLogger())
	bulk := NewBulkGradingService(gradingSvc, bus, validate, 1, testLogger())

	_, err := bulk.GradeBatch(context.Background(), dto.BulkGradeRequest{
		SubmissionIDs: []uint{submission.ID},
		Rubric:        testRubric(),
	}, ActivityActor{ID: 99})
	require.NoError(t, err)
}

func TestGradeBatchCancelledContext(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	gradingSvc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, nil, nil)
	validate := validator.New(validator.WithRequiredStructEnabled())
	bulk := NewBulkGradingService(gradingSvc, nil, validate, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	response, err := bulk.GradeBatch(ctx, dto.BulkGradeRequest{
		SubmissionIDs: []uint{submission.ID, submission.ID},
		Rubric:        testRubric(),
	}, ActivityActor{ID: 99})
	require.NoError(t, err)
	require.Equal(t, 0, response.Succeeded)
	for _, outcome := range response.Outcomes {
		require.False(t, outcome.Success)
	}
}
