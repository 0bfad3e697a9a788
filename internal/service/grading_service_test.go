package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/scrollu/portal-api/internal/grading"
	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/internal/repository"
	"github.com/scrollu/portal-api/pkg/ai"
	"github.com/scrollu/portal-api/pkg/plagiarism"
	"github.com/scrollu/portal-api/pkg/transcript"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[uint]models.Submission
	applyCalls  int
	applyErr    error
}

func newFakeSubmissionRepo(submissions ...models.Submission) *fakeSubmissionRepo {
	repo := &fakeSubmissionRepo{submissions: make(map[uint]models.Submission)}
	for _, s := range submissions {
		repo.submissions[s.ID] = s
	}
	return repo
}

func (f *fakeSubmissionRepo) List(_ context.Context, _ repository.SubmissionFilter) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Submission, 0, len(f.submissions))
	for _, s := range f.submissions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	submission, ok := f.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (f *fakeSubmissionRepo) ApplyGrade(_ context.Context, id uint, update repository.GradeUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	if f.applyErr != nil {
		return f.applyErr
	}
	submission, ok := f.submissions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	score := update.Score
	gradedAt := update.GradedAt
	gradedBy := update.GradedBy
	submission.Score = &score
	submission.GradeDetail = update.Detail
	submission.AlignmentScore = &update.AlignmentScore
	submission.ImpactScore = &update.ImpactScore
	submission.GradedAt = &gradedAt
	submission.GradedBy = &gradedBy
	submission.Status = models.SubmissionStatusGraded
	f.submissions[id] = submission
	return nil
}

type fakeAssignmentRepo struct {
	assignments map[uint]models.Assignment
}

func (f *fakeAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	assignment, ok := f.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (f *fakeAssignmentRepo) ListByCourse(_ context.Context, _ uint) ([]models.Assignment, error) {
	return nil, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []models.GradeHistory
}

func (f *fakeHistoryRepo) Create(_ context.Context, entry *models.GradeHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeHistoryRepo) ListBySubmission(_ context.Context, submissionID uint) ([]models.GradeHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GradeHistory
	for _, e := range f.entries {
		if e.SubmissionID == submissionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeDetector struct {
	report plagiarism.Report
	err    error
	calls  int
}

func (f *fakeDetector) Check(_ context.Context, _ plagiarism.CheckRequest) (plagiarism.Report, error) {
	f.calls++
	if f.err != nil {
		return plagiarism.Report{}, f.err
	}
	return f.report, nil
}

type stubEvaluator struct {
	result ai.EvaluationResult
	err    error
}

func (s stubEvaluator) Evaluate(_ context.Context, _ ai.EvaluationInput) (ai.EvaluationResult, error) {
	if s.err != nil {
		return ai.EvaluationResult{}, s.err
	}
	return s.result, nil
}

func testRubric() models.Rubric {
	return models.Rubric{
		Criteria:  []models.RubricCriterion{{Key: "overall", Weight: 1}},
		MaxPoints: 100,
	}
}

func quizFixture() (models.Submission, models.Assignment) {
	assignment := models.Assignment{
		ID:        2,
		CourseID:  3,
		Type:      models.AssignmentTypeQuiz,
		MaxScore:  100,
		AnswerKey: datatypes.JSON(`{"answers":["a","b","c","d","a","b","c","d","a","b"]}`),
	}
	submission := models.Submission{
		ID:           1,
		AssignmentID: assignment.ID,
		StudentID:    5,
		Content:      `{"answers":["a","b","c","d","a","b","c","x","x","x"]}`,
		Status:       models.SubmissionStatusSubmitted,
		Assignment:   assignment,
	}
	return submission, assignment
}

func essayFixture() (models.Submission, models.Assignment) {
	assignment := models.Assignment{
		ID:       20,
		CourseID: 3,
		Type:     models.AssignmentTypeEssay,
		MaxScore: 100,
	}
	submission := models.Submission{
		ID:           10,
		AssignmentID: assignment.ID,
		StudentID:    5,
		Content:      "The industrial revolution reshaped labor.",
		Status:       models.SubmissionStatusSubmitted,
		Assignment:   assignment,
	}
	return submission, assignment
}

func newTestGradingService(submissions *fakeSubmissionRepo, assignments *fakeAssignmentRepo, history *fakeHistoryRepo, evaluator ai.Evaluator, detector plagiarism.Detector) GradingService {
	registry := grading.NewRegistry(evaluator, nil, testLogger(), grading.Config{})
	return NewGradingService(
		submissions,
		assignments,
		history,
		registry,
		detector,
		nil,
		transcript.Noop{},
		nil,
		nil,
		nil,
		testLogger(),
		GradingConfig{},
	)
}

func TestGradeSubmissionQuizDeterministic(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	history := &fakeHistoryRepo{}

	svc := newTestGradingService(submissions, assignments, history, nil, nil)

	response, err := svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99, Role: "teacher"})
	require.NoError(t, err)
	require.InDelta(t, 70.0, response.OverallScore, 1e-9)
	require.Equal(t, 1.0, response.Confidence)
	require.False(t, response.RequiresHumanReview)
	require.Equal(t, models.SubmissionStatusGraded, response.Status)
	require.NotNil(t, response.Detail.Quiz)
	require.Equal(t, 7, response.Detail.Quiz.Correct)
	require.InDelta(t, 0.7, response.AlignmentScore, 1e-9)
	require.InDelta(t, 0.56, response.ImpactScore, 1e-9)

	persisted, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.True(t, persisted.IsGraded())
	require.NotNil(t, persisted.Score)
	require.InDelta(t, 70.0, *persisted.Score, 1e-9)
	require.Len(t, history.entries, 1)
	require.Equal(t, response.PassID, history.entries[0].PassID)
}

func TestGradeSubmissionAppliesPlagiarismPenalty(t *testing.T) {
	submission, assignment := essayFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	evaluator := stubEvaluator{result: ai.EvaluationResult{OverallScore: 80, Confidence: 0.9}}
	detector := &fakeDetector{report: plagiarism.Report{Flagged: true, MatchPercentage: 91}}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, evaluator, detector)

	response, err := svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.NoError(t, err)
	require.InDelta(t, 40.0, response.OverallScore, 1e-9)
	require.True(t, response.PlagiarismFlagged)
	require.True(t, response.RequiresHumanReview)
	require.Equal(t, grading.PlagiarismReviewReason, response.ReviewReason)
	require.Equal(t, 1, detector.calls)
}

func TestGradeSubmissionDegradesOnEvaluatorFailure(t *testing.T) {
	submission, assignment := essayFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	evaluator := stubEvaluator{err: errors.New("model timeout")}
	detector := &fakeDetector{}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, evaluator, detector)

	response, err := svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.NoError(t, err)
	require.InDelta(t, 0.0, response.OverallScore, 1e-9)
	require.Equal(t, 0.0, response.Confidence)
	require.True(t, response.RequiresHumanReview)
	require.Equal(t, upstreamUnavailableReason, response.ReviewReason)

	// The degraded grade still lands so a human can finish the job.
	persisted, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.True(t, persisted.IsGraded())
}

func TestGradeSubmissionDegradesOnDetectorFailure(t *testing.T) {
	submission, assignment := essayFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	evaluator := stubEvaluator{result: ai.EvaluationResult{OverallScore: 80, Confidence: 0.9}}
	detector := &fakeDetector{err: errors.New("detector down")}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, evaluator, detector)

	response, err := svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.NoError(t, err)
	// No penalty without a verdict, but the grade is no longer trusted.
	require.InDelta(t, 80.0, response.OverallScore, 1e-9)
	require.Equal(t, 0.0, response.Confidence)
	require.True(t, response.RequiresHumanReview)
	require.Equal(t, upstreamUnavailableReason, response.ReviewReason)
	require.False(t, response.PlagiarismFlagged)
}

func TestGradeSubmissionHeuristicClassificationEscalates(t *testing.T) {
	assignment := models.Assignment{ID: 30, CourseID: 3, MaxScore: 100}
	submission := models.Submission{
		ID:           31,
		AssignmentID: assignment.ID,
		StudentID:    5,
		Content:      "A reflection on the reading.",
		Status:       models.SubmissionStatusSubmitted,
		Assignment:   assignment,
	}
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}
	evaluator := stubEvaluator{result: ai.EvaluationResult{OverallScore: 88, Confidence: 0.95}}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, evaluator, &fakeDetector{})

	response, err := svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.NoError(t, err)
	require.InDelta(t, 88.0, response.OverallScore, 1e-9)
	require.True(t, response.RequiresHumanReview)
	require.Equal(t, heuristicReviewReason, response.ReviewReason)
}

func TestGradeSubmissionQuizMalformedAnswersFailsHard(t *testing.T) {
	submission, assignment := quizFixture()
	submission.Content = "not json"
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, nil, nil)

	_, err := svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.ErrorIs(t, err, grading.ErrMalformedAnswers)
	require.Equal(t, 0, submissions.applyCalls)
}

func TestGradeSubmissionNotFound(t *testing.T) {
	svc := newTestGradingService(newFakeSubmissionRepo(), &fakeAssignmentRepo{}, &fakeHistoryRepo{}, nil, nil)

	_, err := svc.GradeSubmission(context.Background(), 404, testRubric(), ActivityActor{ID: 99})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestGradeSubmissionRejectsInvalidRubric(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, nil, nil)

	_, err := svc.GradeSubmission(context.Background(), submission.ID, models.Rubric{}, ActivityActor{ID: 99})
	require.ErrorIs(t, err, ErrInvalidRubric)
	require.Equal(t, 0, submissions.applyCalls)
}

func TestGetGradeRequiresCompletedPass(t *testing.T) {
	submission, assignment := quizFixture()
	submissions := newFakeSubmissionRepo(submission)
	assignments := &fakeAssignmentRepo{assignments: map[uint]models.Assignment{assignment.ID: assignment}}

	svc := newTestGradingService(submissions, assignments, &fakeHistoryRepo{}, nil, nil)

	_, err := svc.GetGrade(context.Background(), submission.ID)
	require.ErrorIs(t, err, ErrSubmissionNotGraded)

	_, err = svc.GradeSubmission(context.Background(), submission.ID, testRubric(), ActivityActor{ID: 99})
	require.NoError(t, err)

	grade, err := svc.GetGrade(context.Background(), submission.ID)
	require.NoError(t, err)
	require.InDelta(t, 70.0, grade.OverallScore, 1e-9)
}
