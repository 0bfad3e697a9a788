package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/scrollu/portal-api/internal/config"
	"github.com/scrollu/portal-api/internal/dto"
	"github.com/scrollu/portal-api/internal/grading"
	"github.com/scrollu/portal-api/internal/handler"
	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/internal/repository"
	"github.com/scrollu/portal-api/internal/router"
	"github.com/scrollu/portal-api/internal/service"
	"github.com/scrollu/portal-api/pkg/ai"
	"github.com/scrollu/portal-api/pkg/transcript"
)

type integrationEvaluator struct{}

func (integrationEvaluator) Evaluate(_ context.Context, _ ai.EvaluationInput) (ai.EvaluationResult, error) {
	return ai.EvaluationResult{OverallScore: 82, Confidence: 0.9}, nil
}

func setupGradingApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Student{},
		&models.Assignment{},
		&models.Submission{},
		&models.GradeHistory{},
		&models.ActivityLog{},
	))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	historyRepo := repository.NewGradeHistoryRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	registry := grading.NewRegistry(integrationEvaluator{}, nil, logger, grading.Config{})
	activityService := service.NewActivityService(activityRepo, logger)
	eventBus := service.NewGradingEventBus(nil, "", logger)
	locks := service.NewSubmissionLocks()

	gradingService := service.NewGradingService(
		submissionRepo,
		assignmentRepo,
		historyRepo,
		registry,
		nil,
		nil,
		transcript.Noop{},
		activityService,
		eventBus,
		locks,
		logger,
		service.GradingConfig{},
	)
	bulkService := service.NewBulkGradingService(gradingService, eventBus, validate, 2, logger)
	manualService := service.NewManualGradingService(submissionRepo, assignmentRepo, historyRepo, transcript.Noop{}, activityService, validate, locks, 0, logger)

	gradingHandler := handler.NewGradingHandler(gradingService, bulkService, manualService, eventBus, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Portal Test", JWTSecret: "secret"}, router.Dependencies{
		GradingHandler: gradingHandler,
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", uint(9001))
			c.Locals("user_role", "teacher")
			return c.Next()
		},
	})

	return app, db
}

func seedQuiz(t *testing.T, db *gorm.DB) models.Submission {
	t.Helper()

	student := models.Student{Name: "Hana", Email: "hana@example.com"}
	require.NoError(t, db.Create(&student).Error)

	assignment := models.Assignment{
		CourseID:  1,
		Title:     "Unit 3 Quiz",
		Type:      models.AssignmentTypeQuiz,
		MaxScore:  100,
		AnswerKey: datatypes.JSON(`{"answers":["a","b","c","d"]}`),
	}
	require.NoError(t, db.Create(&assignment).Error)

	submission := models.Submission{
		AssignmentID: assignment.ID,
		CourseID:     assignment.CourseID,
		StudentID:    student.ID,
		Content:      `{"answers":["a","b","c","x"]}`,
		Status:       models.SubmissionStatusSubmitted,
	}
	require.NoError(t, db.Create(&submission).Error)
	return submission
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)

	var data T
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	return data
}

func gradePath(id uint) string {
	return "/api/v1/submissions/" + strconv.FormatUint(uint64(id), 10) + "/grade"
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func TestGradeAndFetchQuizSubmission(t *testing.T) {
	app, db := setupGradingApp(t)
	submission := seedQuiz(t, db)

	rubric := models.Rubric{
		Criteria:  []models.RubricCriterion{{Key: "overall", Weight: 1}},
		MaxPoints: 100,
	}

	resp := postJSON(t, app, gradePath(submission.ID), dto.GradeSubmissionRequest{Rubric: rubric})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	grade := decodeEnvelope[dto.GradeResponse](t, resp)
	require.InDelta(t, 75.0, grade.OverallScore, 1e-9)
	require.Equal(t, 1.0, grade.Confidence)
	require.Equal(t, models.SubmissionStatusGraded, grade.Status)
	require.NotNil(t, grade.Detail.Quiz)
	require.Equal(t, 3, grade.Detail.Quiz.Correct)

	req := httptest.NewRequest(http.MethodGet, gradePath(submission.ID), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := decodeEnvelope[dto.GradeResponse](t, resp)
	require.Equal(t, grade.PassID, fetched.PassID)
	require.InDelta(t, grade.OverallScore, fetched.OverallScore, 1e-9)

	var history []models.GradeHistory
	require.NoError(t, db.Where("submission_id = ?", submission.ID).Find(&history).Error)
	require.Len(t, history, 1)
}

func TestManualOverrideEndpoint(t *testing.T) {
	app, db := setupGradingApp(t)
	submission := seedQuiz(t, db)

	resp := postJSON(t, app, "/api/v1/submissions/"+itoa(submission.ID)+"/override", dto.ManualOverrideRequest{
		Score:    88,
		Feedback: "Reviewed by hand",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	grade := decodeEnvelope[dto.GradeResponse](t, resp)
	require.InDelta(t, 88.0, grade.OverallScore, 1e-9)
	require.True(t, grade.Detail.ManualOverride)
	require.Equal(t, 1.0, grade.Confidence)
	require.NotNil(t, grade.GradedBy)
	require.Equal(t, uint(9001), *grade.GradedBy)
}

func TestBulkGradeEndpointPreservesOrder(t *testing.T) {
	app, db := setupGradingApp(t)
	first := seedQuiz(t, db)
	second := seedQuiz(t, db)

	rubric := models.Rubric{
		Criteria:  []models.RubricCriterion{{Key: "overall", Weight: 1}},
		MaxPoints: 100,
	}

	resp := postJSON(t, app, "/api/v1/submissions/bulk", dto.BulkGradeRequest{
		SubmissionIDs: []uint{first.ID, second.ID, 99999},
		Rubric:        rubric,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	batch := decodeEnvelope[dto.BulkGradeResponse](t, resp)
	require.Equal(t, 3, batch.Total)
	require.Equal(t, 2, batch.Succeeded)
	require.Equal(t, first.ID, batch.Outcomes[0].SubmissionID)
	require.Equal(t, second.ID, batch.Outcomes[1].SubmissionID)
	require.True(t, batch.Outcomes[0].Success)
	require.True(t, batch.Outcomes[1].Success)
	require.False(t, batch.Outcomes[2].Success)
}

func TestGradeEndpointRejectsNonTeacher(t *testing.T) {
	studentApp := fiber.New()
	router.Register(studentApp, config.Config{AppName: "Portal Test", JWTSecret: "secret"}, router.Dependencies{
		GradingHandler: handler.NewGradingHandler(nil, nil, nil, nil, zerolog.New(io.Discard)),
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", uint(7))
			c.Locals("user_role", "student")
			return c.Next()
		},
	})

	resp := postJSON(t, studentApp, gradePath(1), dto.GradeSubmissionRequest{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
