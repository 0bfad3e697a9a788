package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/scrollu/portal-api/internal/dto"
	"github.com/scrollu/portal-api/internal/grading"
	"github.com/scrollu/portal-api/internal/middleware"
	"github.com/scrollu/portal-api/internal/repository"
	"github.com/scrollu/portal-api/internal/service"
	"github.com/scrollu/portal-api/internal/utils"
)

// GradingHandler wires the grading endpoints: automated passes, bulk
// batches, manual overrides, grade reads, and the batch progress stream.
type GradingHandler struct {
	grading service.GradingService
	bulk    service.BulkGradingService
	manual  service.ManualGradingService
	events  *service.GradingEventBus
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(
	grading service.GradingService,
	bulk service.BulkGradingService,
	manual service.ManualGradingService,
	events *service.GradingEventBus,
	logger zerolog.Logger,
) *GradingHandler {
	return &GradingHandler{
		grading: grading,
		bulk:    bulk,
		manual:  manual,
		events:  events,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading endpoints to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/bulk", middleware.RateLimit("bulk_grade", 5, time.Minute), h.gradeBatch)
	router.Post("/:id/grade", h.grade)
	router.Post("/:id/override", h.override)
	router.Get("/:id/grade", h.getGrade)

	router.Use("/bulk/:batchId/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/bulk/:batchId/events", websocket.New(h.streamBatch))
}

func (h *GradingHandler) list(c *fiber.Ctx) error {
	var filter repository.SubmissionFilter

	if v, err := parseQueryInt(c, "assignment_id"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment_id")
	} else if v > 0 {
		id := uint(v)
		filter.AssignmentID = &id
	}

	if v, err := parseQueryInt(c, "student_id"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid student_id")
	} else if v > 0 {
		id := uint(v)
		filter.StudentID = &id
	}

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		filter.Status = &status
	}

	submissions, err := h.grading.ListSubmissions(c.UserContext(), filter)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list submissions")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list submissions")
	}

	return utils.SendSuccess(c, "submissions", submissions)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.GradeSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := activityActorFromContext(c)
	grade, err := h.grading.GradeSubmission(c.UserContext(), id, payload.Rubric, actor)
	if err != nil {
		return h.gradeError(c, id, err, "failed to grade submission")
	}

	return utils.SendSuccess(c, "submission graded", grade)
}

func (h *GradingHandler) gradeBatch(c *fiber.Ctx) error {
	var payload dto.BulkGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := activityActorFromContext(c)
	batch, err := h.bulk.GradeBatch(c.UserContext(), payload, actor)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		if errors.Is(err, service.ErrInvalidRubric) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("bulk grading failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "bulk grading failed")
	}

	return utils.SendSuccess(c, "batch graded", batch)
}

func (h *GradingHandler) override(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.ManualOverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := activityActorFromContext(c)
	grade, err := h.manual.Override(c.UserContext(), id, payload, actor)
	if err != nil {
		if errors.Is(err, service.ErrScoreExceedsMax) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return h.gradeError(c, id, err, "failed to override grade")
	}

	return utils.SendSuccess(c, "grade overridden", grade)
}

func (h *GradingHandler) getGrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	grade, err := h.grading.GetGrade(c.UserContext(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		case errors.Is(err, service.ErrSubmissionNotGraded):
			return utils.SendError(c, fiber.StatusNotFound, "submission not graded")
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("failed to load grade")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grade")
		}
	}

	return utils.SendSuccess(c, "grade", grade)
}

// streamBatch forwards grading events for one batch over a websocket until
// the client disconnects.
func (h *GradingHandler) streamBatch(conn *websocket.Conn) {
	batchID := strings.TrimSpace(conn.Params("batchId"))
	if batchID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "batch id required"))
		_ = conn.Close()
		return
	}

	events, cancel := h.events.Subscribe(batchID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info().Str("batch_id", batchID).Msg("grading progress stream connected")
	defer h.logger.Info().Str("batch_id", batchID).Msg("grading progress stream disconnected")

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *GradingHandler) gradeError(c *fiber.Ctx, id uint, err error, fallback string) error {
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrGradingInProgress):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRubric):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, grading.ErrUnsupportedType),
		errors.Is(err, grading.ErrMalformedAnswerKey),
		errors.Is(err, grading.ErrMalformedAnswers):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
