package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/classmark/classmark-api/internal/dto"
	"github.com/classmark/classmark-api/internal/service"
	"github.com/classmark/classmark-api/internal/utils"
)

// GradingHandler exposes the batch grading, reconciliation, and publication endpoints.
type GradingHandler struct {
	service   service.GradingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(service service.GradingService, validator *validator.Validate, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the routes. All grading endpoints are teacher actions.
func (h *GradingHandler) Register(exercises fiber.Router, submissions fiber.Router, teacherOnly fiber.Handler, gradeLimiter fiber.Handler) {
	exercises.Post("/:id/grade", teacherOnly, gradeLimiter, h.gradePending)
	exercises.Post("/:id/publish-results", teacherOnly, h.publishResults)
	submissions.Patch("/:id/awards", teacherOnly, h.reconcile)
}

// gradePending triggers one batch grading run over the exercise's pending
// submissions and returns the aggregate report. A partial failure is a 200
// with a non-zero failed count, not an error.
func (h *GradingHandler) gradePending(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.GradePending(c.UserContext(), exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading run completed", report)
}

func (h *GradingHandler) reconcile(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ReconcileRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Reconcile(c.UserContext(), submissionID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission reconciled", submission)
}

func (h *GradingHandler) publishResults(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	count, err := h.service.PublishResults(c.UserContext(), exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "results published", dto.PublishResultsResponse{PublishedCount: count})
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrExerciseNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "exercise not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrInvalidAward):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGraderUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "grader unavailable")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
