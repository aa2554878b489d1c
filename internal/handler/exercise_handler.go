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

// ExerciseHandler manages exercise authoring endpoints.
type ExerciseHandler struct {
	service   service.ExerciseService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewExerciseHandler builds an exercise handler instance.
func NewExerciseHandler(service service.ExerciseService, validator *validator.Validate, logger zerolog.Logger) *ExerciseHandler {
	return &ExerciseHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "exercise_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. The teacherOnly
// guard protects authoring endpoints; reads are open to any authenticated user.
func (h *ExerciseHandler) Register(router fiber.Router, teacherOnly fiber.Handler) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", teacherOnly, h.create)
	router.Post("/:id/publish", teacherOnly, h.publish)
}

func (h *ExerciseHandler) create(c *fiber.Ctx) error {
	var payload dto.ExerciseCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	exercise, err := h.service.Create(c.UserContext(), userIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "exercise created", exercise)
}

func (h *ExerciseHandler) list(c *fiber.Ctx) error {
	filter := dto.ExerciseFilter{}
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}
	if kind := c.Query("kind"); kind != "" {
		filter.Kind = &kind
	}

	exercises, err := h.service.List(c.UserContext(), filter, isTeacher(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "exercises retrieved", exercises)
}

func (h *ExerciseHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	exercise, err := h.service.Get(c.UserContext(), id, isTeacher(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "exercise retrieved", exercise)
}

func (h *ExerciseHandler) publish(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	exercise, err := h.service.PublishContent(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "exercise published", exercise)
}

func (h *ExerciseHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrExerciseNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "exercise not found")
	case errors.Is(err, service.ErrExerciseAlreadyPublished):
		return utils.SendError(c, fiber.StatusConflict, "exercise already published")
	case errors.Is(err, service.ErrInvalidWindow):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func isTeacher(c *fiber.Ctx) bool {
	role := userRoleFromContext(c)
	return role == "teacher" || role == "admin"
}
