package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/classmark/classmark-api/internal/dto"
	"github.com/classmark/classmark-api/internal/models"
	"github.com/classmark/classmark-api/internal/repository"
)

// ErrExerciseNotFound indicates the exercise could not be located.
var ErrExerciseNotFound = errors.New("exercise not found")

// ErrExerciseFrozen indicates the exercise is published and its content can no longer change.
var ErrExerciseFrozen = errors.New("exercise is published and frozen")

// ErrExerciseAlreadyPublished indicates a repeated publish of the exercise content.
var ErrExerciseAlreadyPublished = errors.New("exercise already published")

// ErrInvalidWindow indicates the submission window is inverted.
var ErrInvalidWindow = errors.New("submission window opens after it closes")

// ExerciseService manages exercise authoring and its draft/published lifecycle.
type ExerciseService interface {
	Create(ctx context.Context, teacherID uint, payload dto.ExerciseCreateRequest) (dto.ExerciseResponse, error)
	Get(ctx context.Context, id uint, includeKey bool) (dto.ExerciseResponse, error)
	List(ctx context.Context, filter dto.ExerciseFilter, includeKey bool) ([]dto.ExerciseResponse, error)
	PublishContent(ctx context.Context, id uint) (dto.ExerciseResponse, error)
}

type exerciseService struct {
	exercises repository.ExerciseRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewExerciseService constructs an ExerciseService instance.
func NewExerciseService(exerciseRepo repository.ExerciseRepository, validate *validator.Validate, logger zerolog.Logger) ExerciseService {
	return &exerciseService{
		exercises: exerciseRepo,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "exercise_service").Logger(),
		now:       time.Now,
	}
}

func (s *exerciseService) Create(ctx context.Context, teacherID uint, payload dto.ExerciseCreateRequest) (dto.ExerciseResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ExerciseResponse{}, err
	}

	if payload.OpensAt != nil && payload.DueAt != nil && payload.OpensAt.After(*payload.DueAt) {
		return dto.ExerciseResponse{}, ErrInvalidWindow
	}

	questions := make([]models.Question, 0, len(payload.Questions))
	for i, question := range payload.Questions {
		questions = append(questions, models.Question{
			Position:        i + 1,
			Text:            s.clean(question.Text),
			Marks:           question.Marks,
			ReferenceAnswer: s.clean(question.ReferenceAnswer),
			Guidelines:      s.clean(question.Guidelines),
		})
	}

	exercise := models.Exercise{
		Title:       s.clean(payload.Title),
		Description: s.clean(payload.Description),
		Kind:        payload.Kind,
		Status:      models.ExerciseStatusDraft,
		OpensAt:     payload.OpensAt,
		DueAt:       payload.DueAt,
		CreatedBy:   teacherID,
		Questions:   questions,
	}
	exercise.TotalMarks = exercise.SumMarks()

	if err := s.exercises.Create(ctx, &exercise); err != nil {
		return dto.ExerciseResponse{}, err
	}

	s.logger.Info().
		Uint("exercise_id", exercise.ID).
		Int("questions", len(exercise.Questions)).
		Int("total_marks", exercise.TotalMarks).
		Msg("exercise created")

	return dto.NewExerciseResponse(exercise, true), nil
}

func (s *exerciseService) Get(ctx context.Context, id uint, includeKey bool) (dto.ExerciseResponse, error) {
	exercise, err := s.exercises.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ExerciseResponse{}, ErrExerciseNotFound
		}
		return dto.ExerciseResponse{}, err
	}

	return dto.NewExerciseResponse(exercise, includeKey), nil
}

func (s *exerciseService) List(ctx context.Context, filter dto.ExerciseFilter, includeKey bool) ([]dto.ExerciseResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	exercises, err := s.exercises.List(ctx, repository.ExerciseFilter{
		Status: filter.Status,
		Kind:   filter.Kind,
	})
	if err != nil {
		return nil, err
	}

	return dto.NewExerciseResponseSlice(exercises, includeKey), nil
}

// PublishContent freezes the exercise content and opens it for submissions.
func (s *exerciseService) PublishContent(ctx context.Context, id uint) (dto.ExerciseResponse, error) {
	exercise, err := s.exercises.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ExerciseResponse{}, ErrExerciseNotFound
		}
		return dto.ExerciseResponse{}, err
	}

	if exercise.IsPublished() {
		return dto.ExerciseResponse{}, ErrExerciseAlreadyPublished
	}

	exercise.Status = models.ExerciseStatusPublished
	exercise.TotalMarks = exercise.SumMarks()

	if err := s.exercises.Update(ctx, &exercise); err != nil {
		return dto.ExerciseResponse{}, err
	}

	s.logger.Info().Uint("exercise_id", exercise.ID).Msg("exercise published")

	return dto.NewExerciseResponse(exercise, true), nil
}

func (s *exerciseService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}
