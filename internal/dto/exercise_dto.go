package dto

import (
	"time"

	"github.com/classmark/classmark-api/internal/models"
)

// QuestionCreateRequest describes one question in an exercise payload.
type QuestionCreateRequest struct {
	Text            string `json:"text" validate:"required,min=3"`
	Marks           int    `json:"marks" validate:"required,gt=0"`
	ReferenceAnswer string `json:"reference_answer" validate:"required"`
	Guidelines      string `json:"guidelines"`
}

// ExerciseCreateRequest describes the payload for creating a draft exercise.
type ExerciseCreateRequest struct {
	Title       string                  `json:"title" validate:"required,min=3,max=255"`
	Description string                  `json:"description"`
	Kind        string                  `json:"kind" validate:"required,oneof=assignment test_paper quiz"`
	OpensAt     *time.Time              `json:"opens_at"`
	DueAt       *time.Time              `json:"due_at"`
	Questions   []QuestionCreateRequest `json:"questions" validate:"required,min=1,dive"`
}

// ExerciseFilter describes query string filters for listing exercises.
type ExerciseFilter struct {
	Status *string `query:"status" validate:"omitempty,oneof=draft published"`
	Kind   *string `query:"kind" validate:"omitempty,oneof=assignment test_paper quiz"`
}

// QuestionResponse serializes a question. The reference answer and guidelines
// are omitted unless the caller may see the answer key.
type QuestionResponse struct {
	ID              uint   `json:"id"`
	Position        int    `json:"position"`
	Text            string `json:"text"`
	Marks           int    `json:"marks"`
	ReferenceAnswer string `json:"reference_answer,omitempty"`
	Guidelines      string `json:"guidelines,omitempty"`
}

// ExerciseResponse is returned to API clients when viewing exercises.
type ExerciseResponse struct {
	ID          uint               `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Kind        string             `json:"kind"`
	Status      string             `json:"status"`
	TotalMarks  int                `json:"total_marks"`
	OpensAt     *time.Time         `json:"opens_at"`
	DueAt       *time.Time         `json:"due_at"`
	CreatedBy   uint               `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	Questions   []QuestionResponse `json:"questions"`
}

// ExerciseLite summarizes an exercise in submission responses.
type ExerciseLite struct {
	ID         uint       `json:"id"`
	Title      string     `json:"title"`
	Kind       string     `json:"kind"`
	TotalMarks int        `json:"total_marks"`
	DueAt      *time.Time `json:"due_at"`
}

// NewExerciseResponse converts an Exercise model into a DTO. includeKey
// controls whether reference answers and guidelines are exposed.
func NewExerciseResponse(model models.Exercise, includeKey bool) ExerciseResponse {
	questions := make([]QuestionResponse, 0, len(model.Questions))
	for _, question := range model.Questions {
		item := QuestionResponse{
			ID:       question.ID,
			Position: question.Position,
			Text:     question.Text,
			Marks:    question.Marks,
		}
		if includeKey {
			item.ReferenceAnswer = question.ReferenceAnswer
			item.Guidelines = question.Guidelines
		}
		questions = append(questions, item)
	}

	return ExerciseResponse{
		ID:          model.ID,
		Title:       model.Title,
		Description: model.Description,
		Kind:        model.Kind,
		Status:      model.Status,
		TotalMarks:  model.TotalMarks,
		OpensAt:     model.OpensAt,
		DueAt:       model.DueAt,
		CreatedBy:   model.CreatedBy,
		CreatedAt:   model.CreatedAt,
		Questions:   questions,
	}
}

// NewExerciseResponseSlice converts exercise models into DTOs.
func NewExerciseResponseSlice(exercises []models.Exercise, includeKey bool) []ExerciseResponse {
	responses := make([]ExerciseResponse, 0, len(exercises))
	for _, exercise := range exercises {
		responses = append(responses, NewExerciseResponse(exercise, includeKey))
	}

	return responses
}

func newExerciseLite(model models.Exercise) ExerciseLite {
	return ExerciseLite{
		ID:         model.ID,
		Title:      model.Title,
		Kind:       model.Kind,
		TotalMarks: model.TotalMarks,
		DueAt:      model.DueAt,
	}
}
