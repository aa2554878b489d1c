package dto

import (
	"time"

	"github.com/classmark/classmark-api/internal/models"
)

// AnswerCreateRequest is one answer in a submission payload.
type AnswerCreateRequest struct {
	QuestionID uint   `json:"question_id" validate:"required,gt=0"`
	Text       string `json:"text" validate:"required"`
}

// SubmissionCreateRequest describes the payload for submitting answers to an exercise.
type SubmissionCreateRequest struct {
	ExerciseID uint                  `json:"exercise_id" validate:"required,gt=0"`
	Answers    []AnswerCreateRequest `json:"answers" validate:"required,min=1,dive"`
}

// SubmissionFilter describes query string filters for listing submissions.
type SubmissionFilter struct {
	ExerciseID *uint   `query:"exercise_id"`
	StudentID  *uint   `query:"student_id"`
	Status     *string `query:"status" validate:"omitempty,oneof=pending checked"`
}

// AnswerResponse serializes one graded answer.
type AnswerResponse struct {
	QuestionID      uint     `json:"question_id"`
	Text            string   `json:"text"`
	AwardedMarks    float64  `json:"awarded_marks"`
	AIMarks         *float64 `json:"ai_marks"`
	AIFeedback      string   `json:"ai_feedback"`
	TeacherFeedback string   `json:"teacher_feedback"`
	CheckedBy       string   `json:"checked_by"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID            uint             `json:"id"`
	ExerciseID    uint             `json:"exercise_id"`
	StudentID     uint             `json:"student_id"`
	Status        string           `json:"status"`
	Published     bool             `json:"published"`
	MarksObtained float64          `json:"marks_obtained"`
	Percentage    float64          `json:"percentage"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	CheckedAt     *time.Time       `json:"checked_at"`
	Answers       []AnswerResponse `json:"answers"`
	Exercise      ExerciseLite     `json:"exercise"`
	Student       StudentLite      `json:"student"`
}

// StudentLite summarizes a student without exposing full profile data.
type StudentLite struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:            model.ID,
		ExerciseID:    model.ExerciseID,
		StudentID:     model.StudentID,
		Status:        model.Status,
		Published:     model.Published,
		MarksObtained: model.MarksObtained,
		Percentage:    model.Percentage,
		SubmittedAt:   model.SubmittedAt,
		CheckedAt:     model.CheckedAt,
	}

	if len(model.Answers) > 0 {
		answers := make([]AnswerResponse, 0, len(model.Answers))
		for _, answer := range model.Answers {
			answers = append(answers, AnswerResponse{
				QuestionID:      answer.QuestionID,
				Text:            answer.Text,
				AwardedMarks:    answer.AwardedMarks,
				AIMarks:         answer.AIMarks,
				AIFeedback:      answer.AIFeedback,
				TeacherFeedback: answer.TeacherFeedback,
				CheckedBy:       answer.CheckedBy,
			})
		}
		response.Answers = answers
	}

	if model.Exercise.ID != 0 {
		response.Exercise = newExerciseLite(model.Exercise)
	}

	if model.Student.ID != 0 {
		response.Student = StudentLite{
			ID:    model.Student.ID,
			Name:  model.Student.Name,
			Email: model.Student.Email,
		}
	}

	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
