package models

import "time"

// Exercise kinds. They are structurally identical; the kind only drives display.
const (
	ExerciseKindAssignment = "assignment"
	ExerciseKindTestPaper  = "test_paper"
	ExerciseKindQuiz       = "quiz"
)

const (
	// ExerciseStatusDraft indicates the exercise is still editable and not open for submissions.
	ExerciseStatusDraft = "draft"
	// ExerciseStatusPublished indicates the exercise content is frozen and students may submit.
	ExerciseStatusPublished = "published"
)

// Exercise represents a teacher-authored graded unit with an ordered question set.
type Exercise struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Kind        string     `gorm:"size:32;not null" json:"kind"`
	Status      string     `gorm:"size:32;not null" json:"status"`
	TotalMarks  int        `gorm:"not null" json:"total_marks"`
	OpensAt     *time.Time `json:"opens_at"`
	DueAt       *time.Time `json:"due_at"`
	CreatedBy   uint       `gorm:"not null" json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Questions   []Question `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
}

// Question is a single graded item embedded in an exercise. Position preserves
// insertion order, which is also the display and answer-indexing order.
type Question struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	ExerciseID      uint   `gorm:"not null;index" json:"exercise_id"`
	Position        int    `gorm:"not null" json:"position"`
	Text            string `gorm:"type:text;not null" json:"text"`
	Marks           int    `gorm:"not null" json:"marks"`
	ReferenceAnswer string `gorm:"type:text" json:"reference_answer"`
	Guidelines      string `gorm:"type:text" json:"guidelines"`
}

// IsPublished reports whether the exercise content is frozen and open for submissions.
func (e Exercise) IsPublished() bool {
	return e.Status == ExerciseStatusPublished
}

// AcceptsSubmissionsAt reports whether a submission arriving at the given time
// falls inside the exercise's submission window.
func (e Exercise) AcceptsSubmissionsAt(reference time.Time) bool {
	if e.OpensAt != nil && reference.Before(*e.OpensAt) {
		return false
	}
	if e.DueAt != nil && reference.After(*e.DueAt) {
		return false
	}
	return true
}

// SumMarks totals the point values of the exercise's questions.
func (e Exercise) SumMarks() int {
	total := 0
	for _, question := range e.Questions {
		total += question.Marks
	}
	return total
}

// QuestionByID returns the question with the given id, if it belongs to the exercise.
func (e Exercise) QuestionByID(id uint) (Question, bool) {
	for _, question := range e.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}
