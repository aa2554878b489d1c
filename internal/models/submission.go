package models

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

const (
	// SubmissionStatusPending indicates the submission has not been graded yet.
	SubmissionStatusPending = "pending"
	// SubmissionStatusChecked indicates every answer carries a reconciled award.
	SubmissionStatusChecked = "checked"
)

// Provenance values describe which actor last determined an answer's awarded marks.
const (
	CheckedByPending = "pending"
	CheckedByAI      = "ai"
	CheckedByTeacher = "teacher"
	CheckedByBoth    = "both"
)

// Award sources accepted by score reconciliation.
const (
	AwardSourceAI      = "ai"
	AwardSourceTeacher = "teacher"
)

// Submission is one student's answer set for one exercise. At most one row
// exists per (exercise, student) pair; the composite unique index backs that.
type Submission struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ExerciseID    uint       `gorm:"not null;uniqueIndex:idx_submissions_exercise_student" json:"exercise_id"`
	StudentID     uint       `gorm:"not null;uniqueIndex:idx_submissions_exercise_student" json:"student_id"`
	Status        string     `gorm:"size:32;not null" json:"status"`
	Published     bool       `gorm:"not null;default:false" json:"published"`
	MarksObtained float64    `gorm:"not null;default:0" json:"marks_obtained"`
	Percentage    float64    `gorm:"not null;default:0" json:"percentage"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	CheckedAt     *time.Time `json:"checked_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Exercise      Exercise   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"exercise"`
	Student       Student    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
	Answers       []Answer   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers"`
}

// Answer holds one student answer plus its grading result. The AI columns are
// retained for audit even after a teacher override.
type Answer struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	SubmissionID    uint           `gorm:"not null;index" json:"submission_id"`
	QuestionID      uint           `gorm:"not null" json:"question_id"`
	Text            string         `gorm:"type:text" json:"text"`
	AwardedMarks    float64        `gorm:"not null;default:0" json:"awarded_marks"`
	AIMarks         *float64       `json:"ai_marks"`
	AIFeedback      string         `gorm:"type:text" json:"ai_feedback"`
	AIRaw           datatypes.JSON `json:"ai_raw,omitempty"`
	TeacherFeedback string         `gorm:"type:text" json:"teacher_feedback"`
	CheckedBy       string         `gorm:"size:16;not null;default:pending" json:"checked_by"`
}

// RecomputeTotals derives marksObtained from the current per-answer awards and
// the percentage against the exercise total, rounded to two decimal places.
func (s *Submission) RecomputeTotals(totalMarks int) {
	obtained := 0.0
	for _, answer := range s.Answers {
		obtained += answer.AwardedMarks
	}
	s.MarksObtained = obtained
	if totalMarks > 0 {
		s.Percentage = RoundMarks(obtained / float64(totalMarks) * 100)
	} else {
		s.Percentage = 0
	}
}

// RoundMarks rounds to two decimal places, the precision stored for percentages.
func RoundMarks(value float64) float64 {
	return math.Round(value*100) / 100
}

// NextProvenance implements the provenance transition table: an oracle grade
// always overwrites a prior oracle grade, a teacher edit on top of an oracle
// grade becomes "both", and a teacher edit on an ungraded answer is theirs alone.
func NextProvenance(current, source string) string {
	if source == AwardSourceAI {
		return CheckedByAI
	}
	switch current {
	case CheckedByAI, CheckedByBoth:
		return CheckedByBoth
	default:
		return CheckedByTeacher
	}
}
