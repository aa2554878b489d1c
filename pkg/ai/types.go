package ai

import (
	"context"
	"encoding/json"
)

// GradeItem carries everything the oracle needs to grade one answer: the
// question, its reference answer and calibration guidelines, the point value,
// and the student's verbatim answer.
type GradeItem struct {
	QuestionID      uint
	Question        string
	ReferenceAnswer string
	Guidelines      string
	Marks           int
	StudentAnswer   string
}

// Award is the oracle's verdict for a single question.
type Award struct {
	QuestionID uint    `json:"question_id"`
	Marks      float64 `json:"marks"`
	Feedback   string  `json:"feedback"`
}

// GradeResult is the oracle's reply for one submission. Raw keeps the model's
// payload for audit storage.
type GradeResult struct {
	Awards []Award
	Raw    json.RawMessage
}

// AwardFor returns the award for the given question id, if the oracle produced one.
func (r GradeResult) AwardFor(questionID uint) (Award, bool) {
	for _, award := range r.Awards {
		if award.QuestionID == questionID {
			return award, true
		}
	}
	return Award{}, false
}

// Grader describes an AI model capable of grading a submission's answers.
type Grader interface {
	Grade(ctx context.Context, items []GradeItem) (GradeResult, error)
}
