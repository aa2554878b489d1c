package dto

// GradingReportResponse is the aggregate outcome of one batch grading run.
// Both counts are always present so a partial run is distinguishable from a
// full success.
type GradingReportResponse struct {
	Checked int `json:"checked"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// AwardRequest sets the awarded marks for one answer during reconciliation.
type AwardRequest struct {
	QuestionID uint    `json:"question_id" validate:"required,gt=0"`
	Marks      float64 `json:"marks" validate:"gte=0"`
	Feedback   string  `json:"feedback"`
}

// ReconcileRequest describes a teacher's (possibly partial) award edit.
type ReconcileRequest struct {
	Awards []AwardRequest `json:"awards" validate:"required,min=1,dive"`
}

// PublishResultsResponse reports how many submissions a publication pass flipped.
type PublishResultsResponse struct {
	PublishedCount int64 `json:"published_count"`
}
