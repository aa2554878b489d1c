package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/classmark/classmark-api/internal/config"
	"github.com/classmark/classmark-api/internal/dto"
	"github.com/classmark/classmark-api/internal/middleware"
	"github.com/classmark/classmark-api/internal/models"
	"github.com/classmark/classmark-api/internal/observability"
	"github.com/classmark/classmark-api/internal/repository"
	"github.com/classmark/classmark-api/pkg/ai"
	"github.com/classmark/classmark-api/pkg/retry"
)

// ErrGraderUnavailable indicates no AI grader is configured.
var ErrGraderUnavailable = errors.New("grader unavailable")

// ErrInvalidAward indicates an award is out of range or targets an unknown question.
var ErrInvalidAward = errors.New("invalid award")

// ErrOracleIncomplete indicates the oracle reply did not cover every question.
var ErrOracleIncomplete = errors.New("oracle response missing awards")

// GradingService drives submissions through the AI oracle and through manual
// score reconciliation, and controls result publication.
type GradingService interface {
	GradePending(ctx context.Context, exerciseID uint) (dto.GradingReportResponse, error)
	Reconcile(ctx context.Context, submissionID uint, payload dto.ReconcileRequest) (dto.SubmissionResponse, error)
	PublishResults(ctx context.Context, exerciseID uint) (int64, error)
}

type gradingService struct {
	exercises   repository.ExerciseRepository
	submissions repository.SubmissionRepository
	grader      ai.Grader
	validator   *validator.Validate
	events      EventPublisher
	logger      zerolog.Logger
	cfg         config.GradingConfig
	now         func() time.Time
}

// NewGradingService constructs the grading service. The event publisher may be
// nil; grading then runs without emitting events.
func NewGradingService(exerciseRepo repository.ExerciseRepository, subRepo repository.SubmissionRepository, grader ai.Grader, validate *validator.Validate, events EventPublisher, cfg config.GradingConfig, logger zerolog.Logger) GradingService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return &gradingService{
		exercises:   exerciseRepo,
		submissions: subRepo,
		grader:      grader,
		validator:   validate,
		events:      events,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		cfg:         cfg,
		now:         time.Now,
	}
}

// GradePending selects every pending submission of the exercise and drives it
// through the oracle: concurrently within a fixed-size batch, sequentially
// across batches. A submission that exhausts its retry budget stays pending
// and never disturbs its batch siblings; the run is safe to invoke again.
func (s *gradingService) GradePending(ctx context.Context, exerciseID uint) (dto.GradingReportResponse, error) {
	tracer := otel.Tracer("github.com/classmark/classmark-api/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.batch")
	span.SetAttributes(attribute.Int64("grading.exercise_id", int64(exerciseID)))
	defer span.End()

	exercise, err := s.exercises.GetByID(ctx, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "exercise_not_found")
			return dto.GradingReportResponse{}, ErrExerciseNotFound
		}
		return dto.GradingReportResponse{}, err
	}

	if s.grader == nil {
		return dto.GradingReportResponse{}, ErrGraderUnavailable
	}

	pending, err := s.submissions.ListPending(ctx, exerciseID)
	if err != nil {
		return dto.GradingReportResponse{}, err
	}

	report := dto.GradingReportResponse{Total: len(pending)}
	span.SetAttributes(attribute.Int("grading.pending", report.Total))

	if report.Total == 0 {
		s.logger.Info().Uint("exercise_id", exerciseID).Msg("no pending submissions to grade")
		return report, nil
	}

	start := s.now()
	for batchStart := 0; batchStart < len(pending); batchStart += s.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}

		batchEnd := batchStart + s.cfg.BatchSize
		if batchEnd > len(pending) {
			batchEnd = len(pending)
		}
		batch := pending[batchStart:batchEnd]

		checked, failed := s.gradeBatch(ctx, exercise, batch)
		report.Checked += checked
		report.Failed += failed

		if batchEnd < len(pending) {
			if err := retry.Sleep(ctx, s.cfg.BatchDelay); err != nil {
				break
			}
		}
	}

	// An interrupted run counts the submissions it never reached as failed so
	// the report still accounts for every pending submission it selected.
	if unprocessed := report.Total - report.Checked - report.Failed; unprocessed > 0 {
		report.Failed += unprocessed
	}

	observability.GradingRuns().WithLabelValues(outcomeLabel(report)).Inc()
	observability.GradingRunDuration().Observe(s.now().Sub(start).Seconds())

	span.SetAttributes(
		attribute.Int("grading.checked", report.Checked),
		attribute.Int("grading.failed", report.Failed),
	)

	runLogger := s.logger
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		runLogger = runLogger.With().Str("correlation_id", correlation).Logger()
	}
	runLogger.Info().
		Uint("exercise_id", exerciseID).
		Int("checked", report.Checked).
		Int("failed", report.Failed).
		Int("total", report.Total).
		Msg("batch grading run finished")

	s.publishEvent("classmark.grading.completed", map[string]interface{}{
		"exercise_id": exerciseID,
		"checked":     report.Checked,
		"failed":      report.Failed,
		"total":       report.Total,
	})

	return report, nil
}

type gradeOutcome struct {
	submissionID uint
	err          error
}

// gradeBatch fans the batch out to the oracle and joins the per-submission
// outcomes through a channel. Outcomes are isolated: one submission's failure
// never aborts its siblings.
func (s *gradingService) gradeBatch(ctx context.Context, exercise models.Exercise, batch []models.Submission) (checked, failed int) {
	outcomes := make(chan gradeOutcome, len(batch))

	var wg sync.WaitGroup
	for _, submission := range batch {
		wg.Add(1)
		go func(submission models.Submission) {
			defer wg.Done()
			outcomes <- gradeOutcome{
				submissionID: submission.ID,
				err:          s.gradeOne(ctx, exercise, submission),
			}
		}(submission)
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		if outcome.err != nil {
			failed++
			observability.GradingSubmissionsFailed().Inc()
			s.logger.Warn().
				Err(outcome.err).
				Uint("submission_id", outcome.submissionID).
				Msg("submission left pending after grading failure")
			continue
		}
		checked++
		observability.GradingSubmissionsChecked().Inc()
	}

	return checked, failed
}

// gradeOne calls the oracle with bounded retries, then reconciles the awards
// into the submission. The transition to checked happens only after a complete
// oracle reply covering every question.
func (s *gradingService) gradeOne(ctx context.Context, exercise models.Exercise, submission models.Submission) error {
	tracer := otel.Tracer("github.com/classmark/classmark-api/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.submission")
	span.SetAttributes(
		attribute.Int64("grading.submission_id", int64(submission.ID)),
		attribute.Int64("grading.student_id", int64(submission.StudentID)),
	)
	defer span.End()

	items, err := buildGradeItems(exercise, submission)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed_submission")
		return err
	}

	var result ai.GradeResult
	err = retry.Do(ctx, retry.Config{Attempts: s.cfg.MaxAttempts, Delay: s.cfg.RetryDelay}, func(ctx context.Context) error {
		graded, err := s.grader.Grade(ctx, items)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, ok := graded.AwardFor(item.QuestionID); !ok {
				return fmt.Errorf("%w: question %d", ErrOracleIncomplete, item.QuestionID)
			}
		}
		result = graded
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle_failed")
		return err
	}

	updates := make([]awardUpdate, 0, len(result.Awards))
	for _, award := range result.Awards {
		updates = append(updates, awardUpdate{
			questionID: award.QuestionID,
			marks:      award.Marks,
			feedback:   award.Feedback,
			aiRaw:      result.Raw,
		})
	}

	if err := applyAwards(&submission, exercise, updates, models.AwardSourceAI, s.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile_failed")
		return err
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		return err
	}

	span.SetAttributes(attribute.Float64("grading.marks_obtained", submission.MarksObtained))
	return nil
}

// Reconcile applies a teacher's (possibly partial) award edit to a submission.
// Untouched answers keep their current awards; aggregates are recomputed from
// scratch, so calling twice with the same awards is a no-op.
func (s *gradingService) Reconcile(ctx context.Context, submissionID uint, payload dto.ReconcileRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	updates := make([]awardUpdate, 0, len(payload.Awards))
	for _, award := range payload.Awards {
		updates = append(updates, awardUpdate{
			questionID: award.QuestionID,
			marks:      award.Marks,
			feedback:   award.Feedback,
		})
	}

	if err := applyAwards(&submission, submission.Exercise, updates, models.AwardSourceTeacher, s.now()); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	updated, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().
		Uint("submission_id", submissionID).
		Int("awards", len(payload.Awards)).
		Float64("marks_obtained", updated.MarksObtained).
		Msg("submission reconciled by teacher")

	return dto.NewSubmissionResponse(updated), nil
}

// PublishResults flips every checked submission of the exercise to published.
// The operation is monotonic and idempotent; pending submissions are skipped.
func (s *gradingService) PublishResults(ctx context.Context, exerciseID uint) (int64, error) {
	if _, err := s.exercises.GetByID(ctx, exerciseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrExerciseNotFound
		}
		return 0, err
	}

	count, err := s.submissions.PublishChecked(ctx, exerciseID)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Uint("exercise_id", exerciseID).
		Int64("published", count).
		Msg("results published")

	if count > 0 {
		s.publishEvent("classmark.results.published", map[string]interface{}{
			"exercise_id":     exerciseID,
			"published_count": count,
		})
	}

	return count, nil
}

func (s *gradingService) publishEvent(subject string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

func outcomeLabel(report dto.GradingReportResponse) string {
	switch {
	case report.Failed == 0:
		return "success"
	case report.Checked == 0:
		return "failure"
	default:
		return "partial"
	}
}

// buildGradeItems pairs each of the submission's answers with the exercise's
// answer-key bundle, in question order.
func buildGradeItems(exercise models.Exercise, submission models.Submission) ([]ai.GradeItem, error) {
	answersByQuestion := make(map[uint]models.Answer, len(submission.Answers))
	for _, answer := range submission.Answers {
		answersByQuestion[answer.QuestionID] = answer
	}

	items := make([]ai.GradeItem, 0, len(exercise.Questions))
	for _, question := range exercise.Questions {
		answer, ok := answersByQuestion[question.ID]
		if !ok {
			return nil, fmt.Errorf("submission %d has no answer for question %d", submission.ID, question.ID)
		}
		items = append(items, ai.GradeItem{
			QuestionID:      question.ID,
			Question:        question.Text,
			ReferenceAnswer: question.ReferenceAnswer,
			Guidelines:      question.Guidelines,
			Marks:           question.Marks,
			StudentAnswer:   answer.Text,
		})
	}

	return items, nil
}

type awardUpdate struct {
	questionID uint
	marks      float64
	feedback   string
	aiRaw      []byte
}

// applyAwards validates every award before touching the submission, then sets
// the awarded marks, feedback, and provenance per answer and recomputes the
// aggregates. Answers absent from the updates keep their current awards.
func applyAwards(submission *models.Submission, exercise models.Exercise, updates []awardUpdate, source string, checkedAt time.Time) error {
	answerIndex := make(map[uint]int, len(submission.Answers))
	for i, answer := range submission.Answers {
		answerIndex[answer.QuestionID] = i
	}

	for _, update := range updates {
		question, ok := exercise.QuestionByID(update.questionID)
		if !ok {
			return fmt.Errorf("%w: question %d does not belong to the exercise", ErrInvalidAward, update.questionID)
		}
		if _, ok := answerIndex[update.questionID]; !ok {
			return fmt.Errorf("%w: no answer for question %d", ErrInvalidAward, update.questionID)
		}
		if update.marks < 0 || update.marks > float64(question.Marks) {
			return fmt.Errorf("%w: %.2f outside [0, %d] for question %d", ErrInvalidAward, update.marks, question.Marks, update.questionID)
		}
	}

	for _, update := range updates {
		answer := &submission.Answers[answerIndex[update.questionID]]
		answer.AwardedMarks = update.marks
		answer.CheckedBy = models.NextProvenance(answer.CheckedBy, source)

		if source == models.AwardSourceAI {
			marks := update.marks
			answer.AIMarks = &marks
			answer.AIFeedback = update.feedback
			if len(update.aiRaw) > 0 {
				answer.AIRaw = update.aiRaw
			}
		} else if update.feedback != "" {
			answer.TeacherFeedback = update.feedback
		}
	}

	submission.RecomputeTotals(exercise.TotalMarks)
	submission.Status = models.SubmissionStatusChecked
	submission.CheckedAt = &checkedAt

	return nil
}
