package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/classmark/classmark-api/internal/dto"
	"github.com/classmark/classmark-api/internal/models"
	"github.com/classmark/classmark-api/pkg/ai"
)

func newGradingService(exercises *fakeExerciseRepo, submissions *fakeSubmissionRepo, grader ai.Grader, events EventPublisher) GradingService {
	return NewGradingService(exercises, submissions, grader, testValidator(), events, fastGradingConfig(), testLogger())
}

func TestGradePendingHappyPath(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))
	events := &fakeEvents{}

	grader := &fakeGrader{grade: func(_ int, items []ai.GradeItem) (ai.GradeResult, error) {
		require.Len(t, items, 2)
		return ai.GradeResult{
			Awards: fullAwards(exercise, 4, 8),
			Raw:    json.RawMessage(`{"answers":[]}`),
		}, nil
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, events)

	report, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, dto.GradingReportResponse{Checked: 1, Failed: 0, Total: 1}, report)

	graded, err := submissionRepo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusChecked, graded.Status)
	require.Equal(t, 12.0, graded.MarksObtained)
	require.Equal(t, 80.0, graded.Percentage)
	require.NotNil(t, graded.CheckedAt)
	require.False(t, graded.Published)

	for _, answer := range graded.Answers {
		require.Equal(t, models.CheckedByAI, answer.CheckedBy)
		require.NotNil(t, answer.AIMarks)
		require.Equal(t, answer.AwardedMarks, *answer.AIMarks)
		require.Equal(t, "generated feedback", answer.AIFeedback)
		require.NotEmpty(t, answer.AIRaw)
	}

	require.Equal(t, []string{"classmark.grading.completed"}, events.published())
}

func TestGradePendingRetriesTransientOracleFailure(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))

	grader := &fakeGrader{grade: func(call int, _ []ai.GradeItem) (ai.GradeResult, error) {
		if call < 3 {
			return ai.GradeResult{}, errors.New("oracle timeout")
		}
		return ai.GradeResult{Awards: fullAwards(exercise, 5, 10)}, nil
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, nil)

	report, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 3, grader.callCount())

	graded, err := submissionRepo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 15.0, graded.MarksObtained)
	require.Equal(t, 100.0, graded.Percentage)
}

func TestGradePendingLeavesSubmissionPendingAfterExhaustedRetries(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))

	grader := &fakeGrader{grade: func(_ int, _ []ai.GradeItem) (ai.GradeResult, error) {
		return ai.GradeResult{}, errors.New("oracle down")
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, nil)

	report, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, dto.GradingReportResponse{Checked: 0, Failed: 1, Total: 1}, report)
	require.Equal(t, 3, grader.callCount())

	submission, err := submissionRepo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, submission.Status)
	require.Zero(t, submission.MarksObtained)
	for _, answer := range submission.Answers {
		require.Equal(t, models.CheckedByPending, answer.CheckedBy)
	}
}

func TestGradePendingIsolatesFailuresWithinBatch(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	submissionRepo := newFakeSubmissionRepo(
		pendingSubmission(1, 42, exercise),
		pendingSubmission(2, 43, exercise),
		pendingSubmission(3, 44, exercise),
	)

	// The second submission answers with a marker the grader keys on to fail.
	poisoned, err := submissionRepo.GetByID(context.Background(), 2)
	require.NoError(t, err)
	poisoned.Answers[0].Text = "poison"
	require.NoError(t, submissionRepo.Update(context.Background(), &poisoned))

	grader := &fakeGrader{grade: func(_ int, items []ai.GradeItem) (ai.GradeResult, error) {
		if items[0].StudentAnswer == "poison" {
			return ai.GradeResult{}, errors.New("oracle refused")
		}
		return ai.GradeResult{Awards: fullAwards(exercise, 3, 6)}, nil
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, nil)

	report, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, dto.GradingReportResponse{Checked: 2, Failed: 1, Total: 3}, report)

	for _, tc := range []struct {
		id     uint
		status string
	}{
		{1, models.SubmissionStatusChecked},
		{2, models.SubmissionStatusPending},
		{3, models.SubmissionStatusChecked},
	} {
		submission, err := submissionRepo.GetByID(context.Background(), tc.id)
		require.NoError(t, err)
		require.Equal(t, tc.status, submission.Status)
	}

	// A second run only selects the survivor of the first.
	grader.grade = func(_ int, _ []ai.GradeItem) (ai.GradeResult, error) {
		return ai.GradeResult{Awards: fullAwards(exercise, 2, 4)}, nil
	}
	report, err = svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, dto.GradingReportResponse{Checked: 1, Failed: 0, Total: 1}, report)
}

func TestGradePendingRejectsIncompleteOracleReply(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))

	grader := &fakeGrader{grade: func(_ int, _ []ai.GradeItem) (ai.GradeResult, error) {
		return ai.GradeResult{Awards: []ai.Award{{QuestionID: 101, Marks: 4}}}, nil
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, nil)

	report, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, dto.GradingReportResponse{Checked: 0, Failed: 1, Total: 1}, report)

	submission, err := submissionRepo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, submission.Status)
}

func TestGradePendingWithNothingPending(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	events := &fakeEvents{}
	grader := &fakeGrader{grade: func(_ int, _ []ai.GradeItem) (ai.GradeResult, error) {
		t.Fatal("grader must not be called")
		return ai.GradeResult{}, nil
	}}

	svc := newGradingService(exerciseRepo, newFakeSubmissionRepo(), grader, events)

	report, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, dto.GradingReportResponse{}, report)
	require.Empty(t, events.published())
}

func TestGradePendingWithoutGrader(t *testing.T) {
	exercise := gradingExercise()
	svc := newGradingService(newFakeExerciseRepo(exercise), newFakeSubmissionRepo(), nil, nil)

	_, err := svc.GradePending(context.Background(), exercise.ID)
	require.ErrorIs(t, err, ErrGraderUnavailable)
}

func TestGradePendingUnknownExerciseWinsOverMissingGrader(t *testing.T) {
	svc := newGradingService(newFakeExerciseRepo(), newFakeSubmissionRepo(), nil, nil)

	_, err := svc.GradePending(context.Background(), 99)
	require.ErrorIs(t, err, ErrExerciseNotFound)
}

func TestGradePendingUnknownExercise(t *testing.T) {
	grader := &fakeGrader{grade: func(_ int, _ []ai.GradeItem) (ai.GradeResult, error) {
		return ai.GradeResult{}, nil
	}}
	svc := newGradingService(newFakeExerciseRepo(), newFakeSubmissionRepo(), grader, nil)

	_, err := svc.GradePending(context.Background(), 99)
	require.ErrorIs(t, err, ErrExerciseNotFound)
}

func TestGradePendingCancelledContextCountsUnreachedAsFailed(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)

	submissions := make([]models.Submission, 0, 7)
	for i := uint(1); i <= 7; i++ {
		submissions = append(submissions, pendingSubmission(i, 40+i, exercise))
	}
	submissionRepo := newFakeSubmissionRepo(submissions...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grader := &fakeGrader{grade: func(call int, _ []ai.GradeItem) (ai.GradeResult, error) {
		// Cancel on the batch's last call, once every sibling is already past
		// its retry pre-check, so the second batch is never reached.
		if call == 5 {
			cancel()
		}
		return ai.GradeResult{Awards: fullAwards(exercise, 1, 1)}, nil
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, nil)

	report, err := svc.GradePending(ctx, exercise.ID)
	require.NoError(t, err)
	require.Equal(t, 7, report.Total)
	require.Equal(t, 5, report.Checked)
	require.Equal(t, 2, report.Failed, "unreached submissions count as failed")
}

func TestReconcileTeacherOverrideAfterAIGrade(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))

	grader := &fakeGrader{grade: func(_ int, _ []ai.GradeItem) (ai.GradeResult, error) {
		return ai.GradeResult{Awards: fullAwards(exercise, 4, 8)}, nil
	}}

	svc := newGradingService(exerciseRepo, submissionRepo, grader, nil)

	_, err := svc.GradePending(context.Background(), exercise.ID)
	require.NoError(t, err)

	response, err := svc.Reconcile(context.Background(), 1, dto.ReconcileRequest{
		Awards: []dto.AwardRequest{{QuestionID: 101, Marks: 5, Feedback: "full credit on review"}},
	})
	require.NoError(t, err)
	require.Equal(t, 13.0, response.MarksObtained)
	require.Equal(t, 86.67, response.Percentage)
	require.Equal(t, models.SubmissionStatusChecked, response.Status)

	require.Equal(t, models.CheckedByBoth, response.Answers[0].CheckedBy)
	require.Equal(t, 5.0, response.Answers[0].AwardedMarks)
	require.NotNil(t, response.Answers[0].AIMarks)
	require.Equal(t, 4.0, *response.Answers[0].AIMarks, "oracle marks survive the override for audit")
	require.Equal(t, "full credit on review", response.Answers[0].TeacherFeedback)

	// The untouched answer keeps its oracle award and provenance.
	require.Equal(t, models.CheckedByAI, response.Answers[1].CheckedBy)
	require.Equal(t, 8.0, response.Answers[1].AwardedMarks)
}

func TestReconcilePendingSubmissionBecomesTeacherChecked(t *testing.T) {
	exercise := gradingExercise()
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))
	svc := newGradingService(newFakeExerciseRepo(exercise), submissionRepo, nil, nil)

	response, err := svc.Reconcile(context.Background(), 1, dto.ReconcileRequest{
		Awards: []dto.AwardRequest{
			{QuestionID: 101, Marks: 3},
			{QuestionID: 102, Marks: 7},
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusChecked, response.Status)
	require.Equal(t, 10.0, response.MarksObtained)
	for _, answer := range response.Answers {
		require.Equal(t, models.CheckedByTeacher, answer.CheckedBy)
		require.Nil(t, answer.AIMarks)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	exercise := gradingExercise()
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))
	svc := newGradingService(newFakeExerciseRepo(exercise), submissionRepo, nil, nil)

	payload := dto.ReconcileRequest{
		Awards: []dto.AwardRequest{{QuestionID: 101, Marks: 4.5}, {QuestionID: 102, Marks: 9}},
	}

	first, err := svc.Reconcile(context.Background(), 1, payload)
	require.NoError(t, err)
	second, err := svc.Reconcile(context.Background(), 1, payload)
	require.NoError(t, err)

	require.Equal(t, first.MarksObtained, second.MarksObtained)
	require.Equal(t, first.Percentage, second.Percentage)
	require.Equal(t, 13.5, second.MarksObtained)
	require.Equal(t, 90.0, second.Percentage)
}

func TestReconcileRejectsOutOfRangeAward(t *testing.T) {
	exercise := gradingExercise()
	submissionRepo := newFakeSubmissionRepo(pendingSubmission(1, 42, exercise))
	svc := newGradingService(newFakeExerciseRepo(exercise), submissionRepo, nil, nil)

	_, err := svc.Reconcile(context.Background(), 1, dto.ReconcileRequest{
		Awards: []dto.AwardRequest{{QuestionID: 101, Marks: 6}},
	})
	require.ErrorIs(t, err, ErrInvalidAward)

	_, err = svc.Reconcile(context.Background(), 1, dto.ReconcileRequest{
		Awards: []dto.AwardRequest{{QuestionID: 999, Marks: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidAward)

	// A rejected batch leaves the submission untouched, even when other awards
	// in the same batch were valid.
	_, err = svc.Reconcile(context.Background(), 1, dto.ReconcileRequest{
		Awards: []dto.AwardRequest{
			{QuestionID: 101, Marks: 5},
			{QuestionID: 102, Marks: 11},
		},
	})
	require.ErrorIs(t, err, ErrInvalidAward)

	submission, err := submissionRepo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, submission.Status)
	require.Zero(t, submission.Answers[0].AwardedMarks)
}

func TestReconcileUnknownSubmission(t *testing.T) {
	svc := newGradingService(newFakeExerciseRepo(), newFakeSubmissionRepo(), nil, nil)

	_, err := svc.Reconcile(context.Background(), 5, dto.ReconcileRequest{
		Awards: []dto.AwardRequest{{QuestionID: 101, Marks: 1}},
	})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestPublishResultsFlipsOnlyChecked(t *testing.T) {
	exercise := gradingExercise()
	exerciseRepo := newFakeExerciseRepo(exercise)

	checked := pendingSubmission(1, 42, exercise)
	checked.Status = models.SubmissionStatusChecked
	alreadyPublished := pendingSubmission(2, 43, exercise)
	alreadyPublished.Status = models.SubmissionStatusChecked
	alreadyPublished.Published = true
	stillPending := pendingSubmission(3, 44, exercise)

	submissionRepo := newFakeSubmissionRepo(checked, alreadyPublished, stillPending)
	events := &fakeEvents{}
	svc := newGradingService(exerciseRepo, submissionRepo, nil, events)

	count, err := svc.PublishResults(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, []string{"classmark.results.published"}, events.published())

	// The pass is idempotent and silent when nothing flips.
	count, err = svc.PublishResults(context.Background(), exercise.ID)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, events.published(), 1)

	pending, err := submissionRepo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	require.False(t, pending.Published)
}

func TestPublishResultsUnknownExercise(t *testing.T) {
	svc := newGradingService(newFakeExerciseRepo(), newFakeSubmissionRepo(), nil, nil)

	_, err := svc.PublishResults(context.Background(), 12)
	require.ErrorIs(t, err, ErrExerciseNotFound)
}
