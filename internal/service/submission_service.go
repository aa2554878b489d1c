package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/classmark/classmark-api/internal/dto"
	"github.com/classmark/classmark-api/internal/models"
	"github.com/classmark/classmark-api/internal/repository"
)

// ErrSubmissionNotFound indicates a submission could not be found.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrDuplicateSubmission indicates the student already submitted for this exercise.
var ErrDuplicateSubmission = errors.New("submission already exists for this exercise")

// ErrExerciseNotOpen indicates the exercise is a draft or its window has not opened yet.
var ErrExerciseNotOpen = errors.New("exercise is not open for submissions")

// ErrDeadlinePassed indicates the exercise deadline has already passed.
var ErrDeadlinePassed = errors.New("submission deadline has passed")

// ErrMalformedAnswers indicates the answer set does not match the exercise's questions.
var ErrMalformedAnswers = errors.New("answers do not match the exercise questions")

// ErrResultNotPublished indicates grading detail exists but has not been released.
var ErrResultNotPublished = errors.New("result not published")

// SubmissionService handles submission intake and student result retrieval.
type SubmissionService interface {
	Submit(ctx context.Context, studentID uint, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	GetResult(ctx context.Context, exerciseID, studentID uint) (dto.SubmissionResponse, error)
	List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	exercises   repository.ExerciseRepository
	students    repository.StudentRepository
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. The redis
// client may be nil; result caching is then skipped.
func NewSubmissionService(subRepo repository.SubmissionRepository, exerciseRepo repository.ExerciseRepository, studentRepo repository.StudentRepository, validate *validator.Validate, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		exercises:   exerciseRepo,
		students:    studentRepo,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

// Submit validates the answer set against the exercise and creates exactly one
// pending submission. Nothing is persisted when any answer is rejected.
func (s *submissionService) Submit(ctx context.Context, studentID uint, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	exercise, err := s.exercises.GetByID(ctx, payload.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrExerciseNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if !exercise.IsPublished() {
		return dto.SubmissionResponse{}, ErrExerciseNotOpen
	}

	submittedAt := s.now()
	if !exercise.AcceptsSubmissionsAt(submittedAt) {
		if exercise.DueAt != nil && submittedAt.After(*exercise.DueAt) {
			return dto.SubmissionResponse{}, ErrDeadlinePassed
		}
		return dto.SubmissionResponse{}, ErrExerciseNotOpen
	}

	if _, err := s.students.GetByID(ctx, studentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, fmt.Errorf("student %d not found", studentID)
		}
		return dto.SubmissionResponse{}, err
	}

	answers, err := s.buildAnswers(exercise, payload.Answers)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if _, err := s.submissions.GetByExerciseAndStudent(ctx, exercise.ID, studentID); err == nil {
		return dto.SubmissionResponse{}, ErrDuplicateSubmission
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		ExerciseID:  exercise.ID,
		StudentID:   studentID,
		Status:      models.SubmissionStatusPending,
		SubmittedAt: submittedAt,
		Answers:     answers,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		// The unique index resolves the race two concurrent submits lose to
		// the pre-check: the loser gets a duplicate, never a silent overwrite.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.SubmissionResponse{}, ErrDuplicateSubmission
		}
		return dto.SubmissionResponse{}, err
	}

	created, err := s.submissions.GetByID(ctx, submission.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().
		Uint("submission_id", created.ID).
		Uint("exercise_id", exercise.ID).
		Uint("student_id", studentID).
		Msg("submission received")

	return dto.NewSubmissionResponse(created), nil
}

// buildAnswers checks the answer set supplies exactly one answer per question
// of the exercise and returns the rows in question order, all awards zeroed.
func (s *submissionService) buildAnswers(exercise models.Exercise, payload []dto.AnswerCreateRequest) ([]models.Answer, error) {
	if len(payload) != len(exercise.Questions) {
		return nil, ErrMalformedAnswers
	}

	byQuestion := make(map[uint]dto.AnswerCreateRequest, len(payload))
	for _, answer := range payload {
		if _, ok := exercise.QuestionByID(answer.QuestionID); !ok {
			return nil, ErrMalformedAnswers
		}
		if _, dup := byQuestion[answer.QuestionID]; dup {
			return nil, ErrMalformedAnswers
		}
		byQuestion[answer.QuestionID] = answer
	}

	answers := make([]models.Answer, 0, len(exercise.Questions))
	for _, question := range exercise.Questions {
		answer, ok := byQuestion[question.ID]
		if !ok {
			return nil, ErrMalformedAnswers
		}
		answers = append(answers, models.Answer{
			QuestionID: question.ID,
			Text:       strings.TrimSpace(s.sanitizer.Sanitize(answer.Text)),
			CheckedBy:  models.CheckedByPending,
		})
	}

	return answers, nil
}

// GetResult returns the student's graded submission once it has been released.
// A checked-but-unpublished submission is indistinguishable from a pending one
// to the student: both yield ErrResultNotPublished.
func (s *submissionService) GetResult(ctx context.Context, exerciseID, studentID uint) (dto.SubmissionResponse, error) {
	cacheKey := fmt.Sprintf("result:exercise:%d:student:%d", exerciseID, studentID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.SubmissionResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Str("key", cacheKey).Msg("result cache hit")
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read result cache")
		}
	}

	submission, err := s.submissions.GetByExerciseAndStudent(ctx, exerciseID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if !submission.Published {
		return dto.SubmissionResponse{}, ErrResultNotPublished
	}

	response := dto.NewSubmissionResponse(submission)

	// Publication is one-way, so a cached published result can never go stale.
	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store result cache")
			}
		}
	}

	return response, nil
}

func (s *submissionService) List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{
		ExerciseID: filter.ExerciseID,
		StudentID:  filter.StudentID,
		Status:     filter.Status,
	})
	if err != nil {
		return nil, err
	}

	return dto.NewSubmissionResponseSlice(submissions), nil
}
