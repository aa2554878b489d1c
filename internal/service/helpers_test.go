package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/classmark/classmark-api/internal/config"
	"github.com/classmark/classmark-api/internal/models"
	"github.com/classmark/classmark-api/internal/repository"
	"github.com/classmark/classmark-api/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// fastGradingConfig zeroes every delay so runs finish instantly under test.
func fastGradingConfig() config.GradingConfig {
	return config.GradingConfig{
		BatchSize:   5,
		MaxAttempts: 3,
		RetryDelay:  0,
		BatchDelay:  0,
	}
}

type fakeExerciseRepo struct {
	mu        sync.Mutex
	exercises map[uint]models.Exercise
}

func newFakeExerciseRepo(exercises ...models.Exercise) *fakeExerciseRepo {
	repo := &fakeExerciseRepo{exercises: make(map[uint]models.Exercise)}
	for _, exercise := range exercises {
		repo.exercises[exercise.ID] = exercise
	}
	return repo
}

func (f *fakeExerciseRepo) List(_ context.Context, filter repository.ExerciseFilter) ([]models.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Exercise
	for _, exercise := range f.exercises {
		if filter.Status != nil && exercise.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && exercise.Kind != *filter.Kind {
			continue
		}
		result = append(result, exercise)
	}
	return result, nil
}

func (f *fakeExerciseRepo) GetByID(_ context.Context, id uint) (models.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	exercise, ok := f.exercises[id]
	if !ok {
		return models.Exercise{}, gorm.ErrRecordNotFound
	}
	return exercise, nil
}

func (f *fakeExerciseRepo) Create(_ context.Context, exercise *models.Exercise) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if exercise.ID == 0 {
		exercise.ID = uint(len(f.exercises) + 1)
	}
	for i := range exercise.Questions {
		if exercise.Questions[i].ID == 0 {
			exercise.Questions[i].ID = exercise.ID*100 + uint(i) + 1
		}
	}
	f.exercises[exercise.ID] = *exercise
	return nil
}

func (f *fakeExerciseRepo) Update(_ context.Context, exercise *models.Exercise) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.exercises[exercise.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.exercises[exercise.ID] = *exercise
	return nil
}

type fakeSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[uint]models.Submission
	nextID      uint
	updateErr   error
}

func newFakeSubmissionRepo(submissions ...models.Submission) *fakeSubmissionRepo {
	repo := &fakeSubmissionRepo{submissions: make(map[uint]models.Submission), nextID: 1}
	for _, submission := range submissions {
		repo.submissions[submission.ID] = submission
		if submission.ID >= repo.nextID {
			repo.nextID = submission.ID + 1
		}
	}
	return repo
}

func (f *fakeSubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Submission
	for id := uint(1); id < f.nextID; id++ {
		submission, ok := f.submissions[id]
		if !ok {
			continue
		}
		if filter.ExerciseID != nil && submission.ExerciseID != *filter.ExerciseID {
			continue
		}
		if filter.StudentID != nil && submission.StudentID != *filter.StudentID {
			continue
		}
		if filter.Status != nil && submission.Status != *filter.Status {
			continue
		}
		if filter.Published != nil && submission.Published != *filter.Published {
			continue
		}
		result = append(result, submission)
	}
	return result, nil
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	submission, ok := f.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (f *fakeSubmissionRepo) GetByExerciseAndStudent(_ context.Context, exerciseID, studentID uint) (models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, submission := range f.submissions {
		if submission.ExerciseID == exerciseID && submission.StudentID == studentID {
			return submission, nil
		}
	}
	return models.Submission{}, gorm.ErrRecordNotFound
}

func (f *fakeSubmissionRepo) ListPending(ctx context.Context, exerciseID uint) ([]models.Submission, error) {
	status := models.SubmissionStatusPending
	return f.List(ctx, repository.SubmissionFilter{ExerciseID: &exerciseID, Status: &status})
}

func (f *fakeSubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.submissions {
		if existing.ExerciseID == submission.ExerciseID && existing.StudentID == submission.StudentID {
			return gorm.ErrDuplicatedKey
		}
	}
	submission.ID = f.nextID
	f.nextID++
	f.submissions[submission.ID] = *submission
	return nil
}

func (f *fakeSubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.submissions[submission.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.submissions[submission.ID] = *submission
	return nil
}

func (f *fakeSubmissionRepo) PublishChecked(_ context.Context, exerciseID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for id, submission := range f.submissions {
		if submission.ExerciseID != exerciseID || submission.Status != models.SubmissionStatusChecked || submission.Published {
			continue
		}
		submission.Published = true
		f.submissions[id] = submission
		count++
	}
	return count, nil
}

type fakeStudentRepo struct {
	students map[uint]models.Student
}

func newFakeStudentRepo(students ...models.Student) *fakeStudentRepo {
	repo := &fakeStudentRepo{students: make(map[uint]models.Student)}
	for _, student := range students {
		repo.students[student.ID] = student
	}
	return repo
}

func (f *fakeStudentRepo) GetByID(_ context.Context, id uint) (models.Student, error) {
	student, ok := f.students[id]
	if !ok {
		return models.Student{}, gorm.ErrRecordNotFound
	}
	return student, nil
}

// fakeGrader delegates to a configurable grade function and counts calls.
type fakeGrader struct {
	mu    sync.Mutex
	calls int
	grade func(call int, items []ai.GradeItem) (ai.GradeResult, error)
}

func (f *fakeGrader) Grade(_ context.Context, items []ai.GradeItem) (ai.GradeResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.grade(call, items)
}

func (f *fakeGrader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeEvents) Publish(subject string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeEvents) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

// gradingExercise is the fixture most grading tests share: two questions worth
// 5 and 10 marks respectively, 15 total.
func gradingExercise() models.Exercise {
	return models.Exercise{
		ID:         1,
		Title:      "Cell Biology Quiz",
		Kind:       models.ExerciseKindQuiz,
		Status:     models.ExerciseStatusPublished,
		TotalMarks: 15,
		CreatedBy:  7,
		Questions: []models.Question{
			{ID: 101, ExerciseID: 1, Position: 1, Text: "Define osmosis", Marks: 5, ReferenceAnswer: "Water crosses a membrane"},
			{ID: 102, ExerciseID: 1, Position: 2, Text: "Explain photosynthesis", Marks: 10, ReferenceAnswer: "Light to chemical energy"},
		},
	}
}

func pendingSubmission(id, studentID uint, exercise models.Exercise) models.Submission {
	answers := make([]models.Answer, 0, len(exercise.Questions))
	for _, question := range exercise.Questions {
		answers = append(answers, models.Answer{
			ID:           id*10 + question.ID%100,
			SubmissionID: id,
			QuestionID:   question.ID,
			Text:         "a student answer",
			CheckedBy:    models.CheckedByPending,
		})
	}
	return models.Submission{
		ID:          id,
		ExerciseID:  exercise.ID,
		StudentID:   studentID,
		Status:      models.SubmissionStatusPending,
		SubmittedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Exercise:    exercise,
		Answers:     answers,
	}
}

func fullAwards(exercise models.Exercise, marks ...float64) []ai.Award {
	awards := make([]ai.Award, 0, len(exercise.Questions))
	for i, question := range exercise.Questions {
		awards = append(awards, ai.Award{
			QuestionID: question.ID,
			Marks:      marks[i],
			Feedback:   "generated feedback",
		})
	}
	return awards
}
