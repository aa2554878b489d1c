package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/classmark/classmark-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	ExerciseID *uint
	StudentID  *uint
	Status     *string
	Published  *bool
}

// SubmissionRepository defines data operations for submissions and their answers.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetByExerciseAndStudent(ctx context.Context, exerciseID, studentID uint) (models.Submission, error)
	ListPending(ctx context.Context, exerciseID uint) ([]models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	PublishChecked(ctx context.Context, exerciseID uint) (int64, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Preload("Exercise").
		Preload("Exercise.Questions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Student").
		Preload("Answers", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		})
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.baseQuery(ctx)

	if filter.ExerciseID != nil {
		query = query.Where("exercise_id = ?", *filter.ExerciseID)
	}

	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if filter.Published != nil {
		query = query.Where("published = ?", *filter.Published)
	}

	var submissions []models.Submission
	if err := query.Order("submitted_at ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetByExerciseAndStudent(ctx context.Context, exerciseID, studentID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("exercise_id = ?", exerciseID).
		Where("student_id = ?", studentID).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) ListPending(ctx context.Context, exerciseID uint) ([]models.Submission, error) {
	status := models.SubmissionStatusPending
	return r.List(ctx, SubmissionFilter{ExerciseID: &exerciseID, Status: &status})
}

// Create persists the submission together with its answers in one transaction.
// The composite unique index on (exercise_id, student_id) rejects the loser of
// a duplicate-submission race with gorm.ErrDuplicatedKey.
func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

// Update saves the submission row and its answers. The preloaded Exercise and
// Student associations are never written back: grading owns only its own
// submission, and published exercise content is frozen.
func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Omit("Exercise", "Student").
		Save(submission).Error
}

// PublishChecked flips every checked, unpublished submission of the exercise
// to published and reports how many rows changed. Pending rows are never touched.
func (r *submissionRepository) PublishChecked(ctx context.Context, exerciseID uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("exercise_id = ?", exerciseID).
		Where("status = ?", models.SubmissionStatusChecked).
		Where("published = ?", false).
		Update("published", true)
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
