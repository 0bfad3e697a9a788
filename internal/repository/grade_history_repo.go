package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/scrollu/portal-api/internal/models"
)

// GradeHistoryRepository archives completed grading passes.
type GradeHistoryRepository interface {
	Create(ctx context.Context, entry *models.GradeHistory) error
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradeHistory, error)
}

type gradeHistoryRepository struct {
	db *gorm.DB
}

// NewGradeHistoryRepository instantiates the repository.
func NewGradeHistoryRepository(db *gorm.DB) GradeHistoryRepository {
	return &gradeHistoryRepository{db: db}
}

func (r *gradeHistoryRepository) Create(ctx context.Context, entry *models.GradeHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gradeHistoryRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradeHistory, error) {
	var entries []models.GradeHistory
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("graded_at DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	return entries, nil
}
