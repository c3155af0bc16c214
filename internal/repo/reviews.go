package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/models"
)

func (r *GormRepo) CreateReview(ctx context.Context, review *models.Review) (*models.Review, error) {
	if err := r.DB.WithContext(ctx).Create(review).Error; err != nil {
		return nil, err
	}
	return review, nil
}

func (r *GormRepo) GetReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	var review models.Review
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&review).Error; err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *GormRepo) SaveReview(ctx context.Context, review *models.Review) error {
	return r.DB.WithContext(ctx).Save(review).Error
}

func (r *GormRepo) DeleteReview(ctx context.Context, id uuid.UUID) error {
	return r.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.Review{}).Error
}

// RatingsForTitle reads the ratings of non-deleted reviews.
func (r *GormRepo) RatingsForTitle(ctx context.Context, titleID uuid.UUID) ([]int, error) {
	var ratings []int
	err := r.DB.WithContext(ctx).
		Model(&models.Review{}).
		Where("title_id = ?", titleID).
		Pluck("rating", &ratings).Error
	return ratings, err
}

func (r *GormRepo) ListReviews(ctx context.Context, titleID uuid.UUID, includeHidden bool, limit, offset int) (int64, []models.Review, error) {
	query := func() *gorm.DB {
		q := r.DB.WithContext(ctx).Model(&models.Review{}).Where("title_id = ?", titleID)
		if !includeHidden {
			q = q.Where("hidden = ?", false)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var reviews []models.Review
	if err := query().Order("created_at DESC").Limit(limit).Offset(offset).Find(&reviews).Error; err != nil {
		return 0, nil, err
	}
	return total, reviews, nil
}
