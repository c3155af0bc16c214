package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/keyshop/internal/models"
)

func (r *GormRepo) GetTitle(ctx context.Context, id uuid.UUID) (*models.Title, error) {
	var title models.Title
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&title).Error; err != nil {
		return nil, err
	}
	return &title, nil
}

// LockTitle reads the title row FOR UPDATE; review writers for one title
// serialize on it.
func (r *GormRepo) LockTitle(ctx context.Context, id uuid.UUID) (*models.Title, error) {
	var title models.Title
	if err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&title).Error; err != nil {
		return nil, err
	}
	return &title, nil
}

func (r *GormRepo) SetAverageRating(ctx context.Context, id uuid.UUID, rating float64) error {
	return r.DB.WithContext(ctx).
		Model(&models.Title{}).
		Where("id = ?", id).
		Update("average_rating", rating).Error
}

func (r *GormRepo) CreateTitle(ctx context.Context, title *models.Title) (*models.Title, error) {
	if err := r.DB.WithContext(ctx).Create(title).Error; err != nil {
		return nil, err
	}
	return title, nil
}
