package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

// AverageRating is the mean rating rounded up to the next tenth, 0 for no
// ratings. Integer arithmetic keeps exact tenths from being pushed up by
// float error.
func AverageRating(ratings []int) float64 {
	n := int64(len(ratings))
	if n == 0 {
		return 0
	}
	var sum int64
	for _, r := range ratings {
		sum += int64(r)
	}
	tenths := (sum*10 + n - 1) / n
	return float64(tenths) / 10
}

type RatingAggregator struct {
	Repo    *repo.GormRepo
	Indexer Indexer
}

// Recompute stores the title's average rating. The title row is locked for
// the duration, so a concurrent review write either lands before the read or
// waits for the store.
func (a *RatingAggregator) Recompute(ctx context.Context, titleID uuid.UUID) (float64, error) {
	l := logging.FromContext(ctx).With("svc", "rating.recompute", "title_id", titleID)

	var avg float64
	err := a.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := a.Repo.WithTx(tx)
		if _, err := r.LockTitle(ctx, titleID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: title %s", ErrNotFound, titleID)
			}
			return err
		}

		var err error
		avg, err = recomputeLocked(ctx, r, titleID)
		return err
	})
	if err != nil {
		l.Warn("recompute_error", "error", err)
		return 0, err
	}

	a.index(ctx, titleID, avg)
	l.Info("recompute_success", "average_rating", avg)
	return avg, nil
}

// recomputeLocked expects r to be bound to a transaction that already holds
// the title lock.
func recomputeLocked(ctx context.Context, r *repo.GormRepo, titleID uuid.UUID) (float64, error) {
	ratings, err := r.RatingsForTitle(ctx, titleID)
	if err != nil {
		return 0, err
	}
	avg := AverageRating(ratings)
	if err := r.SetAverageRating(ctx, titleID, avg); err != nil {
		return 0, err
	}
	return avg, nil
}

func (a *RatingAggregator) index(ctx context.Context, titleID uuid.UUID, avg float64) {
	if a.Indexer == nil {
		return
	}
	if err := a.Indexer.IndexRating(ctx, titleID, avg); err != nil {
		logging.FromContext(ctx).Warn("index_rating_error", "title_id", titleID, "error", err)
	}
}
