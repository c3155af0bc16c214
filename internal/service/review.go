package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

const TopicReviewEvents = "review_events"

type ReviewService struct {
	Repo      *repo.GormRepo
	Ratings   *RatingAggregator
	Publisher EventPublisher
}

type ReviewInput struct {
	Rating  int
	Comment string
}

type ReviewPatch struct {
	Rating  *int
	Comment *string
}

func validRating(r int) error {
	if r < 1 || r > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	return nil
}

// mutate runs fn and the rating recomputation in one transaction that holds
// the title lock from before the review write until after the average is
// stored.
func (s *ReviewService) mutate(ctx context.Context, titleID uuid.UUID, fn func(r *repo.GormRepo) error) (float64, error) {
	var avg float64
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.Repo.WithTx(tx)
		if _, err := r.LockTitle(ctx, titleID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: title %s", ErrNotFound, titleID)
			}
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		var err error
		avg, err = recomputeLocked(ctx, r, titleID)
		return err
	})
	return avg, err
}

func (s *ReviewService) Create(ctx context.Context, titleID, userID uuid.UUID, in ReviewInput) (*models.Review, error) {
	l := logging.FromContext(ctx).With("svc", "review.create", "title_id", titleID)

	if err := validRating(in.Rating); err != nil {
		return nil, err
	}

	review := &models.Review{
		TitleID: titleID,
		UserID:  userID,
		Rating:  in.Rating,
		Comment: strings.TrimSpace(in.Comment),
	}
	avg, err := s.mutate(ctx, titleID, func(r *repo.GormRepo) error {
		_, err := r.CreateReview(ctx, review)
		return err
	})
	if err != nil {
		l.Warn("create_review_error", "error", err)
		return nil, err
	}

	s.after(ctx, "review_created", review, avg)
	l.Info("create_review_success", "review_id", review.ID, "average_rating", avg)
	return review, nil
}

// Update edits the caller's own review.
func (s *ReviewService) Update(ctx context.Context, reviewID, userID uuid.UUID, patch ReviewPatch) (*models.Review, error) {
	l := logging.FromContext(ctx).With("svc", "review.update", "review_id", reviewID)

	if patch.Rating != nil {
		if err := validRating(*patch.Rating); err != nil {
			return nil, err
		}
	}

	existing, err := s.get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("%w: review %s belongs to another user", ErrForbidden, reviewID)
	}

	var review *models.Review
	avg, err := s.mutate(ctx, existing.TitleID, func(r *repo.GormRepo) error {
		cur, err := r.GetReview(ctx, reviewID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: review %s", ErrNotFound, reviewID)
			}
			return err
		}
		if patch.Rating != nil {
			cur.Rating = *patch.Rating
		}
		if patch.Comment != nil {
			cur.Comment = strings.TrimSpace(*patch.Comment)
		}
		review = cur
		return r.SaveReview(ctx, cur)
	})
	if err != nil {
		l.Warn("update_review_error", "error", err)
		return nil, err
	}

	s.after(ctx, "review_updated", review, avg)
	l.Info("update_review_success", "average_rating", avg)
	return review, nil
}

// Delete removes a review; admins may remove anyone's.
func (s *ReviewService) Delete(ctx context.Context, reviewID, userID uuid.UUID, isAdmin bool) error {
	l := logging.FromContext(ctx).With("svc", "review.delete", "review_id", reviewID)

	existing, err := s.get(ctx, reviewID)
	if err != nil {
		return err
	}
	if !isAdmin && existing.UserID != userID {
		return fmt.Errorf("%w: review %s belongs to another user", ErrForbidden, reviewID)
	}

	avg, err := s.mutate(ctx, existing.TitleID, func(r *repo.GormRepo) error {
		return r.DeleteReview(ctx, reviewID)
	})
	if err != nil {
		l.Warn("delete_review_error", "error", err)
		return err
	}

	s.after(ctx, "review_deleted", existing, avg)
	l.Info("delete_review_success", "average_rating", avg)
	return nil
}

// SetHidden toggles the moderation flag. Hidden reviews still count towards
// the average; they are only kept off the public listing.
func (s *ReviewService) SetHidden(ctx context.Context, reviewID uuid.UUID, hidden bool) (*models.Review, error) {
	review, err := s.get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.Hidden == hidden {
		return review, nil
	}
	review.Hidden = hidden
	if err := s.Repo.SaveReview(ctx, review); err != nil {
		logging.FromContext(ctx).Error("moderate_review_error", "review_id", reviewID, "error", err)
		return nil, err
	}
	return review, nil
}

func (s *ReviewService) ListByTitle(ctx context.Context, titleID uuid.UUID, includeHidden bool, limit, offset int) (int64, []models.Review, error) {
	return s.Repo.ListReviews(ctx, titleID, includeHidden, limit, offset)
}

func (s *ReviewService) get(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	review, err := s.Repo.GetReview(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: review %s", ErrNotFound, id)
		}
		return nil, err
	}
	return review, nil
}

func (s *ReviewService) after(ctx context.Context, typ string, review *models.Review, avg float64) {
	s.Ratings.index(ctx, review.TitleID, avg)
	publish(ctx, s.Publisher, TopicReviewEvents, review.TitleID.String(), ReviewEvent{
		Type:          typ,
		ReviewID:      review.ID,
		TitleID:       review.TitleID,
		UserID:        review.UserID,
		Rating:        review.Rating,
		AverageRating: avg,
	})
}
