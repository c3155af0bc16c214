package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/keyshop/internal/models"
)

func TestAverageRating(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ratings []int
		want    float64
	}{
		{nil, 0},
		{[]int{5}, 5.0},
		{[]int{5, 5}, 5.0},
		{[]int{5, 4, 4}, 4.4},
		{[]int{4, 5}, 4.5},
		{[]int{1, 2}, 1.5},
		{[]int{1, 1, 2}, 1.4},
		{[]int{3, 3, 3, 4}, 3.3},
		{[]int{1, 1, 1, 1, 1, 1, 1, 1, 1, 2}, 1.1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AverageRating(tc.ratings), "%v", tc.ratings)
	}
}

func TestRatingAggregator_Recompute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	title := e.title(t, 1000, 0)

	avg, err := e.ratings.Recompute(ctx, title.ID)
	require.NoError(t, err)
	assert.Zero(t, avg)

	for _, r := range []int{5, 4, 4} {
		_, err := e.repo.CreateReview(ctx, &models.Review{TitleID: title.ID, UserID: uuid.New(), Rating: r})
		require.NoError(t, err)
	}

	avg, err = e.ratings.Recompute(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.4, avg)

	stored, err := e.repo.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.4, stored.AverageRating)
	assert.Equal(t, 4.4, e.idx.ratings[title.ID])

	_, err = e.ratings.Recompute(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
