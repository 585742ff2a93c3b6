package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/investmate/internal/domain"
)

func setupTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newAlert(id string, at time.Time, repeat domain.Repeat) *domain.Alert {
	return &domain.Alert{
		ID:          id,
		UserID:      "u1",
		Type:        domain.AlertPreMarket,
		Content:     "Levels for today: 19450 / 19600",
		ScheduledAt: at,
		Repeat:      repeat,
		Status:      domain.StatusPending,
		CreatedAt:   at.Add(-time.Hour),
	}
}

func TestInsertAndGetRoundTripsNanos(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	at := time.Date(2025, time.May, 5, 9, 15, 0, 123456789, time.UTC)

	in := newAlert("a1", at, domain.RepeatDaily)
	in.ClubID = "c1"
	in.AIContext = true
	require.NoError(t, repo.InsertAlert(ctx, in))

	got, err := repo.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(at))
	assert.Equal(t, "c1", got.ClubID)
	assert.True(t, got.AIContext)
	assert.Equal(t, domain.RepeatDaily, got.Repeat)
	assert.Nil(t, got.LastFiredAt)

	_, err = repo.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDueFiltersAndOrders(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertAlert(ctx, newAlert("late", now.Add(-time.Minute), domain.RepeatNone)))
	require.NoError(t, repo.InsertAlert(ctx, newAlert("early", now.Add(-time.Hour), domain.RepeatNone)))
	require.NoError(t, repo.InsertAlert(ctx, newAlert("future", now.Add(time.Hour), domain.RepeatNone)))
	require.NoError(t, repo.InsertAlert(ctx, newAlert("exact", now, domain.RepeatNone)))
	cancelled := newAlert("cancelled", now.Add(-2*time.Hour), domain.RepeatNone)
	require.NoError(t, repo.InsertAlert(ctx, cancelled))
	ok, err := repo.Cancel(ctx, "cancelled")
	require.NoError(t, err)
	require.True(t, ok)

	due, err := repo.ListDue(ctx, now, 100)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"early", "late", "exact"}, ids)

	due, err = repo.ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestClaimIsConditional(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	observed := now.Add(-time.Minute)
	require.NoError(t, repo.InsertAlert(ctx, newAlert("a1", observed, domain.RepeatDaily)))

	first, _ := repo.GetAlert(ctx, "a1")
	first.Advance(now, time.UTC)
	won, err := repo.Claim(ctx, first, observed)
	require.NoError(t, err)
	assert.True(t, won)

	// A second claimant that observed the same occurrence loses.
	second, _ := repo.GetAlert(ctx, "a1")
	second.ScheduledAt = observed
	second.Advance(now, time.UTC)
	won, err = repo.Claim(ctx, second, observed)
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.True(t, stored.ScheduledAt.Equal(observed.Add(24*time.Hour)))
	require.NotNil(t, stored.LastFiredAt)
	assert.True(t, stored.LastFiredAt.Equal(now))
}

func TestClaimLosesToCancel(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	at := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertAlert(ctx, newAlert("a1", at, domain.RepeatNone)))

	a, _ := repo.GetAlert(ctx, "a1")
	ok, err := repo.Cancel(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	a.Advance(at, time.UTC)
	won, err := repo.Claim(ctx, a, at)
	require.NoError(t, err)
	assert.False(t, won)

	stored, _ := repo.GetAlert(ctx, "a1")
	assert.Equal(t, domain.StatusCancelled, stored.Status)
}

func TestCancelIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertAlert(ctx, newAlert("a1", time.Now().UTC(), domain.RepeatNone)))

	ok, err := repo.Cancel(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Cancel(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Cancel(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListByUserKeepsHistory(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	at := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertAlert(ctx, newAlert("a1", at, domain.RepeatNone)))
	require.NoError(t, repo.InsertAlert(ctx, newAlert("a2", at.Add(time.Hour), domain.RepeatNone)))
	other := newAlert("b1", at, domain.RepeatNone)
	other.UserID = "u2"
	require.NoError(t, repo.InsertAlert(ctx, other))
	_, _ = repo.Cancel(ctx, "a2")

	got, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StatusCancelled, got[1].Status)
}
