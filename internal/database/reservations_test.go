package database

import (
	"context"
	"testing"
	"time"

	"petboarding/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReservation(t *testing.T, start, end int, createdAt time.Time) *models.Reservation {
	t.Helper()
	e := day(end)
	note := "shy"
	r, err := models.NewReservation(models.NewReservationParams{
		UserID:     "u1",
		AnimalID:   "a1",
		AnimalName: "Milo",
		ServiceID:  "boarding",
		StartDate:  day(start),
		EndDate:    &e,
		Comments:   &note,
	}, createdAt)
	require.NoError(t, err)
	return r
}

func TestReservation_RoundTripWithLinks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedPlanning(t, db, 2, 10, 11)

	r := newReservation(t, 10, 11, testNow)
	for _, s := range p.Slots {
		r.AddReservedSlot(s, testNow)
	}
	require.NoError(t, r.SetTotalPrice(decimal.RequireFromString("60.00")))
	require.NoError(t, db.CreateReservation(ctx, r))

	got, err := db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCreated, got.Status)
	assert.Equal(t, day(10), got.StartDate)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, day(11), *got.EndDate)
	assert.Equal(t, "shy", *got.Comments)
	assert.True(t, got.TotalPrice.Valid)
	assert.Equal(t, "60", got.TotalPrice.Decimal.String())
	assert.ElementsMatch(t, r.ActiveSlotIDs(), got.ActiveSlotIDs())

	_, err = db.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReservation_UpdateReleasesLinks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedPlanning(t, db, 2, 10, 11)

	r := newReservation(t, 10, 11, testNow)
	for _, s := range p.Slots {
		r.AddReservedSlot(s, testNow)
	}
	require.NoError(t, db.CreateReservation(ctx, r))

	later := testNow.Add(time.Hour)
	r.ReleaseAllReservedSlots(later)
	_, err := r.Cancel(false, later)
	require.NoError(t, err)
	require.NoError(t, db.UpdateReservation(ctx, r))
	assert.Equal(t, int64(2), r.Version)

	got, err := db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)
	assert.Empty(t, got.ActiveSlotIDs())
	require.Len(t, got.Slots, 2)
	assert.True(t, got.Slots[0].ReleasedAt.Equal(later))
}

func TestReservation_OptimisticLock(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	r := newReservation(t, 10, 10, testNow)
	require.NoError(t, db.CreateReservation(ctx, r))

	first, err := db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	second, err := db.GetReservation(ctx, r.ID)
	require.NoError(t, err)

	require.NoError(t, first.MarkAsPaid(testNow))
	require.NoError(t, db.UpdateReservation(ctx, first))

	_, err = second.Cancel(false, testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, db.UpdateReservation(ctx, second), ErrConcurrentModification)
}

func TestListExpiredReservations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := newReservation(t, 10, 10, testNow.Add(-2*time.Hour))
	fresh := newReservation(t, 10, 10, testNow.Add(-5*time.Minute))
	paid := newReservation(t, 10, 10, testNow.Add(-3*time.Hour))
	require.NoError(t, paid.MarkAsPaid(testNow))
	for _, r := range []*models.Reservation{old, fresh, paid} {
		require.NoError(t, db.CreateReservation(ctx, r))
	}

	expired, err := db.ListExpiredReservations(ctx, testNow.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	byUser, err := db.ListReservationsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, byUser, 3)

	some, err := db.GetReservations(ctx, []string{old.ID, fresh.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestListExpiredReservations_SkipsOpenBaskets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	held := newReservation(t, 10, 10, testNow.Add(-2*time.Hour))
	orphan := newReservation(t, 11, 11, testNow.Add(-2*time.Hour))
	for _, r := range []*models.Reservation{held, orphan} {
		require.NoError(t, db.CreateReservation(ctx, r))
	}
	b, err := models.NewBasket("u1", testNow)
	require.NoError(t, err)
	require.NoError(t, b.AddReservation(held.ID, testNow))
	require.NoError(t, db.CreateBasket(ctx, b))

	expired, err := db.ListExpiredReservations(ctx, testNow.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, orphan.ID, expired[0].ID)

	_, err = b.Cancel(testNow)
	require.NoError(t, err)
	require.NoError(t, db.UpdateBasket(ctx, b))

	expired, err = db.ListExpiredReservations(ctx, testNow.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}
