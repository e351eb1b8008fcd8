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

func TestBasket_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b, err := models.NewBasket("u1", testNow)
	require.NoError(t, err)
	require.NoError(t, b.AddReservation("r2", testNow))
	require.NoError(t, b.AddReservation("r1", testNow))
	require.NoError(t, db.CreateBasket(ctx, b))

	got, err := db.GetOpenBasketByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, []string{"r2", "r1"}, got.Items)

	found, err := db.FindOpenBasketByReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	_, err = got.RemoveReservation("r2", testNow)
	require.NoError(t, err)
	require.NoError(t, db.UpdateBasket(ctx, got))

	again, err := db.GetBasket(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, again.Items)
	assert.Equal(t, int64(2), again.Version)

	_, err = db.FindOpenBasketByReservation(ctx, "r2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBasket_OneOpenBasketPerUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := models.NewBasket("u1", testNow)
	require.NoError(t, err)
	require.NoError(t, db.CreateBasket(ctx, first))

	second, err := models.NewBasket("u1", testNow)
	require.NoError(t, err)
	assert.Error(t, db.CreateBasket(ctx, second))

	_, err = first.Cancel(testNow)
	require.NoError(t, err)
	require.NoError(t, db.UpdateBasket(ctx, first))
	require.NoError(t, db.CreateBasket(ctx, second))

	_, err = db.GetOpenBasketByUser(ctx, "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBasket_StaleUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b, err := models.NewBasket("u1", testNow)
	require.NoError(t, err)
	require.NoError(t, b.AddReservation("r1", testNow))
	require.NoError(t, db.CreateBasket(ctx, b))

	stale, err := db.GetBasket(ctx, b.ID)
	require.NoError(t, err)

	require.NoError(t, b.AddReservation("r2", testNow))
	require.NoError(t, db.UpdateBasket(ctx, b))

	require.NoError(t, stale.AddReservation("r3", testNow))
	assert.ErrorIs(t, db.UpdateBasket(ctx, stale), ErrConcurrentModification)
}

func TestListExpiredBaskets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old, err := models.NewBasket("u1", testNow.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, db.CreateBasket(ctx, old))

	fresh, err := models.NewBasket("u2", testNow)
	require.NoError(t, err)
	require.NoError(t, db.CreateBasket(ctx, fresh))

	failing, err := models.NewBasket("u3", testNow.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, failing.AddReservation("r1", testNow.Add(-2*time.Hour)))
	require.NoError(t, failing.AssignPayment("pay", testNow.Add(-2*time.Hour)))
	_, err = failing.RecordPaymentFailure(3, testNow.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, db.CreateBasket(ctx, failing))

	closed, err := models.NewBasket("u4", testNow.Add(-3*time.Hour))
	require.NoError(t, err)
	_, err = closed.Cancel(testNow.Add(-3 * time.Hour))
	require.NoError(t, err)
	require.NoError(t, db.CreateBasket(ctx, closed))

	expired, err := db.ListExpiredBaskets(ctx, testNow.Add(-30*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, failing.ID, expired[0].ID)
	assert.Equal(t, old.ID, expired[1].ID)
}

func TestPayment_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b, err := models.NewBasket("u1", testNow)
	require.NoError(t, err)
	require.NoError(t, db.CreateBasket(ctx, b))

	p, err := models.NewPayment(b.ID, decimal.RequireFromString("120.50"), "card", testNow)
	require.NoError(t, err)
	require.NoError(t, db.CreatePayment(ctx, p))

	require.NoError(t, p.MarkAsFailed("declined", testNow))
	require.NoError(t, db.UpdatePayment(ctx, p))

	got, err := db.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, got.Status)
	assert.Equal(t, "120.5", got.Amount.String())
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "declined", *got.FailureReason)

	_, err = db.GetPayment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
