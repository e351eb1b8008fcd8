package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/events"
	"petboarding/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBookReservation_ClaimsEveryDay(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 2, 10, 11, 12)

	r := env.book(t, "user-1", 10, dayPtr(12), 1)

	assert.Equal(t, models.ReservationCreated, r.Status)
	assert.Len(t, r.ActiveSlots(), 3)
	assert.True(t, r.TotalPrice.Valid)
	assert.Equal(t, "90", r.TotalPrice.Decimal.String())
	for _, d := range []int{10, 11, 12} {
		assert.Equal(t, 1, env.reserved(t, p, d), "day %d", d)
	}

	stored := env.reservation(t, r.ID)
	assert.Len(t, stored.ActiveSlots(), 3)
	env.pub.AssertCalled(t, "PublishJSON", events.EventReservationCreated, mock.Anything)
}

func TestBookReservation_SecondUserRejectedWhenFull(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 2, 10)

	env.book(t, "user-a", 10, nil, 1)

	_, err := env.booking.BookReservation(context.Background(), BookingRequest{
		UserID: "user-b", AnimalID: "rex", ServiceID: "boarding", StartDate: day(10), Quantity: 2,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCapacity)

	var unavailable *models.SlotUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, unavailable.Date.Equal(day(10)))

	assert.Equal(t, 1, env.reserved(t, p, 10))
	list, err := env.booking.ListUserReservations(context.Background(), "user-b")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBookReservation_MissingDay(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 2, 10, 11)

	_, err := env.booking.BookReservation(context.Background(), BookingRequest{
		UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10), EndDate: dayPtr(12),
	})
	var unavailable *models.SlotUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, unavailable.Date.Equal(day(12)))
	assert.Equal(t, 0, env.reserved(t, p, 10))
}

func TestBookReservation_UnknownService(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.booking.BookReservation(context.Background(), BookingRequest{
		UserID: "u", AnimalID: "a", ServiceID: "grooming", StartDate: day(10),
	})
	assert.ErrorIs(t, err, models.ErrCapacity)
}

func TestBookReservation_RollsBackOnMidRangeConflict(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 3, 10, 11, 12, 13)
	env.store = &flakyStore{
		Store:      env.db,
		reserveErr: map[string]error{p.GetSlotForDate(day(12)).ID: database.ErrCapacityConflict},
	}
	env.build()

	_, err := env.booking.BookReservation(context.Background(), BookingRequest{
		UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10), EndDate: dayPtr(13),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBookingFailed)

	for _, d := range []int{10, 11, 12, 13} {
		assert.Equal(t, 0, env.reserved(t, p, d), "day %d", d)
	}
	list, err := env.booking.ListUserReservations(context.Background(), "u")
	require.NoError(t, err)
	assert.Empty(t, list)
	env.pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
}

func TestBookReservation_StorageFailureIsNotCapacity(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 3, 10, 11)
	env.store = &flakyStore{
		Store:      env.db,
		reserveErr: map[string]error{p.GetSlotForDate(day(11)).ID: errDisk},
	}
	env.build()

	_, err := env.booking.BookReservation(context.Background(), BookingRequest{
		UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10), EndDate: dayPtr(11),
	})
	assert.ErrorIs(t, err, errDisk)
	assert.NotErrorIs(t, err, models.ErrCapacity)
	assert.Equal(t, 0, env.reserved(t, p, 10))
}

func TestBookReservation_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.opts.MaxBookingDays = 3
	env.build()
	env.seedPlanning(t, 3, 10, 11, 12, 13)

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"missing user", BookingRequest{AnimalID: "a", ServiceID: "boarding", StartDate: day(10)}, models.ErrMissingField},
		{"end before start", BookingRequest{UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(12), EndDate: dayPtr(10)}, models.ErrInvalidDateRange},
		{"negative quantity", BookingRequest{UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10), Quantity: -1}, models.ErrInvalidQuantity},
		{"too long", BookingRequest{UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10), EndDate: dayPtr(13)}, models.ErrRangeTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.booking.BookReservation(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

type denyLimiter struct{}

func (denyLimiter) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func TestBookReservation_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlanning(t, 3, 10)
	svc := NewBookingService(env.store, env.pub, env.clock, denyLimiter{}, Options{}, env.logger)

	_, err := svc.BookReservation(context.Background(), BookingRequest{
		UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10),
	})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestBookReservation_ConcurrentNeverOverbooks(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 3, 10, 11)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.booking.BookReservation(context.Background(), BookingRequest{
				UserID: "u", AnimalID: "a", ServiceID: "boarding", StartDate: day(10), EndDate: dayPtr(11),
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	assert.Equal(t, 3, env.reserved(t, p, 10))
	assert.Equal(t, 3, env.reserved(t, p, 11))
}

func TestCancelReservation_ReleasesAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 2, 10, 11)
	r := env.book(t, "u", 10, dayPtr(11), 2)
	require.Equal(t, 2, env.reserved(t, p, 10))

	cancelled, err := env.booking.CancelReservation(context.Background(), r.ID, "u")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, cancelled.Status)
	assert.Empty(t, cancelled.ActiveSlots())
	assert.Equal(t, 0, env.reserved(t, p, 10))
	assert.Equal(t, 0, env.reserved(t, p, 11))
	assert.Equal(t, 1, env.pub.count(events.EventReservationStatusChanged))

	again, err := env.booking.CancelReservation(context.Background(), r.ID, "u")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, again.Status)
	assert.Equal(t, 1, env.pub.count(events.EventReservationStatusChanged))
	assert.Equal(t, 0, env.reserved(t, p, 10))
}

func TestCancelReservation_WrongOwner(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 2, 10)
	r := env.book(t, "u", 10, nil, 1)

	_, err := env.booking.CancelReservation(context.Background(), r.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, 1, env.reserved(t, p, 10))
}

func TestCancelReservation_CompletedRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlanning(t, 2, 10)
	r := env.book(t, "u", 10, nil, 1)
	env.pay(t, "u", r.ID)

	_, err := env.booking.StartReservation(context.Background(), r.ID)
	require.NoError(t, err)
	_, err = env.booking.CompleteReservation(context.Background(), r.ID)
	require.NoError(t, err)

	_, err = env.booking.CancelReservation(context.Background(), r.ID, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelReservation_DetachesFromBasket(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlanning(t, 2, 10, 11)
	r1 := env.book(t, "u", 10, nil, 1)
	r2 := env.book(t, "u", 11, nil, 1)
	ctx := context.Background()
	_, err := env.baskets.AddToBasket(ctx, "u", r1.ID)
	require.NoError(t, err)
	_, err = env.baskets.AddToBasket(ctx, "u", r2.ID)
	require.NoError(t, err)

	_, err = env.booking.CancelReservation(ctx, r1.ID, "u")
	require.NoError(t, err)
	b, err := env.db.GetOpenBasketByUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID}, b.Items)

	_, err = env.booking.CancelReservation(ctx, r2.ID, "u")
	require.NoError(t, err)
	_, err = env.db.GetOpenBasketByUser(ctx, "u")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Equal(t, 1, env.pub.count(events.EventBasketCancelled))
}

func TestRescheduleReservation(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 1, 10, 11, 12, 13, 14)
	r := env.book(t, "u", 10, dayPtr(11), 1)

	moved, err := env.booking.RescheduleReservation(context.Background(), r.ID, day(12), dayPtr(13))
	require.NoError(t, err)
	assert.True(t, moved.StartDate.Equal(day(12)))
	assert.Len(t, moved.ActiveSlots(), 2)
	assert.Equal(t, 0, env.reserved(t, p, 10))
	assert.Equal(t, 0, env.reserved(t, p, 11))
	assert.Equal(t, 1, env.reserved(t, p, 12))
	assert.Equal(t, 1, env.reserved(t, p, 13))

	// day 14 is taken, the move must leave 12-13 in place
	env.book(t, "other", 14, nil, 1)
	_, err = env.booking.RescheduleReservation(context.Background(), r.ID, day(13), dayPtr(14))
	assert.ErrorIs(t, err, models.ErrCapacity)

	stored := env.reservation(t, r.ID)
	assert.True(t, stored.StartDate.Equal(day(12)))
	assert.Len(t, stored.ActiveSlots(), 2)
	assert.Equal(t, 1, env.reserved(t, p, 12))
	assert.Equal(t, 1, env.reserved(t, p, 13))
	assert.Equal(t, 1, env.reserved(t, p, 14))
}

func TestRescheduleReservation_OverlappingRange(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 1, 10, 11, 12)
	r := env.book(t, "u", 10, dayPtr(11), 1)

	moved, err := env.booking.RescheduleReservation(context.Background(), r.ID, day(11), dayPtr(12))
	require.NoError(t, err)
	assert.Equal(t, "60", moved.TotalPrice.Decimal.String())
	assert.Equal(t, 0, env.reserved(t, p, 10))
	assert.Equal(t, 1, env.reserved(t, p, 11))
	assert.Equal(t, 1, env.reserved(t, p, 12))
}

func TestRescheduleReservation_PaidPriceIsFixed(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 1, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19)
	r := env.book(t, "u", 10, nil, 1)
	env.pay(t, "u", r.ID)
	ctx := context.Background()

	_, err := env.booking.RescheduleReservation(ctx, r.ID, day(10), dayPtr(19))
	assert.ErrorIs(t, err, ErrPriceLocked)
	stored := env.reservation(t, r.ID)
	assert.Equal(t, "30", stored.TotalPrice.Decimal.String())
	assert.Len(t, stored.ActiveSlots(), 1)
	assert.Equal(t, 1, env.reserved(t, p, 10))
	assert.Equal(t, 0, env.reserved(t, p, 11))

	// same length, same price
	moved, err := env.booking.RescheduleReservation(ctx, r.ID, day(15), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationValidated, moved.Status)
	assert.Equal(t, "30", moved.TotalPrice.Decimal.String())
	assert.Equal(t, 0, env.reserved(t, p, 10))
	assert.Equal(t, 1, env.reserved(t, p, 15))
}

func TestRescheduleReservation_CheckedOutPriceIsFixed(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 1, 10, 11, 12)
	r := env.book(t, "u", 10, nil, 1)
	_, pay := env.checkout(t, "u", r.ID)
	ctx := context.Background()

	_, err := env.booking.RescheduleReservation(ctx, r.ID, day(10), dayPtr(12))
	assert.ErrorIs(t, err, ErrPriceLocked)
	assert.Equal(t, 0, env.reserved(t, p, 11))

	_, err = env.booking.RescheduleReservation(ctx, r.ID, day(12), nil)
	require.NoError(t, err)
	paid, err := env.payments.ConfirmPayment(ctx, pay.ID, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "30", paid.Amount.String())
	assert.Equal(t, 1, env.reserved(t, p, 12))
}

func TestUpdateComments(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlanning(t, 1, 10)
	r := env.book(t, "u", 10, nil, 1)

	updated, err := env.booking.UpdateComments(context.Background(), r.ID, "allergic to chicken")
	require.NoError(t, err)
	require.NotNil(t, updated.Comments)
	assert.Equal(t, "allergic to chicken", *env.reservation(t, r.ID).Comments)
}

func TestGetAvailability(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 3, 10, 12)
	env.book(t, "u", 10, nil, 2)

	days, err := env.booking.GetAvailability(context.Background(), p.ID, day(10), day(12))
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.True(t, days[0].Defined)
	assert.Equal(t, 2, days[0].Reserved)
	assert.Equal(t, 1, days[0].Available)
	assert.False(t, days[1].Defined)
	assert.Equal(t, 0, days[1].Available)
	assert.Equal(t, 3, days[2].Available)

	_, err = env.booking.GetAvailability(context.Background(), p.ID, day(12), day(10))
	assert.ErrorIs(t, err, models.ErrInvalidDateRange)
}

func TestAddSlots_RejectsExistingDay(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPlanning(t, 3, 10)

	added, err := env.booking.AddSlots(context.Background(), p.ID, day(11), day(12), 4)
	require.NoError(t, err)
	assert.Len(t, added, 2)

	_, err = env.booking.AddSlots(context.Background(), p.ID, day(12), day(13), 4)
	assert.ErrorIs(t, err, models.ErrDuplicateSlot)

	days, err := env.booking.GetAvailability(context.Background(), p.ID, day(13), day(13))
	require.NoError(t, err)
	assert.False(t, days[0].Defined)
}
