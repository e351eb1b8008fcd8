package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReservation(t *testing.T, start, end int) *Reservation {
	t.Helper()
	e := day(end)
	r, err := NewReservation(NewReservationParams{
		UserID:     "u1",
		AnimalID:   "a1",
		AnimalName: "Rex",
		ServiceID:  "boarding",
		StartDate:  day(start),
		EndDate:    &e,
	}, testNow)
	require.NoError(t, err)
	return r
}

func TestNewReservation(t *testing.T) {
	r := newTestReservation(t, 10, 12)
	assert.Equal(t, ReservationCreated, r.Status)
	assert.Equal(t, 1, r.Quantity)
	assert.Equal(t, 3, r.DayCount())
	assert.Empty(t, r.ActiveSlotIDs())

	single, err := NewReservation(NewReservationParams{
		UserID: "u1", AnimalID: "a1", ServiceID: "s", StartDate: day(5).Add(13 * time.Hour),
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(5)}, single.Dates())

	end := day(4)
	_, err = NewReservation(NewReservationParams{
		UserID: "u1", AnimalID: "a1", ServiceID: "s", StartDate: day(5), EndDate: &end,
	}, testNow)
	assert.ErrorIs(t, err, ErrInvalidDateRange)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewReservation(NewReservationParams{
		UserID: "u1", AnimalID: "a1", ServiceID: "s", StartDate: day(5), Quantity: -2,
	}, testNow)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReservation_SlotLinks(t *testing.T) {
	p := newTestPlanning(t, 2, 10, 11)
	r := newTestReservation(t, 10, 11)

	for _, d := range r.Dates() {
		slot, err := p.ReserveSlot(d, r.Quantity)
		require.NoError(t, err)
		r.AddReservedSlot(slot, testNow)
	}
	// same slot twice keeps one active link
	r.AddReservedSlot(p.Slots[0], testNow)
	require.Len(t, r.ActiveSlotIDs(), 2)

	link, released, err := r.ReleaseReservedSlot(p.Slots[0].ID, testNow)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, link.IsActive())

	again, released, err := r.ReleaseReservedSlot(p.Slots[0].ID, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, testNow, *again.ReleasedAt)

	_, _, err = r.ReleaseReservedSlot("unknown", testNow)
	assert.ErrorIs(t, err, ErrLinkNotFound)

	all := r.ReleaseAllReservedSlots(testNow)
	assert.Len(t, all, 1)
	assert.Empty(t, r.ActiveSlotIDs())
	assert.Empty(t, r.ReleaseAllReservedSlots(testNow))
	assert.Len(t, r.Slots, 2)
}

func TestReservation_StateMachine(t *testing.T) {
	r := newTestReservation(t, 1, 2)

	assert.ErrorIs(t, r.StartProgress(testNow), ErrInvalidTransition)
	require.NoError(t, r.MarkAsPaid(testNow))
	assert.Equal(t, ReservationValidated, r.Status)

	err := r.MarkAsPaid(testNow)
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "validated", te.From)
	assert.ErrorIs(t, err, ErrState)

	require.NoError(t, r.StartProgress(testNow))
	_, err = r.Cancel(false, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, r.Complete(testNow))
	assert.True(t, r.Status.IsTerminal())

	_, err = r.Cancel(true, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, r.UpdateComments("late", testNow), ErrInvalidTransition)
}

func TestReservation_Cancel(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *Reservation)
		auto   bool
		want   ReservationStatus
		change bool
	}{
		{name: "created by user", setup: func(*Reservation) {}, want: ReservationCancelled, change: true},
		{name: "created by sweep", setup: func(*Reservation) {}, auto: true, want: ReservationCancelAuto, change: true},
		{name: "validated", setup: func(r *Reservation) { _ = r.MarkAsPaid(testNow) }, want: ReservationCancelled, change: true},
		{name: "already cancelled", setup: func(r *Reservation) { _, _ = r.Cancel(false, testNow) }, auto: true, want: ReservationCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReservation(t, 1, 1)
			tt.setup(r)
			changed, err := r.Cancel(tt.auto, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.change, changed)
			assert.Equal(t, tt.want, r.Status)
			assert.True(t, r.Status.IsCancelled())
		})
	}
}

func TestReservation_CancelKeepsSlots(t *testing.T) {
	p := newTestPlanning(t, 1, 3)
	r := newTestReservation(t, 3, 3)
	slot, err := p.ReserveSlot(day(3), 1)
	require.NoError(t, err)
	r.AddReservedSlot(slot, testNow)

	_, err = r.Cancel(false, testNow)
	require.NoError(t, err)
	assert.Len(t, r.ActiveSlotIDs(), 1)
}

func TestReservation_Updates(t *testing.T) {
	r := newTestReservation(t, 1, 2)

	end := day(6)
	require.NoError(t, r.UpdateDates(day(4), &end, testNow))
	assert.Equal(t, 3, r.DayCount())

	before := day(1)
	assert.ErrorIs(t, r.UpdateDates(day(4), &before, testNow), ErrInvalidDateRange)
	assert.Equal(t, day(4), r.StartDate)

	require.NoError(t, r.UpdateComments("needs meds", testNow))
	require.NotNil(t, r.Comments)
	assert.Equal(t, "needs meds", *r.Comments)
	require.NoError(t, r.UpdateComments("", testNow))
	assert.Nil(t, r.Comments)
}

func TestReservation_SetTotalPrice(t *testing.T) {
	r := newTestReservation(t, 1, 1)
	assert.ErrorIs(t, r.SetTotalPrice(decimal.NewFromInt(-5)), ErrNegativeAmount)
	assert.False(t, r.TotalPrice.Valid)
	require.NoError(t, r.SetTotalPrice(decimal.NewFromInt(40)))
	assert.True(t, r.TotalPrice.Valid)
}
