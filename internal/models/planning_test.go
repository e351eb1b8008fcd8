package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlanning(t *testing.T, capacity int, days ...int) *Planning {
	t.Helper()
	p, err := NewPlanning("boarding", "Boarding", "", decimal.NewFromInt(25), testNow)
	require.NoError(t, err)
	for _, d := range days {
		_, err := p.AddSlot(day(d), capacity, testNow)
		require.NoError(t, err)
	}
	return p
}

func TestPlanning_SlotLookup(t *testing.T) {
	p := newTestPlanning(t, 2, 12, 10, 11)

	require.Len(t, p.Slots, 3)
	assert.Equal(t, day(10), p.Slots[0].Date)

	slot := p.GetSlotForDate(day(11).Add(15 * time.Hour))
	require.NotNil(t, slot)
	assert.Equal(t, slot, p.GetSlotByID(slot.ID))
	assert.Nil(t, p.GetSlotForDate(day(20)))
	assert.Nil(t, p.GetSlotByID("missing"))

	_, err := p.AddSlot(day(10), 5, testNow)
	assert.ErrorIs(t, err, ErrDuplicateSlot)
}

func TestPlanning_ReserveAndCancel(t *testing.T) {
	p := newTestPlanning(t, 2, 10)

	assert.True(t, p.IsAvailableForDate(day(10), 2))
	assert.False(t, p.IsAvailableForDate(day(11), 1))

	_, err := p.ReserveSlot(day(11), 1)
	assert.ErrorIs(t, err, ErrNoSlotForDate)

	slot, err := p.ReserveSlot(day(10), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, slot.ReservedCapacity)

	_, err = p.ReserveSlot(day(10), 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = p.CancelReservation(day(10), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.ReservedCapacity)

	_, err = p.CancelReservation(day(11), 1)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestPlanning_ClaimAllThenReleaseAllRestoresCapacity(t *testing.T) {
	p := newTestPlanning(t, 3, 1, 2, 3, 4)
	_, err := p.ReserveSlot(day(2), 1)
	require.NoError(t, err)

	before := map[string]int{}
	for _, s := range p.Slots {
		before[s.ID] = s.ReservedCapacity
	}

	for _, d := range DatesBetween(day(1), day(4)) {
		_, err := p.ReserveSlot(d, 2)
		require.NoError(t, err)
	}
	for _, d := range DatesBetween(day(1), day(4)) {
		_, err := p.CancelReservation(d, 2)
		require.NoError(t, err)
	}

	for _, s := range p.Slots {
		assert.Equal(t, before[s.ID], s.ReservedCapacity)
	}
}

func TestPlanning_PriceFor(t *testing.T) {
	p := newTestPlanning(t, 1)
	assert.True(t, decimal.NewFromInt(150).Equal(p.PriceFor(3, 2)))
}

func TestNewPlanning_Validation(t *testing.T) {
	_, err := NewPlanning("", "x", "", decimal.Zero, testNow)
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = NewPlanning("s", "x", "", decimal.NewFromInt(-1), testNow)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}
