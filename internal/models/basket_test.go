package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBasket(t *testing.T, items ...string) *Basket {
	t.Helper()
	b, err := NewBasket("u1", testNow)
	require.NoError(t, err)
	for _, id := range items {
		require.NoError(t, b.AddReservation(id, testNow))
	}
	return b
}

func TestBasket_Items(t *testing.T) {
	b := newTestBasket(t, "r1", "r2")

	assert.ErrorIs(t, b.AddReservation("r1", testNow), ErrDuplicateItem)

	cancelled, err := b.RemoveReservation("r1", testNow)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = b.RemoveReservation("r1", testNow)
	assert.ErrorIs(t, err, ErrItemNotFound)

	cancelled, err = b.RemoveReservation("r2", testNow)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, BasketCancelled, b.Status)

	assert.ErrorIs(t, b.AddReservation("r3", testNow), ErrAlreadyModified)
}

func TestBasket_AssignPayment(t *testing.T) {
	empty := newTestBasket(t)
	assert.ErrorIs(t, empty.AssignPayment("pay", testNow), ErrEmptyBasket)

	b := newTestBasket(t, "r1")
	require.NoError(t, b.AssignPayment("pay", testNow))
	require.NotNil(t, b.PaymentID)
	assert.Equal(t, "pay", *b.PaymentID)
}

func TestBasket_ItemsFrozenOncePaymentAssigned(t *testing.T) {
	b := newTestBasket(t, "r1", "r2")
	assert.False(t, b.Locked())
	require.NoError(t, b.AssignPayment("pay", testNow))
	assert.True(t, b.Locked())

	assert.ErrorIs(t, b.AddReservation("r3", testNow), ErrAlreadyModified)
	_, err := b.RemoveReservation("r2", testNow)
	assert.ErrorIs(t, err, ErrAlreadyModified)
	assert.Equal(t, []string{"r1", "r2"}, b.Items)

	_, err = b.RecordPaymentFailure(3, testNow)
	require.NoError(t, err)
	removed, err := b.Clear(testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, removed)
	assert.Equal(t, BasketCancelled, b.Status)
}

func TestBasket_MarkAsPaid(t *testing.T) {
	b := newTestBasket(t, "r1", "r2")
	_, err := b.MarkAsPaidAndGetReservations(testNow)
	assert.ErrorIs(t, err, ErrPaymentNotAssigned)

	require.NoError(t, b.AssignPayment("pay", testNow))
	_, err = b.RecordPaymentFailure(3, testNow)
	require.NoError(t, err)
	require.NoError(t, b.RetryPayment(3, testNow))

	ids, err := b.MarkAsPaidAndGetReservations(testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)
	assert.Equal(t, BasketPaid, b.Status)
	assert.Zero(t, b.PaymentFailureCount)

	_, err = b.MarkAsPaidAndGetReservations(testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = b.Cancel(testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, b.AddReservation("r3", testNow), ErrAlreadyModified)
}

func TestBasket_FailureThreshold(t *testing.T) {
	b := newTestBasket(t, "r1")
	require.NoError(t, b.AssignPayment("pay", testNow))

	cancelled, err := b.RecordPaymentFailure(3, testNow)
	require.NoError(t, err)
	assert.False(t, cancelled)
	cancelled, err = b.RecordPaymentFailure(3, testNow)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, BasketPaymentFailure, b.Status)
	assert.Equal(t, 2, b.PaymentFailureCount)

	require.NoError(t, b.RetryPayment(3, testNow))
	assert.Equal(t, BasketCreated, b.Status)

	cancelled, err = b.RecordPaymentFailure(3, testNow)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, BasketCancelled, b.Status)
	assert.Equal(t, 3, b.PaymentFailureCount)

	assert.ErrorIs(t, b.RetryPayment(3, testNow), ErrInvalidTransition)
	_, err = b.RecordPaymentFailure(3, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBasket_RetryOnlyAfterFailure(t *testing.T) {
	b := newTestBasket(t, "r1")
	assert.ErrorIs(t, b.RetryPayment(3, testNow), ErrInvalidTransition)
}

func TestBasket_CancelAndClear(t *testing.T) {
	b := newTestBasket(t, "r1")
	changed, err := b.Cancel(testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = b.Cancel(testNow)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"r1"}, b.Items)

	c := newTestBasket(t, "r1", "r2")
	removed, err := c.Clear(testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, removed)
	assert.Empty(t, c.Items)
	assert.Equal(t, BasketCancelled, c.Status)
	_, err = c.Clear(testNow)
	assert.ErrorIs(t, err, ErrAlreadyModified)
}

func TestBasket_GetTotalAmount(t *testing.T) {
	r1 := newTestReservation(t, 1, 2)
	r2 := newTestReservation(t, 3, 3)
	require.NoError(t, r1.SetTotalPrice(decimal.RequireFromString("50.50")))
	require.NoError(t, r2.SetTotalPrice(decimal.RequireFromString("25.25")))

	b := newTestBasket(t, r1.ID, r2.ID)
	total, err := b.GetTotalAmount([]*Reservation{r1, r2})
	require.NoError(t, err)
	assert.Equal(t, "75.75", total.StringFixed(2))

	_, err = b.GetTotalAmount([]*Reservation{r1})
	assert.ErrorIs(t, err, ErrItemNotFound)

	r2.TotalPrice = decimal.NullDecimal{}
	_, err = b.GetTotalAmount([]*Reservation{r1, r2})
	assert.ErrorIs(t, err, ErrMissingPrice)
}
