package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BasketStatus string

const (
	BasketCreated        BasketStatus = "created"
	BasketPaymentFailure BasketStatus = "payment_failure"
	BasketPaid           BasketStatus = "paid"
	BasketCancelled      BasketStatus = "cancelled"
)

// DefaultMaxPaymentFailures is the failure count that cancels a basket.
const DefaultMaxPaymentFailures = 3

func (s BasketStatus) IsTerminal() bool {
	return s == BasketPaid || s == BasketCancelled
}

// IsOpen reports whether the basket still holds capacity awaiting payment.
func (s BasketStatus) IsOpen() bool {
	return s == BasketCreated || s == BasketPaymentFailure
}

// Basket groups a user's reservations under a single payment.
type Basket struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	Status              BasketStatus `json:"status"`
	PaymentID           *string      `json:"payment_id,omitempty"`
	PaymentFailureCount int          `json:"payment_failure_count"`
	Items               []string     `json:"items"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	Version             int64        `json:"version"`
}

func NewBasket(userID string, now time.Time) (*Basket, error) {
	if userID == "" {
		return nil, ErrMissingField
	}
	return &Basket{
		ID:        NewID(),
		UserID:    userID,
		Status:    BasketCreated,
		Items:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

func (b *Basket) Contains(reservationID string) bool {
	return b.indexOf(reservationID) >= 0
}

func (b *Basket) indexOf(reservationID string) int {
	for i, id := range b.Items {
		if id == reservationID {
			return i
		}
	}
	return -1
}

// Locked reports whether the item list is frozen: a payment was opened for it,
// so the amount due must not drift.
func (b *Basket) Locked() bool {
	return b.Status != BasketCreated || b.PaymentID != nil
}

func (b *Basket) AddReservation(reservationID string, now time.Time) error {
	if b.Locked() {
		return ErrAlreadyModified
	}
	if b.Contains(reservationID) {
		return ErrDuplicateItem
	}
	b.Items = append(b.Items, reservationID)
	b.UpdatedAt = now
	return nil
}

// RemoveReservation drops an item. The basket cancels itself when it ends up empty,
// in which case the returned flag is true.
func (b *Basket) RemoveReservation(reservationID string, now time.Time) (bool, error) {
	if b.Locked() {
		return false, ErrAlreadyModified
	}
	i := b.indexOf(reservationID)
	if i < 0 {
		return false, ErrItemNotFound
	}
	b.Items = append(b.Items[:i], b.Items[i+1:]...)
	b.UpdatedAt = now
	if len(b.Items) == 0 {
		b.Status = BasketCancelled
		return true, nil
	}
	return false, nil
}

func (b *Basket) AssignPayment(paymentID string, now time.Time) error {
	if b.Status != BasketCreated {
		return ErrAlreadyModified
	}
	if len(b.Items) == 0 {
		return ErrEmptyBasket
	}
	b.PaymentID = &paymentID
	b.UpdatedAt = now
	return nil
}

// MarkAsPaidAndGetReservations closes the basket and hands back every reservation id
// so the caller can validate them in the same unit of work.
func (b *Basket) MarkAsPaidAndGetReservations(now time.Time) ([]string, error) {
	if b.Status != BasketCreated {
		return nil, invalidTransition("basket", string(b.Status), string(BasketPaid))
	}
	if b.PaymentID == nil {
		return nil, ErrPaymentNotAssigned
	}
	b.Status = BasketPaid
	b.PaymentFailureCount = 0
	b.UpdatedAt = now
	ids := make([]string, len(b.Items))
	copy(ids, b.Items)
	return ids, nil
}

// RecordPaymentFailure counts a failed attempt. It returns true when the count reached
// threshold and the basket was cancelled; the caller must then release every item.
func (b *Basket) RecordPaymentFailure(threshold int, now time.Time) (bool, error) {
	if b.Status != BasketCreated && b.Status != BasketPaymentFailure {
		return false, invalidTransition("basket", string(b.Status), string(BasketPaymentFailure))
	}
	if threshold <= 0 {
		threshold = DefaultMaxPaymentFailures
	}
	b.PaymentFailureCount++
	b.UpdatedAt = now
	if b.PaymentFailureCount >= threshold {
		b.Status = BasketCancelled
		return true, nil
	}
	b.Status = BasketPaymentFailure
	return false, nil
}

func (b *Basket) RetryPayment(threshold int, now time.Time) error {
	if b.Status != BasketPaymentFailure {
		return invalidTransition("basket", string(b.Status), string(BasketCreated))
	}
	if threshold <= 0 {
		threshold = DefaultMaxPaymentFailures
	}
	if b.PaymentFailureCount >= threshold {
		return ErrRetryExhausted
	}
	b.Status = BasketCreated
	b.UpdatedAt = now
	return nil
}

// Cancel closes an open basket keeping its items for reporting. Returns false if already cancelled.
func (b *Basket) Cancel(now time.Time) (bool, error) {
	switch b.Status {
	case BasketCancelled:
		return false, nil
	case BasketPaid:
		return false, invalidTransition("basket", string(b.Status), string(BasketCancelled))
	}
	b.Status = BasketCancelled
	b.UpdatedAt = now
	return true, nil
}

// Clear empties an open basket and abandons it. The removed ids are returned.
// The caller cancels the assigned payment, if any.
func (b *Basket) Clear(now time.Time) ([]string, error) {
	if b.Status != BasketCreated && b.Status != BasketPaymentFailure {
		return nil, ErrAlreadyModified
	}
	removed := b.Items
	b.Items = []string{}
	b.Status = BasketCancelled
	b.UpdatedAt = now
	return removed, nil
}

// GetTotalAmount sums the prices of the basket items. Every item must be present in
// reservations and carry a price.
func (b *Basket) GetTotalAmount(reservations []*Reservation) (decimal.Decimal, error) {
	byID := make(map[string]*Reservation, len(reservations))
	for _, r := range reservations {
		byID[r.ID] = r
	}
	total := decimal.Zero
	for _, id := range b.Items {
		r, ok := byID[id]
		if !ok {
			return decimal.Zero, ErrItemNotFound
		}
		if !r.TotalPrice.Valid {
			return decimal.Zero, ErrMissingPrice
		}
		total = total.Add(r.TotalPrice.Decimal)
	}
	return total, nil
}
