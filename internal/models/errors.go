package models

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Every business error wraps exactly one of them.
var (
	ErrValidation = errors.New("validation error")
	ErrCapacity   = errors.New("capacity error")
	ErrState      = errors.New("state error")
	ErrIntegrity  = errors.New("integrity warning")
)

var (
	ErrNegativeAmount   = fmt.Errorf("%w: amount must not be negative", ErrValidation)
	ErrInvalidDateRange = fmt.Errorf("%w: end date is before start date", ErrValidation)
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be positive", ErrValidation)
	ErrInvalidCapacity  = fmt.Errorf("%w: capacity must not be negative", ErrValidation)
	ErrMissingField     = fmt.Errorf("%w: required field is empty", ErrValidation)
	ErrRangeTooLong     = fmt.Errorf("%w: date range is too long", ErrValidation)

	ErrNoSlotForDate    = fmt.Errorf("%w: no slot for date", ErrCapacity)
	ErrCapacityExceeded = fmt.Errorf("%w: capacity exceeded", ErrCapacity)
	ErrBookingFailed    = fmt.Errorf("%w: booking failed", ErrCapacity)

	ErrInvalidTransition  = fmt.Errorf("%w: invalid transition", ErrState)
	ErrAlreadyModified    = fmt.Errorf("%w: basket can no longer be modified", ErrState)
	ErrEmptyBasket        = fmt.Errorf("%w: basket is empty", ErrState)
	ErrDuplicateItem      = fmt.Errorf("%w: reservation already in basket", ErrState)
	ErrItemNotFound       = fmt.Errorf("%w: reservation not in basket", ErrState)
	ErrPaymentNotAssigned = fmt.Errorf("%w: basket has no payment", ErrState)
	ErrRetryExhausted     = fmt.Errorf("%w: payment failure limit reached", ErrState)
	ErrDuplicateSlot      = fmt.Errorf("%w: slot already defined for date", ErrState)
	ErrAmountMismatch     = fmt.Errorf("%w: payment amount differs from basket total", ErrState)

	ErrMissingPrice = fmt.Errorf("%w: reservation has no price", ErrIntegrity)
	ErrSlotNotFound = fmt.Errorf("%w: slot not found", ErrIntegrity)
	ErrLinkNotFound = fmt.Errorf("%w: slot link not found", ErrIntegrity)
)

// SlotUnavailableError reports the first date of a range that cannot take the requested quantity.
type SlotUnavailableError struct {
	Date time.Time
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("%v: slot unavailable for %s", ErrCapacity, e.Date.Format(DateLayout))
}

func (e *SlotUnavailableError) Unwrap() error { return ErrCapacity }

// InvalidTransitionError carries the refused status change.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%v: %s cannot go from %s to %s", ErrInvalidTransition, e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidTransition(entity, from, to string) error {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}
