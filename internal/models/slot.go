package models

import "time"

// AvailableSlot is the capacity bucket of one Planning for one calendar day.
type AvailableSlot struct {
	ID               string    `json:"id"`
	PlanningID       string    `json:"planning_id"`
	Date             time.Time `json:"date"`
	MaxCapacity      int       `json:"max_capacity"`
	ReservedCapacity int       `json:"reserved_capacity"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func NewAvailableSlot(planningID string, date time.Time, maxCapacity int, now time.Time) (*AvailableSlot, error) {
	if maxCapacity < 0 {
		return nil, ErrInvalidCapacity
	}
	return &AvailableSlot{
		ID:          NewID(),
		PlanningID:  planningID,
		Date:        DateOf(date),
		MaxCapacity: maxCapacity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *AvailableSlot) AvailableCapacity() int {
	return s.MaxCapacity - s.ReservedCapacity
}

func (s *AvailableSlot) IsAvailable(quantity int) bool {
	return s.AvailableCapacity() >= quantity
}

// Reserve claims quantity units. The slot is left untouched on error.
func (s *AvailableSlot) Reserve(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if s.ReservedCapacity+quantity > s.MaxCapacity {
		return ErrCapacityExceeded
	}
	s.ReservedCapacity += quantity
	return nil
}

// CancelReservation gives back quantity units, never going below zero.
func (s *AvailableSlot) CancelReservation(quantity int) {
	if quantity <= 0 {
		return
	}
	s.ReservedCapacity -= quantity
	if s.ReservedCapacity < 0 {
		s.ReservedCapacity = 0
	}
}
