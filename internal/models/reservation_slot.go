package models

import "time"

// ReservationSlot links a reservation to the slot unit it consumed. Rows are never deleted.
type ReservationSlot struct {
	ID              string     `json:"id"`
	ReservationID   string     `json:"reservation_id"`
	AvailableSlotID string     `json:"available_slot_id"`
	SlotDate        time.Time  `json:"slot_date"`
	Quantity        int        `json:"quantity"`
	ReservedAt      time.Time  `json:"reserved_at"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
}

func (l *ReservationSlot) IsActive() bool {
	return l.ReleasedAt == nil
}

// Release stamps ReleasedAt once. It returns false if the link was already released.
func (l *ReservationSlot) Release(now time.Time) bool {
	if !l.IsActive() {
		return false
	}
	l.ReleasedAt = &now
	return true
}
