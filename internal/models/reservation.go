package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationCreated    ReservationStatus = "created"
	ReservationValidated  ReservationStatus = "validated"
	ReservationInProgress ReservationStatus = "in_progress"
	ReservationCompleted  ReservationStatus = "completed"
	ReservationCancelled  ReservationStatus = "cancelled"
	// ReservationCancelAuto is a cancellation triggered by the expiration sweep or the payment failure limit.
	ReservationCancelAuto ReservationStatus = "cancel_auto"
)

func (s ReservationStatus) IsCancelled() bool {
	return s == ReservationCancelled || s == ReservationCancelAuto
}

func (s ReservationStatus) IsTerminal() bool {
	return s.IsCancelled() || s == ReservationCompleted
}

// HoldsCapacity reports whether a reservation in this status must keep one active slot per date.
func (s ReservationStatus) HoldsCapacity() bool {
	return s == ReservationCreated || s == ReservationValidated
}

// Reservation is a booking of one service for one animal over a date range.
type Reservation struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	AnimalID   string              `json:"animal_id"`
	AnimalName string              `json:"animal_name"`
	ServiceID  string              `json:"service_id"`
	StartDate  time.Time           `json:"start_date"`
	EndDate    *time.Time          `json:"end_date,omitempty"`
	Comments   *string             `json:"comments,omitempty"`
	Quantity   int                 `json:"quantity"`
	Status     ReservationStatus   `json:"status"`
	TotalPrice decimal.NullDecimal `json:"total_price"`
	Slots      []*ReservationSlot  `json:"slots,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Version    int64               `json:"version"`
}

type NewReservationParams struct {
	UserID     string
	AnimalID   string
	AnimalName string
	ServiceID  string
	StartDate  time.Time
	EndDate    *time.Time
	Comments   *string
	Quantity   int
}

// NewReservation validates the range and returns a Created reservation with no slots.
func NewReservation(p NewReservationParams, now time.Time) (*Reservation, error) {
	if p.UserID == "" || p.AnimalID == "" || p.ServiceID == "" {
		return nil, ErrMissingField
	}
	start, end, err := normalizeRange(p.StartDate, p.EndDate)
	if err != nil {
		return nil, err
	}
	qty := p.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Reservation{
		ID:         NewID(),
		UserID:     p.UserID,
		AnimalID:   p.AnimalID,
		AnimalName: p.AnimalName,
		ServiceID:  p.ServiceID,
		StartDate:  start,
		EndDate:    end,
		Comments:   p.Comments,
		Quantity:   qty,
		Status:     ReservationCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}, nil
}

func normalizeRange(start time.Time, end *time.Time) (time.Time, *time.Time, error) {
	start = DateOf(start)
	if end == nil {
		return start, nil, nil
	}
	e := DateOf(*end)
	if e.Before(start) {
		return time.Time{}, nil, ErrInvalidDateRange
	}
	return start, &e, nil
}

// LastDate is EndDate, or StartDate for single-day reservations.
func (r *Reservation) LastDate() time.Time {
	if r.EndDate != nil {
		return *r.EndDate
	}
	return r.StartDate
}

func (r *Reservation) Dates() []time.Time {
	return DatesBetween(r.StartDate, r.LastDate())
}

func (r *Reservation) DayCount() int {
	return len(r.Dates())
}

func (r *Reservation) ActiveSlots() []*ReservationSlot {
	var active []*ReservationSlot
	for _, l := range r.Slots {
		if l.IsActive() {
			active = append(active, l)
		}
	}
	return active
}

func (r *Reservation) ActiveSlotIDs() []string {
	active := r.ActiveSlots()
	ids := make([]string, 0, len(active))
	for _, l := range active {
		ids = append(ids, l.AvailableSlotID)
	}
	return ids
}

// AddReservedSlot records a claim on slot. A slot already held is returned as is.
func (r *Reservation) AddReservedSlot(slot *AvailableSlot, now time.Time) *ReservationSlot {
	for _, l := range r.Slots {
		if l.AvailableSlotID == slot.ID && l.IsActive() {
			return l
		}
	}
	link := &ReservationSlot{
		ID:              NewID(),
		ReservationID:   r.ID,
		AvailableSlotID: slot.ID,
		SlotDate:        slot.Date,
		Quantity:        r.Quantity,
		ReservedAt:      now,
	}
	r.Slots = append(r.Slots, link)
	r.UpdatedAt = now
	return link
}

// ReleaseReservedSlot marks the active link on slotID released.
// It returns the link and false when the link was already released.
func (r *Reservation) ReleaseReservedSlot(slotID string, now time.Time) (*ReservationSlot, bool, error) {
	var released *ReservationSlot
	for _, l := range r.Slots {
		if l.AvailableSlotID != slotID {
			continue
		}
		if l.IsActive() {
			l.Release(now)
			r.UpdatedAt = now
			return l, true, nil
		}
		released = l
	}
	if released != nil {
		return released, false, nil
	}
	return nil, false, ErrLinkNotFound
}

// ReleaseAllReservedSlots releases every active link and returns the ones it released.
func (r *Reservation) ReleaseAllReservedSlots(now time.Time) []*ReservationSlot {
	var released []*ReservationSlot
	for _, l := range r.Slots {
		if l.Release(now) {
			released = append(released, l)
		}
	}
	if len(released) > 0 {
		r.UpdatedAt = now
	}
	return released
}

func (r *Reservation) SetTotalPrice(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	r.TotalPrice = decimal.NewNullDecimal(amount)
	return nil
}

func (r *Reservation) MarkAsPaid(now time.Time) error {
	return r.transition(ReservationCreated, ReservationValidated, now)
}

func (r *Reservation) StartProgress(now time.Time) error {
	return r.transition(ReservationValidated, ReservationInProgress, now)
}

func (r *Reservation) Complete(now time.Time) error {
	return r.transition(ReservationInProgress, ReservationCompleted, now)
}

func (r *Reservation) transition(from, to ReservationStatus, now time.Time) error {
	if r.Status != from {
		return invalidTransition("reservation", string(r.Status), string(to))
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Cancel moves a Created or Validated reservation to Cancelled, or CancelAuto when auto is set.
// Held slots are not released here. Cancelling a cancelled reservation is a no-op and returns false.
func (r *Reservation) Cancel(auto bool, now time.Time) (bool, error) {
	if r.Status.IsCancelled() {
		return false, nil
	}
	to := ReservationCancelled
	if auto {
		to = ReservationCancelAuto
	}
	if !r.Status.HoldsCapacity() {
		return false, invalidTransition("reservation", string(r.Status), string(to))
	}
	r.Status = to
	r.UpdatedAt = now
	return true, nil
}

func (r *Reservation) editable() error {
	if r.Status.IsTerminal() {
		return invalidTransition("reservation", string(r.Status), string(r.Status))
	}
	return nil
}

// UpdateDates changes the range without touching capacity.
func (r *Reservation) UpdateDates(start time.Time, end *time.Time, now time.Time) error {
	if err := r.editable(); err != nil {
		return err
	}
	s, e, err := normalizeRange(start, end)
	if err != nil {
		return err
	}
	r.StartDate, r.EndDate = s, e
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) UpdateComments(text string, now time.Time) error {
	if err := r.editable(); err != nil {
		return err
	}
	if text == "" {
		r.Comments = nil
	} else {
		r.Comments = &text
	}
	r.UpdatedAt = now
	return nil
}
