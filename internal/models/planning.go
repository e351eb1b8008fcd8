package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Planning is the capacity calendar of one prestation.
type Planning struct {
	ID           string           `json:"id"`
	PrestationID string           `json:"prestation_id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	IsActive     bool             `json:"is_active"`
	DailyRate    decimal.Decimal  `json:"daily_rate"`
	Slots        []*AvailableSlot `json:"slots,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func NewPlanning(prestationID, name, description string, dailyRate decimal.Decimal, now time.Time) (*Planning, error) {
	if prestationID == "" || name == "" {
		return nil, ErrMissingField
	}
	if dailyRate.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return &Planning{
		ID:           NewID(),
		PrestationID: prestationID,
		Name:         name,
		Description:  description,
		IsActive:     true,
		DailyRate:    dailyRate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// AddSlot defines capacity for a day not yet on the calendar.
func (p *Planning) AddSlot(date time.Time, maxCapacity int, now time.Time) (*AvailableSlot, error) {
	if p.GetSlotForDate(date) != nil {
		return nil, ErrDuplicateSlot
	}
	slot, err := NewAvailableSlot(p.ID, date, maxCapacity, now)
	if err != nil {
		return nil, err
	}
	p.Slots = append(p.Slots, slot)
	sort.Slice(p.Slots, func(i, j int) bool { return p.Slots[i].Date.Before(p.Slots[j].Date) })
	return slot, nil
}

// GetSlotForDate returns nil when the calendar has no slot for the day.
func (p *Planning) GetSlotForDate(date time.Time) *AvailableSlot {
	day := DateOf(date)
	for _, s := range p.Slots {
		if s.Date.Equal(day) {
			return s
		}
	}
	return nil
}

func (p *Planning) GetSlotByID(id string) *AvailableSlot {
	for _, s := range p.Slots {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (p *Planning) IsAvailableForDate(date time.Time, quantity int) bool {
	slot := p.GetSlotForDate(date)
	if slot == nil {
		return false
	}
	return slot.IsAvailable(quantity)
}

func (p *Planning) ReserveSlot(date time.Time, quantity int) (*AvailableSlot, error) {
	slot := p.GetSlotForDate(date)
	if slot == nil {
		return nil, ErrNoSlotForDate
	}
	if err := slot.Reserve(quantity); err != nil {
		return nil, err
	}
	return slot, nil
}

// CancelReservation releases quantity on the slot of date. A missing slot is an integrity warning.
func (p *Planning) CancelReservation(date time.Time, quantity int) (*AvailableSlot, error) {
	slot := p.GetSlotForDate(date)
	if slot == nil {
		return nil, ErrSlotNotFound
	}
	slot.CancelReservation(quantity)
	return slot, nil
}

// PriceFor is the daily rate times days times quantity.
func (p *Planning) PriceFor(days, quantity int) decimal.Decimal {
	return p.DailyRate.Mul(decimal.NewFromInt(int64(days))).Mul(decimal.NewFromInt(int64(quantity)))
}
