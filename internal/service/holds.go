package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/events"
	"petboarding/internal/metrics"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
)

// holds is the capacity claim/release machinery shared by every service.
type holds struct {
	store  domain.Store
	events domain.EventPublisher
	clock  domain.Clock
	logger *zerolog.Logger
}

func newHolds(store domain.Store, publisher domain.EventPublisher, clock domain.Clock, logger *zerolog.Logger) holds {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return holds{store: store, events: publisher, clock: clock, logger: logger}
}

// checkRange fails with SlotUnavailableError on the first date that cannot take quantity.
func (h holds) checkRange(p *models.Planning, dates []time.Time, quantity int) error {
	for _, d := range dates {
		if !p.IsActive || !p.IsAvailableForDate(d, quantity) {
			return &models.SlotUnavailableError{Date: d}
		}
	}
	return nil
}

// claimRange takes one slot per date for r. Each claim is an atomic conditional update in the store.
// If any claim fails every claim made so far is undone in reverse order and ErrBookingFailed is returned.
func (h holds) claimRange(ctx context.Context, p *models.Planning, r *models.Reservation, dates []time.Time) error {
	now := h.clock.Now()
	claimed := make([]*models.AvailableSlot, 0, len(dates))

	for _, d := range dates {
		slot, err := p.ReserveSlot(d, r.Quantity)
		if err == nil {
			if err = h.store.ReserveCapacity(ctx, slot.ID, r.Quantity); err != nil {
				slot.CancelReservation(r.Quantity)
			}
		}
		if err != nil {
			h.compensate(ctx, r, claimed)
			if errors.Is(err, models.ErrCapacity) || errors.Is(err, database.ErrCapacityConflict) || errors.Is(err, database.ErrNotFound) {
				metrics.IncCapacityRejection()
				return fmt.Errorf("%w: %s: %v", models.ErrBookingFailed, d.Format(models.DateLayout), err)
			}
			return fmt.Errorf("claim %s: %w", d.Format(models.DateLayout), err)
		}
		r.AddReservedSlot(slot, now)
		claimed = append(claimed, slot)
	}
	return nil
}

func (h holds) compensate(ctx context.Context, r *models.Reservation, claimed []*models.AvailableSlot) {
	now := h.clock.Now()
	for i := len(claimed) - 1; i >= 0; i-- {
		slot := claimed[i]
		slot.CancelReservation(r.Quantity)
		if err := h.store.ReleaseCapacity(ctx, slot.ID, r.Quantity); err != nil {
			h.logger.Error().Err(err).Str("slot_id", slot.ID).Str("reservation_id", r.ID).Msg("compensation release failed")
		}
		if _, _, err := r.ReleaseReservedSlot(slot.ID, now); err != nil {
			h.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("compensation link missing")
		}
	}
}

// release gives back every active hold of r. Missing slots are logged and the link is still closed.
// It returns how many links were released.
func (h holds) release(ctx context.Context, r *models.Reservation, p *models.Planning) (int, error) {
	now := h.clock.Now()
	released := 0
	for _, link := range r.ActiveSlots() {
		err := h.store.ReleaseCapacity(ctx, link.AvailableSlotID, link.Quantity)
		switch {
		case errors.Is(err, database.ErrNotFound):
			h.logger.Warn().
				Str("reservation_id", r.ID).
				Str("slot_id", link.AvailableSlotID).
				Msg("slot not found while releasing hold")
		case err != nil:
			return released, fmt.Errorf("release slot %s: %w", link.AvailableSlotID, err)
		}
		if p != nil {
			if slot := p.GetSlotByID(link.AvailableSlotID); slot != nil {
				slot.CancelReservation(link.Quantity)
			}
		}
		if _, _, err := r.ReleaseReservedSlot(link.AvailableSlotID, now); err != nil {
			h.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("slot link missing while releasing hold")
		}
		released++
	}
	return released, nil
}

// cancelAndRelease is the composite cancel used by user cancellation, payment failure and the sweeps.
// A reservation that is already cancelled is left untouched and false is returned.
func (h holds) cancelAndRelease(ctx context.Context, r *models.Reservation, auto bool, reason string, outbox *events.Outbox) (bool, error) {
	prev := r.Status
	changed, err := r.Cancel(auto, h.clock.Now())
	if err != nil || !changed {
		return false, err
	}
	if _, err := h.release(ctx, r, nil); err != nil {
		return false, err
	}
	if err := h.store.UpdateReservation(ctx, r); err != nil {
		return false, err
	}
	outbox.Add(events.EventReservationStatusChanged, reservationPayload(r, prev, reason))
	return true, nil
}

// detachFromBasket drops r from the open basket holding it. A basket with a payment
// assigned refuses with ErrAlreadyModified so the amount due stays in step with its items.
func (h holds) detachFromBasket(ctx context.Context, reservationID string, outbox *events.Outbox) error {
	b, err := h.store.FindOpenBasketByReservation(ctx, reservationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	emptied, err := b.RemoveReservation(reservationID, h.clock.Now())
	if err != nil {
		return fmt.Errorf("basket %s: %w", b.ID, err)
	}
	if emptied {
		if err := h.cancelBasketPayment(ctx, b); err != nil {
			return err
		}
	}
	if err := h.store.UpdateBasket(ctx, b); err != nil {
		return err
	}
	if emptied {
		outbox.Add(events.EventBasketCancelled, events.BasketEventPayload{
			BasketID: b.ID, UserID: b.UserID, Reason: "emptied", ReservationIDs: []string{},
		})
	}
	return nil
}

// cancelBasketPayment cancels the payment assigned to a basket that is being closed without being paid.
// Must run in the unit of work that closes the basket.
func (h holds) cancelBasketPayment(ctx context.Context, b *models.Basket) error {
	if b.PaymentID == nil {
		return nil
	}
	p, err := h.store.GetPayment(ctx, *b.PaymentID)
	if errors.Is(err, database.ErrNotFound) {
		h.logger.Warn().Str("basket_id", b.ID).Str("payment_id", *b.PaymentID).Msg("basket payment not found")
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status == models.PaymentCancelled {
		return nil
	}
	if err := p.Cancel(h.clock.Now()); err != nil {
		return fmt.Errorf("payment %s: %w", p.ID, err)
	}
	return h.store.UpdatePayment(ctx, p)
}

func (h holds) flush(outbox *events.Outbox) {
	if err := outbox.Flush(h.events); err != nil {
		h.logger.Error().Err(err).Msg("publish event error")
	}
}

func reservationPayload(r *models.Reservation, prev models.ReservationStatus, reason string) events.ReservationEventPayload {
	p := events.ReservationEventPayload{
		ReservationID: r.ID,
		UserID:        r.UserID,
		AnimalName:    r.AnimalName,
		ServiceID:     r.ServiceID,
		StartDate:     r.StartDate.Format(models.DateLayout),
		EndDate:       r.LastDate().Format(models.DateLayout),
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		Reason:        reason,
	}
	if prev != "" && prev != r.Status {
		p.PreviousStatus = string(prev)
	}
	if r.TotalPrice.Valid {
		p.TotalPrice = r.TotalPrice.Decimal
	}
	return p
}
