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

// Options are the booking rules shared by the services.
type Options struct {
	HoldWindow         time.Duration
	MaxPaymentFailures int
	MaxBookingDays     int
	SweepBatchSize     int
	// лимит запросов на бронирование от одного пользователя
	UserRequests int
	UserWindow   time.Duration
}

func (o Options) withDefaults() Options {
	if o.HoldWindow <= 0 {
		o.HoldWindow = models.DefaultHoldWindow
	}
	if o.MaxPaymentFailures <= 0 {
		o.MaxPaymentFailures = models.DefaultMaxPaymentFailures
	}
	if o.MaxBookingDays <= 0 {
		o.MaxBookingDays = models.MaxBookingDays
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = models.DefaultSweepBatchSize
	}
	if o.UserRequests <= 0 {
		o.UserRequests = models.DefaultRateLimitRequests
	}
	if o.UserWindow <= 0 {
		o.UserWindow = models.DefaultRateLimitWindow
	}
	return o
}

type BookingRequest struct {
	UserID     string
	AnimalID   string
	AnimalName string
	ServiceID  string
	StartDate  time.Time
	EndDate    *time.Time
	Comments   *string
	Quantity   int
}

// DayAvailability is one calendar day of a planning as seen by a client.
type DayAvailability struct {
	Date        time.Time `json:"date"`
	MaxCapacity int       `json:"max_capacity"`
	Reserved    int       `json:"reserved"`
	Available   int       `json:"available"`
	Defined     bool      `json:"defined"`
}

type BookingService struct {
	holds
	limiter domain.RateLimiter
	opts    Options
}

func NewBookingService(
	store domain.Store,
	publisher domain.EventPublisher,
	clock domain.Clock,
	limiter domain.RateLimiter,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		holds:   newHolds(store, publisher, clock, logger),
		limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

// BookReservation creates a Created reservation holding one slot per day of the range.
// Either every day is claimed or nothing is.
func (s *BookingService) BookReservation(ctx context.Context, req BookingRequest) (*models.Reservation, error) {
	if s.limiter != nil {
		ok, err := s.limiter.CheckRateLimit(ctx, "booking:"+req.UserID, s.opts.UserRequests, s.opts.UserWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncBooking("rate_limited")
			return nil, ErrRateLimited
		}
	}

	r, err := models.NewReservation(models.NewReservationParams{
		UserID:     req.UserID,
		AnimalID:   req.AnimalID,
		AnimalName: req.AnimalName,
		ServiceID:  req.ServiceID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Comments:   req.Comments,
		Quantity:   req.Quantity,
	}, s.clock.Now())
	if err != nil {
		metrics.IncBooking("invalid")
		return nil, err
	}
	if r.DayCount() > s.opts.MaxBookingDays {
		metrics.IncBooking("invalid")
		return nil, models.ErrRangeTooLong
	}

	var outbox events.Outbox
	err = s.store.Do(ctx, func(ctx context.Context) error {
		p, err := s.planningFor(ctx, r.ServiceID, r.StartDate, r.LastDate())
		if err != nil {
			return err
		}
		dates := r.Dates()
		if err := s.checkRange(p, dates, r.Quantity); err != nil {
			return err
		}
		if err := s.claimRange(ctx, p, r, dates); err != nil {
			return err
		}
		if err := r.SetTotalPrice(p.PriceFor(r.DayCount(), r.Quantity)); err != nil {
			return err
		}
		if err := s.store.CreateReservation(ctx, r); err != nil {
			return err
		}
		outbox.Add(events.EventReservationCreated, reservationPayload(r, "", ""))
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCapacity):
			metrics.IncBooking("unavailable")
		default:
			metrics.IncBooking("error")
		}
		s.logger.Info().Err(err).
			Str("user_id", r.UserID).
			Str("service_id", r.ServiceID).
			Time("start", r.StartDate).
			Time("end", r.LastDate()).
			Msg("booking rejected")
		return nil, err
	}

	metrics.IncBooking("created")
	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("user_id", r.UserID).
		Int("days", r.DayCount()).
		Int("quantity", r.Quantity).
		Msg("reservation created")
	s.flush(&outbox)
	return r, nil
}

// planningFor resolves the active planning of a service with slots of [from, to] loaded.
// An unknown or inactive planning reports the first day as unavailable.
func (s *BookingService) planningFor(ctx context.Context, serviceID string, from, to time.Time) (*models.Planning, error) {
	head, err := s.store.GetPlanningByPrestation(ctx, serviceID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &models.SlotUnavailableError{Date: from}
	}
	if err != nil {
		return nil, err
	}
	return s.store.GetPlanningForRange(ctx, head.ID, from, to)
}

// CancelReservation releases the holds of a Created or Validated reservation.
// Cancelling an already cancelled reservation returns it unchanged. An empty userID skips the owner check.
func (s *BookingService) CancelReservation(ctx context.Context, id, userID string) (*models.Reservation, error) {
	var (
		outbox events.Outbox
		r      *models.Reservation
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if userID != "" && r.UserID != userID {
			return ErrNotOwner
		}
		changed, err := s.cancelAndRelease(ctx, r, false, "cancelled_by_user", &outbox)
		if err != nil || !changed {
			return err
		}
		return s.detachFromBasket(ctx, r.ID, &outbox)
	})
	if err != nil {
		outbox.Reset()
		return nil, err
	}
	if outbox.Len() > 0 {
		s.logger.Info().Str("reservation_id", id).Str("user_id", userID).Msg("reservation cancelled")
	}
	s.flush(&outbox)
	return r, nil
}

// RescheduleReservation moves a reservation to a new range, giving back the old holds and
// claiming the new ones in one transaction. On failure the old holds stay in place.
// Once the reservation is paid or under a checked-out basket its price is fixed, so only
// moves that keep the price are accepted.
func (s *BookingService) RescheduleReservation(ctx context.Context, id string, start time.Time, end *time.Time) (*models.Reservation, error) {
	var (
		outbox events.Outbox
		r      *models.Reservation
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !r.Status.HoldsCapacity() {
			return fmt.Errorf("%w: %s", ErrNotHoldingState, r.Status)
		}
		locked, err := s.priceLocked(ctx, r)
		if err != nil {
			return err
		}
		oldPrice := r.TotalPrice
		oldFrom, oldTo := r.StartDate, r.LastDate()
		if err := r.UpdateDates(start, end, s.clock.Now()); err != nil {
			return err
		}
		if r.DayCount() > s.opts.MaxBookingDays {
			return models.ErrRangeTooLong
		}

		from, to := r.StartDate, r.LastDate()
		if oldFrom.Before(from) {
			from = oldFrom
		}
		if oldTo.After(to) {
			to = oldTo
		}
		p, err := s.planningFor(ctx, r.ServiceID, from, to)
		if err != nil {
			return err
		}
		if _, err := s.release(ctx, r, p); err != nil {
			return err
		}
		dates := r.Dates()
		if err := s.checkRange(p, dates, r.Quantity); err != nil {
			return err
		}
		price := p.PriceFor(r.DayCount(), r.Quantity)
		if locked && oldPrice.Valid && !price.Equal(oldPrice.Decimal) {
			return fmt.Errorf("%w: %s would become %s", ErrPriceLocked, oldPrice.Decimal, price)
		}
		if err := s.claimRange(ctx, p, r, dates); err != nil {
			return err
		}
		if err := r.SetTotalPrice(price); err != nil {
			return err
		}
		if err := s.store.UpdateReservation(ctx, r); err != nil {
			return err
		}
		outbox.Add(events.EventReservationStatusChanged, reservationPayload(r, "", "rescheduled"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&outbox)
	return r, nil
}

// priceLocked reports whether r was paid for or sits in a basket with a payment opened.
func (s *BookingService) priceLocked(ctx context.Context, r *models.Reservation) (bool, error) {
	if r.Status == models.ReservationValidated {
		return true, nil
	}
	b, err := s.store.FindOpenBasketByReservation(ctx, r.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return b.PaymentID != nil, nil
}

func (s *BookingService) UpdateComments(ctx context.Context, id, comments string) (*models.Reservation, error) {
	var r *models.Reservation
	err := s.store.Do(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := r.UpdateComments(comments, s.clock.Now()); err != nil {
			return err
		}
		return s.store.UpdateReservation(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// StartReservation checks a paid reservation in.
func (s *BookingService) StartReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return s.transition(ctx, id, "checked_in", (*models.Reservation).StartProgress)
}

func (s *BookingService) CompleteReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return s.transition(ctx, id, "checked_out", (*models.Reservation).Complete)
}

func (s *BookingService) transition(
	ctx context.Context,
	id, reason string,
	apply func(*models.Reservation, time.Time) error,
) (*models.Reservation, error) {
	var (
		outbox events.Outbox
		r      *models.Reservation
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		prev := r.Status
		if err := apply(r, s.clock.Now()); err != nil {
			return err
		}
		if err := s.store.UpdateReservation(ctx, r); err != nil {
			return err
		}
		outbox.Add(events.EventReservationStatusChanged, reservationPayload(r, prev, reason))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&outbox)
	return r, nil
}

func (s *BookingService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

func (s *BookingService) ListUserReservations(ctx context.Context, userID string) ([]*models.Reservation, error) {
	return s.store.ListReservationsByUser(ctx, userID)
}

func (s *BookingService) ListPlannings(ctx context.Context, activeOnly bool) ([]*models.Planning, error) {
	return s.store.ListPlannings(ctx, activeOnly)
}

// GetAvailability returns one entry per day of [from, to]. Days without a slot are reported undefined.
func (s *BookingService) GetAvailability(ctx context.Context, planningID string, from, to time.Time) ([]DayAvailability, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return nil, models.ErrInvalidDateRange
	}
	dates := models.DatesBetween(from, to)
	if len(dates) > s.opts.MaxBookingDays {
		return nil, models.ErrRangeTooLong
	}
	p, err := s.store.GetPlanningForRange(ctx, planningID, from, to)
	if err != nil {
		return nil, err
	}

	days := make([]DayAvailability, 0, len(dates))
	for _, d := range dates {
		day := DayAvailability{Date: d}
		if slot := p.GetSlotForDate(d); slot != nil {
			day.Defined = true
			day.MaxCapacity = slot.MaxCapacity
			day.Reserved = slot.ReservedCapacity
			if p.IsActive {
				day.Available = slot.AvailableCapacity()
			}
		}
		days = append(days, day)
	}
	return days, nil
}

// CreatePlanning stores a planning with a uniform capacity on every day of [from, to].
func (s *BookingService) CreatePlanning(
	ctx context.Context,
	p *models.Planning,
	from, to time.Time,
	capacity int,
) (*models.Planning, error) {
	now := s.clock.Now()
	if !from.IsZero() {
		if to.Before(from) {
			return nil, models.ErrInvalidDateRange
		}
		for _, d := range models.DatesBetween(models.DateOf(from), models.DateOf(to)) {
			if _, err := p.AddSlot(d, capacity, now); err != nil {
				return nil, err
			}
		}
	}
	if err := s.store.CreatePlanning(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("planning_id", p.ID).Str("prestation_id", p.PrestationID).Int("slots", len(p.Slots)).Msg("planning created")
	return p, nil
}

// AddSlots extends an existing planning. Dates that already have a slot are rejected.
func (s *BookingService) AddSlots(ctx context.Context, planningID string, from, to time.Time, capacity int) ([]*models.AvailableSlot, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return nil, models.ErrInvalidDateRange
	}
	var added []*models.AvailableSlot
	err := s.store.Do(ctx, func(ctx context.Context) error {
		p, err := s.store.GetPlanningForRange(ctx, planningID, from, to)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for _, d := range models.DatesBetween(from, to) {
			slot, err := p.AddSlot(d, capacity, now)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Format(models.DateLayout), err)
			}
			added = append(added, slot)
		}
		return s.store.AddSlots(ctx, added)
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}
