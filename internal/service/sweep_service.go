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

const expiredReason = "hold_expired"

type SweepResult struct {
	Baskets      int `json:"baskets"`
	Reservations int `json:"reservations"`
}

// SweepService reclaims capacity held by open baskets idle for longer than the hold window
// and by reservations that sat outside any basket for that long.
// Each item is handled in its own unit of work so one broken item never blocks the batch.
type SweepService struct {
	holds
	opts Options
}

func NewSweepService(store domain.Store, publisher domain.EventPublisher, clock domain.Clock, opts Options, logger *zerolog.Logger) *SweepService {
	return &SweepService{holds: newHolds(store, publisher, clock, logger), opts: opts.withDefaults()}
}

// RunOnce runs the basket sweep then the reservation sweep.
func (s *SweepService) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs []error

	n, err := s.ExpireBaskets(ctx)
	res.Baskets = n
	if err != nil {
		errs = append(errs, err)
	}
	n, err = s.ExpireReservations(ctx)
	res.Reservations = n
	if err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// ExpireBaskets cancels open baskets not touched within the hold window together with their
// reservations and payment. It returns the number of baskets it cancelled.
func (s *SweepService) ExpireBaskets(ctx context.Context) (int, error) {
	started := s.clock.Now()
	cutoff := started.Add(-s.opts.HoldWindow)

	baskets, err := s.store.ListExpiredBaskets(ctx, cutoff, s.opts.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired baskets: %w", err)
	}

	processed := 0
	for _, b := range baskets {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.expireBasket(ctx, b.ID, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Str("basket_id", b.ID).Msg("failed to expire basket")
			continue
		}
		if ok {
			processed++
		}
	}

	metrics.ObserveSweep("baskets", processed, started)
	if processed > 0 {
		s.logger.Info().Int("baskets", processed).Int("candidates", len(baskets)).Msg("expired baskets swept")
	}
	return processed, nil
}

// expireBasket re-checks the basket and, if it is still open and stale, cancels it together with
// its payment. Only then are its reservations auto-cancelled, each in its own unit of work:
// an item that fails stays Created outside any open basket and the reservation sweep retries it.
func (s *SweepService) expireBasket(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	var (
		outbox events.Outbox
		items  []string
	)
	changed := false
	err := s.store.Do(ctx, func(ctx context.Context) error {
		b, err := s.store.GetBasket(ctx, id)
		if err != nil {
			return err
		}
		// корзину могли оплатить или изменить, пока шла очистка
		if !b.Status.IsOpen() || b.UpdatedAt.After(cutoff) {
			return nil
		}
		if err := s.cancelBasketPayment(ctx, b); err != nil {
			return err
		}
		if changed, err = b.Cancel(s.clock.Now()); err != nil || !changed {
			return err
		}
		if err := s.store.UpdateBasket(ctx, b); err != nil {
			return err
		}
		items = b.Items
		outbox.Add(events.EventBasketCancelled, events.BasketEventPayload{
			BasketID: b.ID, UserID: b.UserID, Reason: expiredReason, ReservationIDs: b.Items,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	s.flush(&outbox)

	for _, itemID := range items {
		_, err := s.expireReservation(ctx, itemID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			s.logger.Warn().Str("basket_id", id).Str("reservation_id", itemID).Msg("basket item has no reservation")
		case err != nil:
			s.logger.Error().Err(err).
				Str("basket_id", id).
				Str("reservation_id", itemID).
				Msg("failed to expire basket item")
		}
	}
	return changed, nil
}

// ExpireReservations auto-cancels Created reservations older than the hold window that no open
// basket holds. Reservations in an open basket follow the basket's window instead.
// It returns the number it cancelled.
func (s *SweepService) ExpireReservations(ctx context.Context) (int, error) {
	started := s.clock.Now()
	cutoff := started.Add(-s.opts.HoldWindow)

	reservations, err := s.store.ListExpiredReservations(ctx, cutoff, s.opts.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	processed := 0
	for _, r := range reservations {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.expireReservation(ctx, r.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to expire reservation")
			continue
		}
		if ok {
			processed++
		}
	}

	metrics.ObserveSweep("reservations", processed, started)
	if processed > 0 {
		s.logger.Info().Int("reservations", processed).Int("candidates", len(reservations)).Msg("expired reservations swept")
	}
	return processed, nil
}

// expireReservation reloads the reservation and auto-cancels it if it still holds an unpaid claim
// outside any open basket.
func (s *SweepService) expireReservation(ctx context.Context, id string) (bool, error) {
	var outbox events.Outbox
	changed := false
	err := s.store.Do(ctx, func(ctx context.Context) error {
		r, err := s.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != models.ReservationCreated {
			return nil
		}
		b, err := s.store.FindOpenBasketByReservation(ctx, id)
		switch {
		case err == nil:
			s.logger.Debug().Str("reservation_id", id).Str("basket_id", b.ID).Msg("reservation held by open basket")
			return nil
		case !errors.Is(err, database.ErrNotFound):
			return err
		}
		changed, err = s.cancelAndRelease(ctx, r, true, expiredReason, &outbox)
		return err
	})
	if err != nil {
		return false, err
	}
	s.flush(&outbox)
	return changed, nil
}
