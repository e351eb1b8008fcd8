package service

import (
	"context"
	"errors"

	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/events"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BasketSummary is a basket with its reservations and the amount due.
type BasketSummary struct {
	Basket       *models.Basket        `json:"basket"`
	Reservations []*models.Reservation `json:"reservations"`
	Total        decimal.Decimal       `json:"total"`
}

type BasketService struct {
	holds
}

func NewBasketService(store domain.Store, publisher domain.EventPublisher, clock domain.Clock, logger *zerolog.Logger) *BasketService {
	return &BasketService{holds: newHolds(store, publisher, clock, logger)}
}

// AddToBasket puts a Created reservation of the user into the user's open basket,
// creating the basket on first use.
func (s *BasketService) AddToBasket(ctx context.Context, userID, reservationID string) (*models.Basket, error) {
	var b *models.Basket
	err := s.store.Do(ctx, func(ctx context.Context) error {
		r, err := s.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.UserID != userID {
			return ErrNotOwner
		}
		if r.Status != models.ReservationCreated {
			return ErrNotHoldingState
		}
		if other, err := s.store.FindOpenBasketByReservation(ctx, reservationID); err == nil {
			if other.Status == models.BasketCreated {
				return models.ErrDuplicateItem
			}
			return models.ErrAlreadyModified
		} else if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}

		now := s.clock.Now()
		b, err = s.store.GetOpenBasketByUser(ctx, userID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			if b, err = models.NewBasket(userID, now); err != nil {
				return err
			}
			if err := b.AddReservation(reservationID, now); err != nil {
				return err
			}
			return s.store.CreateBasket(ctx, b)
		case err != nil:
			return err
		}
		if err := b.AddReservation(reservationID, now); err != nil {
			return err
		}
		return s.store.UpdateBasket(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("basket_id", b.ID).Str("reservation_id", reservationID).Msg("reservation added to basket")
	return b, nil
}

// RemoveFromBasket drops one reservation from the user's basket. The reservation keeps its holds.
func (s *BasketService) RemoveFromBasket(ctx context.Context, userID, reservationID string) (*models.Basket, error) {
	var (
		outbox events.Outbox
		b      *models.Basket
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.store.GetOpenBasketByUser(ctx, userID)
		if err != nil {
			return err
		}
		emptied, err := b.RemoveReservation(reservationID, s.clock.Now())
		if err != nil {
			return err
		}
		if emptied {
			if err := s.cancelBasketPayment(ctx, b); err != nil {
				return err
			}
		}
		if err := s.store.UpdateBasket(ctx, b); err != nil {
			return err
		}
		if emptied {
			outbox.Add(events.EventBasketCancelled, events.BasketEventPayload{
				BasketID: b.ID, UserID: b.UserID, Reason: "emptied", ReservationIDs: []string{},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&outbox)
	return b, nil
}

// ClearBasket abandons the user's open basket and cancels its payment, if one was opened.
// It returns the ids that were in it.
func (s *BasketService) ClearBasket(ctx context.Context, userID string) ([]string, error) {
	var (
		outbox  events.Outbox
		removed []string
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		b, err := s.store.GetOpenBasketByUser(ctx, userID)
		if err != nil {
			return err
		}
		if removed, err = b.Clear(s.clock.Now()); err != nil {
			return err
		}
		if err := s.cancelBasketPayment(ctx, b); err != nil {
			return err
		}
		if err := s.store.UpdateBasket(ctx, b); err != nil {
			return err
		}
		outbox.Add(events.EventBasketCancelled, events.BasketEventPayload{
			BasketID: b.ID, UserID: b.UserID, Reason: "cleared", ReservationIDs: removed,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&outbox)
	return removed, nil
}

// GetBasket returns the user's open basket with its total.
func (s *BasketService) GetBasket(ctx context.Context, userID string) (*BasketSummary, error) {
	b, err := s.store.GetOpenBasketByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, b)
}

func (s *BasketService) GetBasketByID(ctx context.Context, id string) (*BasketSummary, error) {
	b, err := s.store.GetBasket(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, b)
}

func (s *BasketService) summarize(ctx context.Context, b *models.Basket) (*BasketSummary, error) {
	reservations, err := s.store.GetReservations(ctx, b.Items)
	if err != nil {
		return nil, err
	}
	sum := &BasketSummary{Basket: b, Reservations: reservations, Total: decimal.Zero}
	if len(b.Items) > 0 {
		total, err := b.GetTotalAmount(reservations)
		if err != nil {
			s.logger.Warn().Err(err).Str("basket_id", b.ID).Msg("basket total unavailable")
			return sum, nil
		}
		sum.Total = total
	}
	return sum, nil
}
