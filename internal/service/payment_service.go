package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/events"
	"petboarding/internal/metrics"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
)

type PaymentService struct {
	holds
	opts Options
}

func NewPaymentService(store domain.Store, publisher domain.EventPublisher, clock domain.Clock, opts Options, logger *zerolog.Logger) *PaymentService {
	return &PaymentService{holds: newHolds(store, publisher, clock, logger), opts: opts.withDefaults()}
}

// Checkout opens a Pending payment for the basket total. A pending payment whose amount
// still matches the total is handed back unchanged; a stale one is cancelled and replaced.
func (s *PaymentService) Checkout(ctx context.Context, basketID, method string) (*models.Payment, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, models.ErrMissingField
	}
	var p *models.Payment
	err := s.store.Do(ctx, func(ctx context.Context) error {
		b, err := s.store.GetBasket(ctx, basketID)
		if err != nil {
			return err
		}
		if b.Status != models.BasketCreated {
			return models.ErrAlreadyModified
		}
		if len(b.Items) == 0 {
			return models.ErrEmptyBasket
		}

		reservations, err := s.store.GetReservations(ctx, b.Items)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if r.Status != models.ReservationCreated {
				return fmt.Errorf("%w: reservation %s is %s", ErrNotHoldingState, r.ID, r.Status)
			}
		}
		total, err := b.GetTotalAmount(reservations)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if b.PaymentID != nil {
			existing, err := s.store.GetPayment(ctx, *b.PaymentID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
			if existing != nil && existing.Status == models.PaymentPending {
				if existing.Amount.Equal(total) {
					p = existing
					return nil
				}
				s.logger.Warn().
					Str("payment_id", existing.ID).
					Str("amount", existing.Amount.String()).
					Str("total", total.String()).
					Msg("replacing stale pending payment")
				if err := existing.Cancel(now); err != nil {
					return err
				}
				if err := s.store.UpdatePayment(ctx, existing); err != nil {
					return err
				}
			}
		}

		if p, err = models.NewPayment(b.ID, total, method, now); err != nil {
			return err
		}
		if err := s.store.CreatePayment(ctx, p); err != nil {
			return err
		}
		if err := b.AssignPayment(p.ID, now); err != nil {
			return err
		}
		return s.store.UpdateBasket(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("payment_id", p.ID).Str("basket_id", basketID).Str("amount", p.Amount.String()).Msg("checkout started")
	return p, nil
}

// ConfirmPayment records a successful payment: the basket becomes Paid and every
// reservation in it Validated, all in one unit of work. A payment whose amount no longer
// equals the basket total is refused with ErrAmountMismatch and nothing changes.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentID, transactionID string) (*models.Payment, error) {
	var (
		outbox events.Outbox
		p      *models.Payment
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentSuccess {
			return nil
		}
		now := s.clock.Now()
		if err := p.MarkAsSuccess(transactionID, now); err != nil {
			return err
		}
		b, err := s.store.GetBasket(ctx, p.BasketID)
		if err != nil {
			return err
		}
		ids, err := b.MarkAsPaidAndGetReservations(now)
		if err != nil {
			return err
		}
		reservations, err := s.store.GetReservations(ctx, ids)
		if err != nil {
			return err
		}
		if len(reservations) != len(ids) {
			return fmt.Errorf("%w: basket %s", models.ErrItemNotFound, b.ID)
		}
		total, err := b.GetTotalAmount(reservations)
		if err != nil {
			return err
		}
		if !total.Equal(p.Amount) {
			return fmt.Errorf("%w: paid %s, due %s", models.ErrAmountMismatch, p.Amount, total)
		}
		for _, r := range reservations {
			if err := r.MarkAsPaid(now); err != nil {
				return fmt.Errorf("reservation %s: %w", r.ID, err)
			}
			if err := s.store.UpdateReservation(ctx, r); err != nil {
				return err
			}
			outbox.Add(events.EventReservationStatusChanged, reservationPayload(r, models.ReservationCreated, "paid"))
		}
		if err := s.store.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := s.store.UpdateBasket(ctx, b); err != nil {
			return err
		}
		outbox.Add(events.EventPaymentProcessed, paymentPayload(p, b))
		return nil
	})
	if err != nil {
		metrics.IncPayment("error")
		s.logger.Error().Err(err).Str("payment_id", paymentID).Msg("payment confirmation failed")
		return nil, err
	}
	if outbox.Len() > 0 {
		metrics.IncPayment("success")
		s.logger.Info().Str("payment_id", p.ID).Str("basket_id", p.BasketID).Msg("payment confirmed")
	}
	s.flush(&outbox)
	return p, nil
}

// FailPayment records a failed attempt. When the basket reaches the failure threshold it is
// cancelled and every reservation in it is released and auto-cancelled.
func (s *PaymentService) FailPayment(ctx context.Context, paymentID, reason string) (*models.Basket, error) {
	var (
		outbox events.Outbox
		b      *models.Basket
	)
	err := s.store.Do(ctx, func(ctx context.Context) error {
		p, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := p.MarkAsFailed(reason, now); err != nil {
			return err
		}
		if b, err = s.store.GetBasket(ctx, p.BasketID); err != nil {
			return err
		}
		cancelled, err := b.RecordPaymentFailure(s.opts.MaxPaymentFailures, now)
		if err != nil {
			return err
		}
		if cancelled {
			if err := s.releaseBasket(ctx, b, &outbox); err != nil {
				return err
			}
		}
		if err := s.store.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := s.store.UpdateBasket(ctx, b); err != nil {
			return err
		}
		outbox.Add(events.EventPaymentProcessed, paymentPayload(p, b))
		return nil
	})
	if err != nil {
		metrics.IncPayment("error")
		return nil, err
	}
	metrics.IncPayment("failed")
	s.logger.Warn().
		Str("payment_id", paymentID).
		Str("basket_id", b.ID).
		Int("failures", b.PaymentFailureCount).
		Str("basket_status", string(b.Status)).
		Msg("payment failed")
	s.flush(&outbox)
	return b, nil
}

// releaseBasket auto-cancels every reservation of a basket cancelled after too many failures.
// A reservation that no longer exists is an integrity warning, not a failure.
func (s *PaymentService) releaseBasket(ctx context.Context, b *models.Basket, outbox *events.Outbox) error {
	for _, id := range b.Items {
		r, err := s.store.GetReservation(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			s.logger.Warn().Str("basket_id", b.ID).Str("reservation_id", id).Msg("basket item has no reservation")
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.cancelAndRelease(ctx, r, true, "payment_failed", outbox); err != nil {
			return fmt.Errorf("reservation %s: %w", id, err)
		}
	}
	outbox.Add(events.EventBasketCancelled, events.BasketEventPayload{
		BasketID: b.ID, UserID: b.UserID, Reason: "payment_failed", ReservationIDs: b.Items,
	})
	return nil
}

// RetryPayment reopens a basket after a failure and puts its payment back to Pending.
func (s *PaymentService) RetryPayment(ctx context.Context, basketID string) (*models.Payment, error) {
	var p *models.Payment
	err := s.store.Do(ctx, func(ctx context.Context) error {
		b, err := s.store.GetBasket(ctx, basketID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := b.RetryPayment(s.opts.MaxPaymentFailures, now); err != nil {
			return err
		}
		if b.PaymentID == nil {
			return models.ErrPaymentNotAssigned
		}
		if p, err = s.store.GetPayment(ctx, *b.PaymentID); err != nil {
			return err
		}
		if err := p.Retry(now); err != nil {
			return err
		}
		if err := s.store.UpdatePayment(ctx, p); err != nil {
			return err
		}
		return s.store.UpdateBasket(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPayment("retry")
	return p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

func paymentPayload(p *models.Payment, b *models.Basket) events.PaymentEventPayload {
	payload := events.PaymentEventPayload{
		PaymentID:      p.ID,
		BasketID:       b.ID,
		UserID:         b.UserID,
		Amount:         p.Amount,
		Status:         string(p.Status),
		FailureCount:   b.PaymentFailureCount,
		ReservationIDs: b.Items,
	}
	if p.ExternalTransactionID != nil {
		payload.TransactionID = *p.ExternalTransactionID
	}
	if p.FailureReason != nil {
		payload.FailureReason = *p.FailureReason
	}
	return payload
}
