package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is one checkout attempt for a basket. Amount is fixed at creation.
type Payment struct {
	ID                    string          `json:"id"`
	BasketID              string          `json:"basket_id"`
	Amount                decimal.Decimal `json:"amount"`
	Method                string          `json:"method"`
	Status                PaymentStatus   `json:"status"`
	ExternalTransactionID *string         `json:"external_transaction_id,omitempty"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func NewPayment(basketID string, amount decimal.Decimal, method string, now time.Time) (*Payment, error) {
	if basketID == "" || method == "" {
		return nil, ErrMissingField
	}
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return &Payment{
		ID:        NewID(),
		BasketID:  basketID,
		Amount:    amount,
		Method:    method,
		Status:    PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) MarkAsSuccess(transactionID string, now time.Time) error {
	if p.Status != PaymentPending {
		return invalidTransition("payment", string(p.Status), string(PaymentSuccess))
	}
	p.Status = PaymentSuccess
	if transactionID != "" {
		p.ExternalTransactionID = &transactionID
	}
	p.FailureReason = nil
	p.UpdatedAt = now
	return nil
}

func (p *Payment) MarkAsFailed(reason string, now time.Time) error {
	if p.Status != PaymentPending {
		return invalidTransition("payment", string(p.Status), string(PaymentFailed))
	}
	p.Status = PaymentFailed
	p.FailureReason = &reason
	p.UpdatedAt = now
	return nil
}

// Retry reopens a failed payment.
func (p *Payment) Retry(now time.Time) error {
	if p.Status != PaymentFailed {
		return invalidTransition("payment", string(p.Status), string(PaymentPending))
	}
	p.Status = PaymentPending
	p.FailureReason = nil
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Cancel(now time.Time) error {
	switch p.Status {
	case PaymentCancelled:
		return nil
	case PaymentSuccess:
		return invalidTransition("payment", string(p.Status), string(PaymentCancelled))
	}
	p.Status = PaymentCancelled
	p.UpdatedAt = now
	return nil
}
