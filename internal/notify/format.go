package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"petboarding/internal/events"
)

// envelope holds the union of the payload fields the notifiers print.
type envelope struct {
	events.ReservationEventPayload
	PaymentID      string   `json:"payment_id"`
	BasketID       string   `json:"basket_id"`
	Amount         string   `json:"amount"`
	TransactionID  string   `json:"transaction_id"`
	FailureReason  string   `json:"failure_reason"`
	FailureCount   int      `json:"failure_count"`
	ReservationIDs []string `json:"reservation_ids"`
}

func decode(payload []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("decode payload: %w", err)
	}
	return e, nil
}

// FormatMessage renders an event as the text staff receive.
func FormatMessage(eventType string, payload []byte) (string, error) {
	e, err := decode(payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	switch eventType {
	case events.EventReservationCreated:
		fmt.Fprintf(&b, "🐾 Новая бронь %s\n", e.ReservationID)
		fmt.Fprintf(&b, "Питомец: %s\nУслуга: %s\n", orDash(e.AnimalName), e.ServiceID)
		fmt.Fprintf(&b, "Даты: %s – %s, мест: %d\n", e.StartDate, e.EndDate, e.Quantity)
		fmt.Fprintf(&b, "Сумма: %s", e.TotalPrice.StringFixed(2))
	case events.EventReservationStatusChanged:
		fmt.Fprintf(&b, "🔄 Бронь %s: %s → %s", e.ReservationID, orDash(e.PreviousStatus), e.Status)
		if e.Reason != "" {
			fmt.Fprintf(&b, "\nПричина: %s", e.Reason)
		}
	case events.EventPaymentProcessed:
		fmt.Fprintf(&b, "💳 Платеж %s по корзине %s: %s, сумма %s", e.PaymentID, e.BasketID, e.Status, e.Amount)
		if e.FailureReason != "" {
			fmt.Fprintf(&b, "\nОшибка (%d): %s", e.FailureCount, e.FailureReason)
		}
	case events.EventBasketCancelled:
		fmt.Fprintf(&b, "🗑 Корзина %s отменена (%s), броней: %d", e.BasketID, e.Reason, len(e.ReservationIDs))
	default:
		fmt.Fprintf(&b, "%s: %s", eventType, string(payload))
	}
	return b.String(), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
