package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventReservationCreated       = "reservation_created"
	EventReservationStatusChanged = "reservation_status_changed"
	EventPaymentProcessed         = "payment_processed"
	EventBasketCancelled          = "basket_cancelled"
)

// AllTypes lists every event the engine raises.
var AllTypes = []string{
	EventReservationCreated,
	EventReservationStatusChanged,
	EventPaymentProcessed,
	EventBasketCancelled,
}

// ReservationEventPayload is the reservation snapshot handed to notification consumers.
type ReservationEventPayload struct {
	ReservationID  string          `json:"reservation_id"`
	UserID         string          `json:"user_id"`
	AnimalName     string          `json:"animal_name"`
	ServiceID      string          `json:"service_id"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	Quantity       int             `json:"quantity"`
	Status         string          `json:"status"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Reason         string          `json:"reason,omitempty"`
}

type PaymentEventPayload struct {
	PaymentID      string          `json:"payment_id"`
	BasketID       string          `json:"basket_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	FailureCount   int             `json:"failure_count"`
	ReservationIDs []string        `json:"reservation_ids"`
}

type BasketEventPayload struct {
	BasketID       string   `json:"basket_id"`
	UserID         string   `json:"user_id"`
	Reason         string   `json:"reason"`
	ReservationIDs []string `json:"reservation_ids"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every handler of the event type and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// Publisher is what Outbox flushes into.
type Publisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type pending struct {
	eventType string
	payload   interface{}
}

// Outbox collects events raised during one unit of work. Flush them only after commit.
type Outbox struct {
	events []pending
}

func (o *Outbox) Add(eventType string, payload interface{}) {
	o.events = append(o.events, pending{eventType: eventType, payload: payload})
}

func (o *Outbox) Len() int {
	return len(o.events)
}

// Reset drops collected events, used when a unit of work is retried or rolled back.
func (o *Outbox) Reset() {
	o.events = nil
}

// Flush publishes every collected event in order and empties the outbox.
func (o *Outbox) Flush(pub Publisher) error {
	defer o.Reset()
	if pub == nil {
		return nil
	}
	var errs []error
	for _, e := range o.events {
		if err := pub.PublishJSON(e.eventType, e.payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
