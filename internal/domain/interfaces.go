package domain

import (
	"context"
	"time"

	"petboarding/internal/models"
)

type PlanningRepository interface {
	CreatePlanning(ctx context.Context, p *models.Planning) error
	AddSlots(ctx context.Context, slots []*models.AvailableSlot) error
	GetPlanning(ctx context.Context, id string) (*models.Planning, error)
	GetPlanningForRange(ctx context.Context, id string, from, to time.Time) (*models.Planning, error)
	GetPlanningByPrestation(ctx context.Context, prestationID string) (*models.Planning, error)
	ListPlannings(ctx context.Context, activeOnly bool) ([]*models.Planning, error)
	GetSlot(ctx context.Context, id string) (*models.AvailableSlot, error)
	// ReserveCapacity must be a compare-and-increment against max capacity.
	ReserveCapacity(ctx context.Context, slotID string, quantity int) error
	ReleaseCapacity(ctx context.Context, slotID string, quantity int) error
}

type ReservationRepository interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	GetReservations(ctx context.Context, ids []string) ([]*models.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]*models.Reservation, error)
	ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error)
}

type BasketRepository interface {
	CreateBasket(ctx context.Context, b *models.Basket) error
	UpdateBasket(ctx context.Context, b *models.Basket) error
	GetBasket(ctx context.Context, id string) (*models.Basket, error)
	GetOpenBasketByUser(ctx context.Context, userID string) (*models.Basket, error)
	FindOpenBasketByReservation(ctx context.Context, reservationID string) (*models.Basket, error)
	ListExpiredBaskets(ctx context.Context, cutoff time.Time, limit int) ([]*models.Basket, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
}

// UnitOfWork commits everything done with the ctx passed to fn atomically.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the full persistence gateway of the engine.
type Store interface {
	UnitOfWork
	PlanningRepository
	ReservationRepository
	BasketRepository
	PaymentRepository
}

type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers one event to an outside channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, eventType string, payload []byte) error
}

// Locker guards work that only one process may run at a time.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
