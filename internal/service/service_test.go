package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(d int) *time.Time {
	t := day(d)
	return &t
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	args := m.Called(eventType, payload)
	return args.Error(0)
}

func (m *mockPublisher) count(eventType string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "PublishJSON" && c.Arguments.String(0) == eventType {
			n++
		}
	}
	return n
}

// flakyStore fails capacity calls on chosen slots.
type flakyStore struct {
	domain.Store
	reserveErr map[string]error
	releaseErr map[string]error
}

func (s *flakyStore) ReserveCapacity(ctx context.Context, slotID string, quantity int) error {
	if err, ok := s.reserveErr[slotID]; ok {
		return err
	}
	return s.Store.ReserveCapacity(ctx, slotID, quantity)
}

func (s *flakyStore) ReleaseCapacity(ctx context.Context, slotID string, quantity int) error {
	if err, ok := s.releaseErr[slotID]; ok {
		return err
	}
	return s.Store.ReleaseCapacity(ctx, slotID, quantity)
}

type testEnv struct {
	db       *database.DB
	store    domain.Store
	clock    *fakeClock
	pub      *mockPublisher
	logger   *zerolog.Logger
	opts     Options
	booking  *BookingService
	baskets  *BasketService
	payments *PaymentService
	sweep    *SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:     db,
		store:  db,
		clock:  &fakeClock{now: testNow},
		pub:    &mockPublisher{},
		logger: &logger,
	}
	env.pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	env.build()
	return env
}

// build wires the services over env.store with env.opts.
func (e *testEnv) build() {
	e.booking = NewBookingService(e.store, e.pub, e.clock, nil, e.opts, e.logger)
	e.baskets = NewBasketService(e.store, e.pub, e.clock, e.logger)
	e.payments = NewPaymentService(e.store, e.pub, e.clock, e.opts, e.logger)
	e.sweep = NewSweepService(e.store, e.pub, e.clock, e.opts, e.logger)
}

func (e *testEnv) seedPlanning(t *testing.T, capacity int, days ...int) *models.Planning {
	t.Helper()
	p, err := models.NewPlanning("boarding", "Boarding", "", decimal.RequireFromString("30.00"), testNow)
	require.NoError(t, err)
	for _, d := range days {
		_, err := p.AddSlot(day(d), capacity, testNow)
		require.NoError(t, err)
	}
	require.NoError(t, e.db.CreatePlanning(context.Background(), p))
	return p
}

func (e *testEnv) book(t *testing.T, userID string, start int, end *time.Time, qty int) *models.Reservation {
	t.Helper()
	r, err := e.booking.BookReservation(context.Background(), BookingRequest{
		UserID:    userID,
		AnimalID:  "animal-" + userID,
		ServiceID: "boarding",
		StartDate: day(start),
		EndDate:   end,
		Quantity:  qty,
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) reserved(t *testing.T, p *models.Planning, d int) int {
	t.Helper()
	slot, err := e.db.GetSlot(context.Background(), p.GetSlotForDate(day(d)).ID)
	require.NoError(t, err)
	return slot.ReservedCapacity
}

func (e *testEnv) reservation(t *testing.T, id string) *models.Reservation {
	t.Helper()
	r, err := e.db.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r
}

var errDisk = errors.New("disk I/O error")
