package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Coordinator is what the sweep scheduler and the booking service need from a shared store.
type Coordinator interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// FailoverCoordinator uses primary until it fails, then fallback, probing primary again every minute.
type FailoverCoordinator struct {
	primary   Coordinator
	fallback  Coordinator
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	retryIn   time.Duration
}

func NewFailoverCoordinator(primary, fallback Coordinator, logger *zerolog.Logger) *FailoverCoordinator {
	return &FailoverCoordinator{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		retryIn:  time.Minute,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverCoordinator) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > r.retryIn
}

func (r *FailoverCoordinator) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary coordinator failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverCoordinator) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary coordinator recovered")
	}
}

func (r *FailoverCoordinator) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Acquire(ctx, key, owner, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Acquire(ctx, key, owner, ttl)
}

// Release goes to both stores since the lock may have been taken by either.
func (r *FailoverCoordinator) Release(ctx context.Context, key, owner string) error {
	if !r.isDown.Load() {
		if err := r.primary.Release(ctx, key, owner); err != nil {
			r.markDown(err)
		}
	}
	return r.fallback.Release(ctx, key, owner)
}

func (r *FailoverCoordinator) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
