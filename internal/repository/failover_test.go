package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, owner, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockCoordinator) Release(ctx context.Context, key, owner string) error {
	args := m.Called(ctx, key, owner)
	return args.Error(0)
}

func (m *mockCoordinator) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverCoordinator(t *testing.T) {
	primary := new(mockCoordinator)
	fallback := new(mockCoordinator)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverCoordinator(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "u", 5, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailureSwitchesToFallback", func(t *testing.T) {
		primary.On("Acquire", ctx, "lock", "me", time.Minute).Return(false, errors.New("redis down")).Once()
		fallback.On("Acquire", ctx, "lock", "me", time.Minute).Return(true, nil).Once()

		ok, err := repo.Acquire(ctx, "lock", "me", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, repo.isDown.Load())
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "u", 5, time.Minute).Return(false, nil).Once()
		fallback.On("Release", ctx, "lock", "me").Return(nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u", 5, time.Minute)
		assert.NoError(t, err)
		assert.False(t, allowed)
		assert.NoError(t, repo.Release(ctx, "lock", "me"))
		primary.AssertNotCalled(t, "Release", ctx, "lock", "me")
	})

	t.Run("Recovery", func(t *testing.T) {
		repo.retryIn = 0
		primary.On("CheckRateLimit", ctx, "u", 5, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, repo.isDown.Load())
	})

	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}
