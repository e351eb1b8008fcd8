package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"petboarding/internal/domain"
	"petboarding/internal/models"
	"petboarding/internal/service"

	"github.com/rs/zerolog"
)

const sweepLockKey = "petboarding:sweep:lock"

type Sweeper interface {
	RunOnce(ctx context.Context) (service.SweepResult, error)
}

// SweepScheduler runs the expiration sweeps on a fixed cadence. Only the process holding the
// lock sweeps in a given tick.
type SweepScheduler struct {
	sweeper  Sweeper
	locker   domain.Locker
	interval time.Duration
	lockTTL  time.Duration
	owner    string
	logger   *zerolog.Logger
	wg       sync.WaitGroup
}

func NewSweepScheduler(sweeper Sweeper, locker domain.Locker, interval, lockTTL time.Duration, logger *zerolog.Logger) *SweepScheduler {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	host, _ := os.Hostname()
	return &SweepScheduler{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
		owner:    host + "/" + models.NewID(),
		logger:   logger,
	}
}

// Start kicks a sweep right away and then on every tick until ctx is done.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Wait blocks until the loop started by Start returns.
func (s *SweepScheduler) Wait() {
	s.wg.Wait()
}

// Tick runs one sweep if the lock can be taken. It reports whether the sweep ran.
func (s *SweepScheduler) Tick(ctx context.Context) bool {
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, sweepLockKey, s.owner, s.lockTTL)
		if err != nil {
			s.logger.Error().Err(err).Msg("sweep lock error")
			return false
		}
		if !ok {
			s.logger.Debug().Msg("sweep skipped, lock held elsewhere")
			return false
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, s.owner); err != nil {
				s.logger.Warn().Err(err).Msg("sweep lock release failed")
			}
		}()
	}

	res, err := s.sweeper.RunOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
	}
	s.logger.Debug().Int("baskets", res.Baskets).Int("reservations", res.Reservations).Msg("sweep finished")
	return true
}
