package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryCoordinator is the single-process stand-in for RedisCoordinator.
type MemoryCoordinator struct {
	mu         sync.Mutex
	locks      map[string]lockEntry
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		locks:      make(map[string]lockEntry),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryCoordinator) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if l, ok := r.locks[key]; ok && now.Before(l.expiresAt) {
		return false, nil
	}
	r.locks[key] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryCoordinator) Release(_ context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.locks[key]; ok && l.owner == owner {
		delete(r.locks, key)
	}
	return nil
}

func (r *MemoryCoordinator) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
