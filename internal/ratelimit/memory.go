// Package ratelimit implements the per-agent send cooldown that keeps
// agents from flooding rooms or replying to each other in a loop.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between two admitted sends by one agent.
const DefaultCooldown = 30 * time.Second

// Limiter admits at most one action per key per cooldown window.
// Keys are agent ids on the send path and client addresses on registration.
type Limiter interface {
	Admit(ctx context.Context, key string) (bool, error)
	Cooldown() time.Duration
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

// MemoryLimiter tracks the last admission per agent in process memory.
//
// Entries older than the cooldown carry no information (the next Admit
// would succeed regardless), so they are swept at most once per cooldown
// window. The map therefore holds only agents admitted within the last
// two windows.
type MemoryLimiter struct {
	mu        sync.Mutex
	cooldown  time.Duration
	now       func() time.Time
	last      map[string]time.Time
	lastSweep time.Time
}

// Option configures a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter creates a limiter with the given cooldown.
// A non-positive cooldown admits everything.
func NewMemoryLimiter(cooldown time.Duration, opts ...Option) *MemoryLimiter {
	l := &MemoryLimiter{
		cooldown: cooldown,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit reports whether agentID may send now, recording the admission if so.
func (l *MemoryLimiter) Admit(_ context.Context, agentID string) (bool, error) {
	if l.cooldown <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	if last, ok := l.last[agentID]; ok && now.Sub(last) < l.cooldown {
		return false, nil
	}
	l.last[agentID] = now
	return true, nil
}

// Cooldown returns the configured window.
func (l *MemoryLimiter) Cooldown() time.Duration {
	return l.cooldown
}

// Tracked returns the number of agents currently held in memory.
func (l *MemoryLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cooldown {
		return
	}
	for id, t := range l.last {
		if now.Sub(t) >= l.cooldown {
			delete(l.last, id)
		}
	}
	l.lastSweep = now
}
