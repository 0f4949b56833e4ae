// Package ratelimit provides a keyed rate limiter shared across external
// service clients. Each key gets its own minimum interval between grants;
// callers block until their turn.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter grants permission to call an external service.
type Limiter interface {
	// Acquire blocks until the caller may proceed for the given service
	// key, or until ctx is done.
	Acquire(ctx context.Context, key string) error
}

// Keyed is a Limiter holding one token bucket per service key, burst 1, so
// grants for a key are strictly sequenced at the configured interval.
type Keyed struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	intervals map[string]time.Duration
	fallback  time.Duration
}

// NewKeyed builds a Keyed limiter. fallback applies to keys with no explicit
// interval registered; zero means unlimited.
func NewKeyed(fallback time.Duration) *Keyed {
	return &Keyed{
		limiters:  make(map[string]*rate.Limiter),
		intervals: make(map[string]time.Duration),
		fallback:  fallback,
	}
}

// SetInterval registers the minimum interval between grants for a key.
// Must be called before the first Acquire for that key to take effect.
func (k *Keyed) SetInterval(key string, interval time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.intervals[key] = interval
	delete(k.limiters, key)
}

func (k *Keyed) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if lim, ok := k.limiters[key]; ok {
		return lim
	}
	interval, ok := k.intervals[key]
	if !ok {
		interval = k.fallback
	}
	var lim *rate.Limiter
	if interval <= 0 {
		lim = rate.NewLimiter(rate.Inf, 1)
	} else {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	k.limiters[key] = lim
	return lim
}

// Acquire implements Limiter.
func (k *Keyed) Acquire(ctx context.Context, key string) error {
	return k.limiterFor(key).Wait(ctx)
}

// Unlimited returns a limiter that never blocks. Intended for tests.
func Unlimited() *Keyed {
	return NewKeyed(0)
}
