// Package ratelimit paces transaction submission to the cluster.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues permits no faster than a fixed interval. A Limiter with a
// non-positive rate is unlimited and never blocks.
//
// Permits are not banked: a caller that falls behind schedule proceeds at
// once, but the next permit is still one interval after the previous one.
type Limiter struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
	rate     float64
}

// New creates a Limiter issuing ratePerSec transactions per second.
// Zero or negative means unlimited.
func New(ratePerSec float64) *Limiter {
	l := &Limiter{next: time.Now()}
	if ratePerSec > 0 {
		l.rate = ratePerSec
		l.interval = time.Duration(float64(time.Second) / ratePerSec)
	}
	return l
}

// Wait blocks until a permit is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.interval == 0 {
		l.mu.Unlock()
		return ctx.Err()
	}
	now := time.Now()
	permit := l.next
	if permit.Before(now) {
		permit = now
	}
	l.next = permit.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(permit)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the configured rate; 0 means unlimited.
func (l *Limiter) Rate() float64 {
	return l.rate
}

// Unlimited reports whether Wait never blocks.
func (l *Limiter) Unlimited() bool {
	return l.Rate() == 0
}
