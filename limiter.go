package main

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 3

// Limiter caps the number of account operations talking to backends at once.
// Waiters are admitted in FIFO order.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	peak     atomic.Int64
}

func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = defaultConcurrency
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cur := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if cur <= p || l.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	return nil
}

// Release hands the permit to the longest waiting caller, if any.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

func (l *Limiter) Size() int { return l.size }

func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Peak returns the highest number of permits held at once since creation.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }
