package jobflow

import (
	"context"
	"sync"
	"time"
)

// Countdown re-emits a stop event every tick with a decremented remaining
// time, until the time runs out or the countdown is stopped from outside.
// The remaining time is a client-side estimate, so it is corrected against
// a fresh value every resyncEvery ticks.
type Countdown struct {
	interval    time.Duration
	resyncEvery int

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewCountdown creates a countdown with a 1 second tick and a resync every
// 5 ticks.
func NewCountdown() *Countdown {
	return &Countdown{
		interval:    time.Second,
		resyncEvery: 5,
		stopped:     make(chan struct{}),
	}
}

// newCountdownWithInterval is the test hook for fast ticks.
func newCountdownWithInterval(interval time.Duration) *Countdown {
	return &Countdown{
		interval:    interval,
		resyncEvery: 5,
		stopped:     make(chan struct{}),
	}
}

// Stop halts the countdown. It is safe to call from any goroutine and more
// than once; a new processing event stops the countdown this way so two
// countdowns never compete.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Run drives the countdown until it expires, is stopped, or ctx ends.
// remaining should be one above the first value to report: each iteration
// decrements before emitting, so emit sees remaining-1, remaining-2, .., 0.
// resync may return a corrected remaining time; returning false keeps the
// current estimate.
func (c *Countdown) Run(ctx context.Context, remaining int, emit func(remaining int), resync func(ctx context.Context) (int, bool)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		remaining--
		if remaining < 0 {
			return
		}
		select {
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		emit(remaining)

		if remaining%c.resyncEvery == 0 && resync != nil {
			if corrected, ok := resync(ctx); ok {
				remaining = corrected
			}
		}

		select {
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
