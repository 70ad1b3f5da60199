// Package counters keeps the pending/unread badges fresh without flooding the
// backend with aggregate queries.
package counters

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates counter fetches. It holds one token that refills once per
// freshness window and is drained when a fetch succeeds; triggers that arrive
// while the bucket is empty, or while a fetch is running, are dropped. Accepted
// triggers are coalesced behind a trailing delay timer.
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	delay    time.Duration
	bucket   *rate.Limiter
	timer    *time.Timer
	inFlight bool
	now      func() time.Time
}

// NewLimiter creates a limiter that coalesces triggers for delay and treats a
// successful fetch as fresh for window.
func NewLimiter(delay, window time.Duration) *Limiter {
	return &Limiter{
		window: window,
		delay:  delay,
		bucket: rate.NewLimiter(rate.Every(window), 1),
		now:    time.Now,
	}
}

// Schedule arranges for fn to run after the coalescing delay, replacing any
// run scheduled earlier. It returns false when the trigger was dropped.
func (l *Limiter) Schedule(fn func() error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight {
		return false
	}
	if l.bucket.TokensAt(l.now()) < 1 {
		return false
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(l.delay, func() {
		l.mu.Lock()
		if l.timer != t || l.inFlight {
			l.mu.Unlock()
			return
		}
		l.timer = nil
		l.inFlight = true
		l.mu.Unlock()

		l.finish(fn())
	})
	l.timer = t
	return true
}

// Run executes fn immediately, skipping the delay and the freshness check. It
// still refuses to overlap a running fetch.
func (l *Limiter) Run(fn func() error) (bool, error) {
	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		return false, nil
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.inFlight = true
	l.mu.Unlock()

	err := fn()
	l.finish(err)
	return true, err
}

func (l *Limiter) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false
	if err != nil {
		return
	}
	// Start a fresh window from this fetch: full bucket, then take its only token.
	l.bucket = rate.NewLimiter(rate.Every(l.window), 1)
	l.bucket.AllowN(l.now(), 1)
}

// Pending reports whether a run is scheduled but has not started.
func (l *Limiter) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timer != nil
}

// InFlight reports whether a fetch is running.
func (l *Limiter) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Stop cancels any scheduled run.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
