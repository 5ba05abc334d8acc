// Package quota implements a multi-window sliding rate limiter for the
// remote provider's call quota. The provider enforces per-minute, per-hour
// and per-day ceilings; the limiter keeps one sliding window per ceiling and
// only grants a call when every window has headroom. A configurable buffer
// ratio is reserved below each hard limit to absorb clock skew and
// concurrent callers.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQuotaExhausted is returned by Wait when the time until the next grant
// exceeds the caller's maximum acceptable wait. The current plan should be
// abandoned and resumed on a later cycle.
var ErrQuotaExhausted = errors.New("quota exhausted: wait for next grant exceeds configured maximum")

// Window names, usable with Remaining.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Clock abstracts time.Now so the scheduling policy is testable without
// real delays.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Limits holds the provider's hard call ceilings and the reserved buffer.
type Limits struct {
	PerMinute   int
	PerHour     int
	PerDay      int
	BufferRatio float64 // fraction of each limit held back, e.g. 0.1
}

// window is one sliding quota window. calls holds the grant timestamps not
// yet aged out, oldest first.
type window struct {
	name  string
	span  time.Duration
	limit int // effective limit, after the buffer is applied
	calls []time.Time
}

// prune drops timestamps older than the window span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// freeAt returns when the oldest recorded call exits the window, freeing one
// slot. Only meaningful when the window is at capacity.
func (w *window) freeAt() time.Time {
	return w.calls[0].Add(w.span)
}

// Limiter is the single shared arbiter for remote calls. Acquisition and
// timestamp recording happen in one critical section, so concurrent workers
// can never both observe headroom and jointly exceed a limit.
type Limiter struct {
	mu      sync.Mutex
	clock   Clock
	windows []*window
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock injects a clock, for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// NewLimiter creates a Limiter for the given limits. A window with a
// non-positive ceiling is treated as unlimited and omitted. The effective
// ceiling of each window is limit*(1-BufferRatio), floored, but never below
// one.
func NewLimiter(limits Limits, opts ...Option) *Limiter {
	l := &Limiter{clock: systemClock{}}

	add := func(name string, span time.Duration, hard int) {
		if hard <= 0 {
			return
		}
		eff := int(float64(hard) * (1 - limits.BufferRatio))
		if eff < 1 {
			eff = 1
		}
		l.windows = append(l.windows, &window{name: name, span: span, limit: eff})
	}
	add(WindowMinute, time.Minute, limits.PerMinute)
	add(WindowHour, time.Hour, limits.PerHour)
	add(WindowDay, 24*time.Hour, limits.PerDay)

	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire attempts to take one call slot. If every window has headroom
// the call is recorded and granted=true. Otherwise it returns the duration
// after which a retry can succeed: the time until the most constraining
// full window frees a slot.
func (l *Limiter) TryAcquire() (granted bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	var latestFree time.Time
	for _, w := range l.windows {
		w.prune(now)
		if len(w.calls) >= w.limit {
			if free := w.freeAt(); free.After(latestFree) {
				latestFree = free
			}
		}
	}

	if !latestFree.IsZero() {
		return false, latestFree.Sub(now)
	}

	for _, w := range l.windows {
		w.calls = append(w.calls, now)
	}
	return true, 0
}

// Wait blocks until a call slot is granted or the context is cancelled. If
// at any point the required wait exceeds maxWait, it returns
// ErrQuotaExhausted without sleeping it out.
func (l *Limiter) Wait(ctx context.Context, maxWait time.Duration) error {
	for {
		granted, wait := l.TryAcquire()
		if granted {
			return nil
		}
		if maxWait > 0 && wait > maxWait {
			return fmt.Errorf("%w (need %s, max %s)", ErrQuotaExhausted, wait.Round(time.Second), maxWait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining returns how many calls the named window can still grant right
// now. Unknown window names return 0.
func (l *Limiter) Remaining(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for _, w := range l.windows {
		if w.name != name {
			continue
		}
		w.prune(now)
		return w.limit - len(w.calls)
	}
	return 0
}

// Budget returns the remaining headroom of the longest-span window (the
// planning horizon: the day window when one is configured). The planner
// sizes a cycle's plan against this; the shorter windows only pace
// execution, they do not shrink the plan. With no windows configured the
// budget is effectively unlimited.
func (l *Limiter) Budget() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) == 0 {
		return int(^uint(0) >> 1)
	}

	now := l.clock.Now()
	horizon := l.windows[0]
	for _, w := range l.windows[1:] {
		if w.span > horizon.span {
			horizon = w
		}
	}
	horizon.prune(now)
	return horizon.limit - len(horizon.calls)
}
