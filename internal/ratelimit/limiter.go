// Package ratelimit implements a fixed-window attempt counter.
//
// Windows are wall-clock anchored at the first attempt, so a burst straddling
// a window boundary can pass up to twice the limit.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute
)

// Entry is the counter state of one identifier.
type Entry struct {
	Attempts    int
	WindowStart time.Time
}

// Store persists entries. Get reports false for unknown keys.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
}

// Stepper is implemented by stores that can apply one counting step atomically.
// The limiter prefers it over Get+Set.
type Stepper interface {
	Step(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error)
}

// Decision is the outcome of one attempt.
type Decision struct {
	Limited  bool
	Attempts int
	ResetAt  time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if left := d.ResetAt.Sub(now); left > 0 {
		return left
	}
	return 0
}

// Limiter counts attempts per identifier.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

// Option configures Limiter.
type Option func(*Limiter)

// WithLimit overrides the 5 attempts per 15 minutes default.
func WithLimit(maxAttempts int, window time.Duration) Option {
	return func(l *Limiter) {
		if maxAttempts > 0 {
			l.max = maxAttempts
		}
		if window > 0 {
			l.window = window
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a Limiter over store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		max:    DefaultMaxAttempts,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window reports the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Now reports the limiter's clock.
func (l *Limiter) Now() time.Time { return l.now() }

// IsRateLimited records one attempt for identifier and reports whether it
// exceeds the limit. The attempt that pushes the count past the limit is
// itself limited.
func (l *Limiter) IsRateLimited(ctx context.Context, identifier string) (bool, error) {
	d, err := l.Check(ctx, identifier)
	return d.Limited, err
}

// Check records one attempt and returns the full decision.
func (l *Limiter) Check(ctx context.Context, identifier string) (Decision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Decision{}, errors.New("ratelimit: identifier is required")
	}
	now := l.now()
	var (
		e   Entry
		err error
	)
	if st, ok := l.store.(Stepper); ok {
		e, err = st.Step(ctx, identifier, now, l.window)
	} else {
		e, err = step(ctx, l.store, identifier, now, l.window)
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Limited:  e.Attempts > l.max,
		Attempts: e.Attempts,
		ResetAt:  e.WindowStart.Add(l.window),
	}, nil
}

func step(ctx context.Context, s Store, key string, now time.Time, window time.Duration) (Entry, error) {
	cur, ok, err := s.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	next := advance(cur, ok, now, window)
	if err := s.Set(ctx, key, next); err != nil {
		return Entry{}, err
	}
	return next, nil
}

// advance resets the entry when absent or when more than window has passed
// since it opened, and increments it otherwise.
func advance(cur Entry, ok bool, now time.Time, window time.Duration) Entry {
	if !ok || now.Sub(cur.WindowStart) > window {
		return Entry{Attempts: 1, WindowStart: now}
	}
	cur.Attempts++
	return cur
}
