// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"time"
)

// Clock abstracts waiting so tests do not sleep.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// SystemClock is the wall clock.
func SystemClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Policy describes how often and how patiently to retry.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Multiplier grows the delay after each failed attempt. Values <= 1 keep
	// the delay fixed.
	Multiplier float64
	MaxDelay   time.Duration
	Clock      Clock
}

// DefaultPolicy is three attempts, two seconds apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Multiplier:  1,
		Clock:       SystemClock(),
	}
}

// Attempt describes the outcome of one try, passed to the observer.
type Attempt struct {
	Number   int
	Err      error
	Duration time.Duration
	Last     bool
}

// Result summarises a Do call.
type Result struct {
	Attempts int
	Err      error
}

// Do calls op until it succeeds or MaxAttempts is reached. The delay is
// applied between attempts, never after the last one. observe, when not nil,
// is called after every attempt.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, observe func(Attempt)) Result {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock()
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := p.Delay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := clock.Now()
		err = op(ctx, attempt)
		last := err == nil || attempt == maxAttempts
		if observe != nil {
			observe(Attempt{Number: attempt, Err: err, Duration: clock.Now().Sub(start), Last: last})
		}
		if err == nil {
			return Result{Attempts: attempt}
		}
		if last {
			break
		}
		if sleepErr := clock.Sleep(ctx, delay); sleepErr != nil {
			return Result{Attempts: attempt, Err: err}
		}
		delay = p.next(delay)
	}
	return Result{Attempts: maxAttempts, Err: err}
}

func (p Policy) next(d time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return d
	}
	n := time.Duration(float64(d) * p.Multiplier)
	if p.MaxDelay > 0 && n > p.MaxDelay {
		return p.MaxDelay
	}
	return n
}
