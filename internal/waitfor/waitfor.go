// Package waitfor is the single bounded polling primitive used by every
// synchronization point: page readiness, element presence, login markers,
// and deletion confirmation.
package waitfor

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
)

// DefaultInterval is used when a Condition leaves Interval unset.
const DefaultInterval = 200 * time.Millisecond

// Clock abstracts time so waits can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Condition describes one wait.
type Condition struct {
	Description string
	Timeout     time.Duration
	Interval    time.Duration
	Check       func(ctx context.Context) (bool, error)
}

// TimeoutError reports a condition that never held.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Elapsed   time.Duration
	Polls     int
	LastErr   error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (timeout %s, %d polls)",
		e.Elapsed.Round(time.Millisecond), e.Condition, e.Timeout, e.Polls)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Until polls cond with the wall clock.
func Until(ctx context.Context, cond Condition) error {
	return UntilWithClock(ctx, RealClock, cond)
}

// UntilWithClock checks cond immediately and then every Interval until it
// holds or Timeout elapses. It returns nil on the first successful check,
// without sleeping afterwards. Errors from Check count as "not yet" and are
// kept as the last error. The final sleep is clipped to the remaining budget,
// so the call never outlives Timeout by more than one check.
func UntilWithClock(ctx context.Context, clock Clock, cond Condition) error {
	if cond.Check == nil {
		return errs.New(errs.InvalidArgument, "waitfor: nil check")
	}
	if cond.Timeout <= 0 {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("waitfor %s: timeout must be positive", cond.Description))
	}
	interval := cond.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := clock.Now()
	var lastErr error
	polls := 0
	for {
		polls++
		ok, err := cond.Check(ctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		elapsed := clock.Now().Sub(start)
		if elapsed >= cond.Timeout {
			obs.WaitTimeouts.Inc()
			return errs.Wrap(errs.Timeout, "wait for "+cond.Description, &TimeoutError{
				Condition: cond.Description,
				Timeout:   cond.Timeout,
				Elapsed:   elapsed,
				Polls:     polls,
				LastErr:   lastErr,
			})
		}

		sleep := interval
		if remaining := cond.Timeout - elapsed; remaining < sleep {
			sleep = remaining
		}
		if err := clock.Sleep(ctx, sleep); err != nil {
			return fmt.Errorf("wait for %s: %w", cond.Description, err)
		}
	}
}
