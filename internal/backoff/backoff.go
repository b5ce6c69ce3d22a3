// Package backoff holds the exponential retry delay shared by the fetch
// client, the native positioning reader and the presence pipeline.
package backoff

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for long-running loops: start at 200ms, double each retry, cap at 5s.
const (
	DefaultInitial = 200 * time.Millisecond
	DefaultMax     = 5 * time.Second
)

// Next doubles current, capped at maxDelay. A non-positive maxDelay leaves
// the delay uncapped.
func Next(current, maxDelay time.Duration) time.Duration {
	next := current * 2
	if maxDelay > 0 && next > maxDelay {
		return maxDelay
	}
	return next
}

// Sleep waits d on clock. It returns false if ctx ends first.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
