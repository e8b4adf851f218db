// Package util provides small helpers shared across the controller packages.
package util

import (
	"context"
	"time"
)

// Sleep blocks for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the context ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll calls cond every interval until it returns true, the timeout elapses
// or ctx is done. It reports whether cond was satisfied.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func() bool) (bool, error) {
	if cond() {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := Sleep(ctx, interval); err != nil {
			return false, err
		}
		if cond() {
			return true, nil
		}
	}
	return false, nil
}

// BoolFromFloat treats any non-zero telemetry value as true.
func BoolFromFloat(v float64) bool {
	return v != 0
}
