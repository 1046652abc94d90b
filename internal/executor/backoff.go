package executor

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// jitterSpread is the half-width of the uniform jitter band around a delay.
const jitterSpread = 0.2

// BackoffDelay returns the pre-jitter wait after the given 1-indexed attempt:
// base * 2^(attempt-1), capped at maxDelay.
func BackoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}

	d := float64(base) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// ApplyJitter spreads d uniformly over [0.8d, 1.2d]. r must be in [0, 1).
func ApplyJitter(d time.Duration, r float64) time.Duration {
	factor := 1 - jitterSpread + 2*jitterSpread*r
	return time.Duration(float64(d) * factor)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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

func defaultJitter() float64 {
	return rand.Float64()
}
