package testhelpers

import (
	"context"
	"sync"
	"time"
)

// RecordingSleeper captures backoff delays instead of sleeping.
type RecordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *RecordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// NoJitter makes the jitter factor exactly 1.
func NoJitter() float64 { return 0.5 }
