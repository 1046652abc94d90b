package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chengjon/byapi-unified-client/internal/utils"
)

// ErrDailyQuotaExceeded is returned by Acquire when a key has used up its
// daily request allowance.
var ErrDailyQuotaExceeded = errors.New("daily request quota exhausted")

// Config holds the per-key limits. Zero values disable the corresponding limit.
type Config struct {
	RPS        float64 // sustained requests per second per key
	Burst      int     // token bucket size, at least 1
	DailyLimit int     // requests per key per trading day
}

// Usage is the daily quota state of one key.
type Usage struct {
	RequestsToday int `json:"requests_today"`
	DailyLimit    int `json:"daily_limit"`
	Remaining     int `json:"remaining"` // -1 when unlimited
}

type dailyCounter struct {
	day   string
	count int
}

// KeyLimiter throttles and meters requests per license key.
//
// Throttling uses a token bucket per key. Metering counts requests per key
// per trading day (Asia/Shanghai), and refuses new ones once DailyLimit is
// reached. Counters roll over when the trading day changes.
type KeyLimiter struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
	daily    map[string]*dailyCounter
	now      func() time.Time
}

func New(cfg Config) *KeyLimiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &KeyLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		daily:    make(map[string]*dailyCounter),
		now:      utils.NowUTC,
	}
}

// getLimiter returns the token bucket for key, creating it on first use.
// Returns nil when throttling is disabled.
func (l *KeyLimiter) getLimiter(key string) *rate.Limiter {
	if l.cfg.RPS <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until key may issue another request.
// Returns error if context is cancelled while waiting.
func (l *KeyLimiter) Wait(ctx context.Context, key string) error {
	lim := l.getLimiter(key)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// counter returns the daily counter for key, rolled over to today
// (must be called with lock held).
func (l *KeyLimiter) counter(key string) *dailyCounter {
	today := utils.TradingDay(l.now())
	c, ok := l.daily[key]
	if !ok {
		c = &dailyCounter{day: today}
		l.daily[key] = c
	}
	if c.day != today {
		c.day = today
		c.count = 0
	}
	return c
}

// Acquire counts one request against key's daily quota.
func (l *KeyLimiter) Acquire(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counter(key)
	if l.cfg.DailyLimit > 0 && c.count >= l.cfg.DailyLimit {
		return ErrDailyQuotaExceeded
	}
	c.count++
	return nil
}

// Exhausted reports whether key has no daily quota left. It does not count a
// request.
func (l *KeyLimiter) Exhausted(key string) bool {
	if l.cfg.DailyLimit <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter(key).count >= l.cfg.DailyLimit
}

// Usage reports the daily quota state of key.
func (l *KeyLimiter) Usage(key string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counter(key)
	u := Usage{
		RequestsToday: c.count,
		DailyLimit:    l.cfg.DailyLimit,
		Remaining:     -1,
	}
	if l.cfg.DailyLimit > 0 {
		u.Remaining = l.cfg.DailyLimit - c.count
		if u.Remaining < 0 {
			u.Remaining = 0
		}
	}
	return u
}
