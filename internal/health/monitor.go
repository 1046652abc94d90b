// Package health watches the license key pool in the background and reports
// when it runs out of usable keys.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
)

// Source provides key health snapshots.
// *balancer.KeyRotationManager and *byapi.Client satisfy it.
type Source interface {
	HealthSnapshot(maskKeys bool) []keyhealth.Record
}

// MonitorConfig contains configuration for the key pool monitor.
type MonitorConfig struct {
	// Interval between checks
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// MonitorStats is the result of the last check.
type MonitorStats struct {
	LastCheckTime time.Time `json:"last_check_time"`
	TotalKeys     int       `json:"total_keys"`
	Healthy       int       `json:"healthy"`
	Faulty        int       `json:"faulty"`
	Invalid       int       `json:"invalid"`
	IsHealthy     bool      `json:"is_healthy"`
}

// Monitor periodically summarizes the pool and logs transitions between
// "some key usable" and "no key usable".
type Monitor struct {
	config *MonitorConfig
	source Source
	now    func() time.Time

	mu    sync.RWMutex
	stats MonitorStats
}

func NewMonitor(cfg *MonitorConfig, source Source) *Monitor {
	if cfg == nil {
		cfg = &MonitorConfig{}
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		config: cfg,
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
		stats:  MonitorStats{IsHealthy: true},
	}
}

// Start runs a check immediately and then every CheckInterval.
// Blocks until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.config.Logger.Info("Key pool monitor started", "check_interval", m.config.CheckInterval)
	m.Check()

	for {
		select {
		case <-ctx.Done():
			m.config.Logger.Info("Key pool monitor stopped")
			return

		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one snapshot and updates the stats.
func (m *Monitor) Check() MonitorStats {
	stats := MonitorStats{LastCheckTime: m.now()}
	for _, rec := range m.source.HealthSnapshot(true) {
		stats.TotalKeys++
		switch rec.Status {
		case keyhealth.StatusHealthy:
			stats.Healthy++
		case keyhealth.StatusFaulty:
			stats.Faulty++
		case keyhealth.StatusInvalid:
			stats.Invalid++
		}
	}
	stats.IsHealthy = stats.Healthy+stats.Faulty > 0

	m.mu.Lock()
	wasHealthy := m.stats.IsHealthy
	m.stats = stats
	m.mu.Unlock()

	switch {
	case wasHealthy && !stats.IsHealthy:
		m.config.Logger.Error("No usable license keys left (state: healthy -> unhealthy)",
			"total_keys", stats.TotalKeys,
			"invalid", stats.Invalid,
			"impact", "requests fall back to invalid keys and will likely be rejected",
		)
	case stats.Faulty > 0:
		m.config.Logger.Debug("Key pool degraded",
			"healthy", stats.Healthy,
			"faulty", stats.Faulty,
			"invalid", stats.Invalid,
		)
	}

	return stats
}

// Stats returns the result of the last check.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
