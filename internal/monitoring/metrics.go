package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_requests_total",
			Help: "Total number of logical API calls by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "byapi_request_duration_seconds",
			Help:    "Logical API call duration in seconds, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_attempts_total",
			Help: "Total number of HTTP attempts by classification",
		},
		[]string{"endpoint", "result"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_retries_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)

	KeyStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "byapi_license_key_status",
			Help: "License key health (0 = healthy, 1 = faulty, 2 = invalid)",
		},
		[]string{"key"},
	)

	KeyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_license_key_failures_total",
			Help: "Total number of failures recorded per license key",
		},
		[]string{"key"},
	)

	KeyStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_license_key_status_transitions_total",
			Help: "Total number of license key status changes",
		},
		[]string{"key", "status"},
	)

	KeySelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_license_key_selections_total",
			Help: "Total number of key selections by preference tier",
		},
		[]string{"tier"},
	)

	DailyQuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_daily_quota_rejections_total",
			Help: "Total number of times a key refused a request because its daily quota was exhausted",
		},
		[]string{"key"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byapi_cache_requests_total",
			Help: "Reference data cache lookups",
		},
		[]string{"result"},
	)
)

// Metrics gates metric updates behind a single switch so a disabled client
// never touches the registry. A nil *Metrics is valid and disabled.
type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) RecordRequest(endpoint, outcome string, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordAttempt(endpoint, result string) {
	if !m.isEnabled() {
		return
	}
	AttemptsTotal.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) RecordRetry(reason string) {
	if !m.isEnabled() {
		return
	}
	RetriesTotal.WithLabelValues(reason).Inc()
}

// statusValue maps a key status name to its gauge value.
func statusValue(status string) float64 {
	switch status {
	case "faulty":
		return 1
	case "invalid":
		return 2
	default:
		return 0
	}
}

// UpdateKeyStatus sets the status gauge. maskedKey must already be masked.
func (m *Metrics) UpdateKeyStatus(maskedKey, status string) {
	if !m.isEnabled() {
		return
	}
	KeyStatus.WithLabelValues(maskedKey).Set(statusValue(status))
}

func (m *Metrics) RecordKeyFailure(maskedKey string) {
	if !m.isEnabled() {
		return
	}
	KeyFailuresTotal.WithLabelValues(maskedKey).Inc()
}

func (m *Metrics) RecordKeyTransition(maskedKey, status string) {
	if !m.isEnabled() {
		return
	}
	KeyStatusTransitions.WithLabelValues(maskedKey, status).Inc()
	KeyStatus.WithLabelValues(maskedKey).Set(statusValue(status))
}

func (m *Metrics) RecordKeySelection(tier string) {
	if !m.isEnabled() {
		return
	}
	KeySelections.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordQuotaRejection(maskedKey string) {
	if !m.isEnabled() {
		return
	}
	DailyQuotaRejections.WithLabelValues(maskedKey).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if !m.isEnabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(result).Inc()
}
