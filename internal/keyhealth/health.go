// Package keyhealth tracks the health of a single license key.
//
// A key starts healthy. Consecutive failures demote it to faulty, cumulative
// failures demote it to invalid. Success resets the consecutive counter and
// restores a faulty key, but an invalid key stays invalid for the rest of the
// process lifetime.
package keyhealth

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chengjon/byapi-unified-client/internal/security"
	"github.com/chengjon/byapi-unified-client/internal/utils"
)

type Status string

const (
	StatusHealthy Status = "healthy"
	StatusFaulty  Status = "faulty"
	StatusInvalid Status = "invalid"

	// StatusUnknown is reported for keys that are not part of a pool.
	StatusUnknown Status = "unknown"
)

const (
	DefaultConsecutiveFailureThreshold = 5
	DefaultTotalFailureThreshold       = 10
)

// Thresholds are the two independent demotion limits.
type Thresholds struct {
	ConsecutiveFailures int
	TotalFailures       int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveFailures: DefaultConsecutiveFailureThreshold,
		TotalFailures:       DefaultTotalFailureThreshold,
	}
}

// normalized replaces non-positive limits with their defaults.
func (t Thresholds) normalized() Thresholds {
	if t.ConsecutiveFailures <= 0 {
		t.ConsecutiveFailures = DefaultConsecutiveFailureThreshold
	}
	if t.TotalFailures <= 0 {
		t.TotalFailures = DefaultTotalFailureThreshold
	}
	return t
}

// Record is an immutable copy of a key's health.
type Record struct {
	Key                 string     `json:"key"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	Status              Status     `json:"status"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastFailureReason   string     `json:"last_failure_reason,omitempty"`
}

// LicenseKeyHealth is the mutable health record of one license key.
// Safe for concurrent use.
type LicenseKeyHealth struct {
	mu                  sync.RWMutex
	key                 string
	thresholds          Thresholds
	consecutiveFailures int
	totalFailures       int
	status              Status
	lastFailureAt       time.Time
	lastFailureReason   string
	logger              *slog.Logger
}

// New creates a healthy record for key.
func New(key string, thresholds Thresholds, logger *slog.Logger) *LicenseKeyHealth {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LicenseKeyHealth{
		key:        key,
		thresholds: thresholds.normalized(),
		status:     StatusHealthy,
		logger:     logger,
	}
}

// SetLogger replaces the logger used for status transitions. A nil logger
// discards output.
func (h *LicenseKeyHealth) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = logger
}

func (h *LicenseKeyHealth) Key() string {
	return h.key
}

// MaskedKey returns the key in its loggable form.
func (h *LicenseKeyHealth) MaskedKey() string {
	return security.MaskLicenseKey(h.key)
}

// RecordFailure counts a failure and returns the resulting status.
func (h *LicenseKeyHealth) RecordFailure(reason string) Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.totalFailures++
	h.lastFailureAt = utils.NowUTC()
	h.lastFailureReason = reason

	previous := h.status
	switch {
	case h.totalFailures >= h.thresholds.TotalFailures:
		h.status = StatusInvalid
	case h.consecutiveFailures >= h.thresholds.ConsecutiveFailures:
		h.status = StatusFaulty
	}

	if h.status != previous {
		switch h.status {
		case StatusInvalid:
			h.logger.Warn("License key permanently disabled",
				"key", h.MaskedKey(),
				"total_failures", h.totalFailures,
				"reason", reason,
			)
		case StatusFaulty:
			h.logger.Warn("License key marked faulty",
				"key", h.MaskedKey(),
				"consecutive_failures", h.consecutiveFailures,
				"reason", reason,
			)
		}
	}

	return h.status
}

// RecordSuccess resets the consecutive counter. No-op for invalid keys.
func (h *LicenseKeyHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status == StatusInvalid {
		return
	}

	if h.consecutiveFailures > 0 {
		h.logger.Debug("License key recovered",
			"key", h.MaskedKey(),
			"consecutive_failures", h.consecutiveFailures,
			"previous_status", h.status,
		)
	}
	h.consecutiveFailures = 0
	h.status = StatusHealthy
}

func (h *LicenseKeyHealth) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *LicenseKeyHealth) ConsecutiveFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveFailures
}

func (h *LicenseKeyHealth) TotalFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalFailures
}

// IsUsable reports whether the key is healthy or faulty.
func (h *LicenseKeyHealth) IsUsable() bool {
	s := h.Status()
	return s == StatusHealthy || s == StatusFaulty
}

func (h *LicenseKeyHealth) IsPermanentlyDisabled() bool {
	return h.Status() == StatusInvalid
}

// Snapshot copies the current state. With maskKey set the raw key is
// replaced by its masked form.
func (h *LicenseKeyHealth) Snapshot(maskKey bool) Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec := Record{
		Key:                 h.key,
		ConsecutiveFailures: h.consecutiveFailures,
		TotalFailures:       h.totalFailures,
		Status:              h.status,
		LastFailureReason:   h.lastFailureReason,
	}
	if maskKey {
		rec.Key = security.MaskLicenseKey(h.key)
	}
	if !h.lastFailureAt.IsZero() {
		ts := h.lastFailureAt
		rec.LastFailureAt = &ts
	}
	return rec
}
