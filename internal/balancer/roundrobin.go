package balancer

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
	"github.com/chengjon/byapi-unified-client/internal/monitoring"
	"github.com/chengjon/byapi-unified-client/internal/security"
)

// tierOrder is the selection preference. Invalid keys are a last resort.
var tierOrder = []keyhealth.Status{
	keyhealth.StatusHealthy,
	keyhealth.StatusFaulty,
	keyhealth.StatusInvalid,
}

// ErrNoEligibleKey is returned by NextKeyExcluding when every key is skipped.
var ErrNoEligibleKey = errors.New("no eligible license key")

// KeyRotationManager owns the license key pool and decides which key the
// next outbound request uses.
type KeyRotationManager struct {
	mu       sync.Mutex
	keys     []*keyhealth.LicenseKeyHealth // configuration order
	keyIndex map[string]int                // O(1) lookup by raw key
	cursors  map[keyhealth.Status]int      // one round-robin cursor per tier
	metrics  *monitoring.Metrics
	logger   *slog.Logger
}

// ParseKeys splits a comma separated credential list. Entries are trimmed,
// empty entries dropped and duplicates collapsed, keeping the position of the
// first occurrence.
func ParseKeys(raw string) []string {
	return normalizeKeys(strings.Split(raw, ","))
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// New builds a manager over keys. It fails with a configuration error when no
// usable key remains after normalization.
func New(keys []string, thresholds keyhealth.Thresholds, logger *slog.Logger) (*KeyRotationManager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	normalized := normalizeKeys(keys)
	if len(normalized) == 0 {
		return nil, apierror.Configuration("no license keys configured")
	}

	m := &KeyRotationManager{
		keys:     make([]*keyhealth.LicenseKeyHealth, 0, len(normalized)),
		keyIndex: make(map[string]int, len(normalized)),
		cursors:  make(map[keyhealth.Status]int, len(tierOrder)),
		logger:   logger,
	}
	for i, k := range normalized {
		m.keys = append(m.keys, keyhealth.New(k, thresholds, logger))
		m.keyIndex[k] = i
	}

	if dropped := len(keys) - len(normalized); dropped > 0 {
		logger.Debug("Ignored empty or duplicate license keys", "dropped", dropped)
	}
	logger.Info("Key rotation manager initialized", "keys", len(m.keys))

	return m, nil
}

// SetLogger replaces the logger of the manager and of every key record.
func (m *KeyRotationManager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
	for _, h := range m.keys {
		h.SetLogger(logger)
	}
}

// SetMetrics attaches a metrics sink and publishes the initial key states.
func (m *KeyRotationManager) SetMetrics(metrics *monitoring.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
	for _, h := range m.keys {
		metrics.UpdateKeyStatus(h.MaskedKey(), string(h.Status()))
	}
}

// Len returns the number of distinct keys in the pool.
func (m *KeyRotationManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Keys returns the raw keys in configuration order.
func (m *KeyRotationManager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.keys))
	for i, h := range m.keys {
		out[i] = h.Key()
	}
	return out
}

// tier returns the keys currently in the given status, in configuration
// order, leaving out any key skip reports (must be called with lock held).
func (m *KeyRotationManager) tier(status keyhealth.Status, skip func(string) bool) []*keyhealth.LicenseKeyHealth {
	var members []*keyhealth.LicenseKeyHealth
	for _, h := range m.keys {
		if h.Status() != status {
			continue
		}
		if skip != nil && skip(h.Key()) {
			continue
		}
		members = append(members, h)
	}
	return members
}

// NextKey returns the key for the next request.
//
// Healthy keys are preferred, then faulty ones. When every key is invalid one
// is still returned so the upstream can give an authoritative answer.
func (m *KeyRotationManager) NextKey() (string, error) {
	return m.NextKeyExcluding(nil)
}

// NextKeyExcluding is NextKey restricted to keys for which skip returns
// false. Tier preference and cursors are the same as NextKey. It returns
// ErrNoEligibleKey when skip rejects every key.
func (m *KeyRotationManager) NextKeyExcluding(skip func(key string) bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.keys) == 0 {
		return "", apierror.Configuration("no license keys configured")
	}

	for _, status := range tierOrder {
		members := m.tier(status, skip)
		if len(members) == 0 {
			continue
		}

		idx := m.cursors[status] % len(members)
		m.cursors[status] = (idx + 1) % len(members)
		selected := members[idx]

		if status == keyhealth.StatusInvalid {
			m.logger.Warn("All license keys are invalid, using one as last resort",
				"key", selected.MaskedKey(),
				"total_keys", len(m.keys),
			)
		}
		m.metrics.RecordKeySelection(string(status))

		return selected.Key(), nil
	}

	if skip != nil {
		return "", ErrNoEligibleKey
	}
	// Every key has exactly one of the three statuses.
	return "", apierror.Configuration("no license keys available")
}

// MarkKeyFailure records a failure against key and returns its new status.
// Unknown keys are logged and ignored.
func (m *KeyRotationManager) MarkKeyFailure(key, reason string) keyhealth.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.keyIndex[key]
	if !ok {
		m.logger.Warn("Failure reported for unknown license key", "key", security.MaskLicenseKey(key))
		return keyhealth.StatusUnknown
	}

	h := m.keys[idx]
	previous := h.Status()
	status := h.RecordFailure(reason)

	m.metrics.RecordKeyFailure(h.MaskedKey())
	if status != previous {
		m.metrics.RecordKeyTransition(h.MaskedKey(), string(status))
	}

	if status == keyhealth.StatusFaulty {
		m.advancePast(h)
		m.logger.Warn("Switching away from faulty license key", "key", h.MaskedKey())
	}

	return status
}

// advancePast moves the faulty-tier cursor beyond h so the next selection
// from that tier picks a different key. The key has already left the healthy
// tier, so the healthy cursor needs no adjustment (must be called with lock
// held).
func (m *KeyRotationManager) advancePast(h *keyhealth.LicenseKeyHealth) {
	members := m.tier(keyhealth.StatusFaulty, nil)
	for i, member := range members {
		if member == h {
			m.cursors[keyhealth.StatusFaulty] = (i + 1) % len(members)
			return
		}
	}
}

// MarkKeySuccess records a success for key. Unknown keys are ignored.
func (m *KeyRotationManager) MarkKeySuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.keyIndex[key]
	if !ok {
		return
	}

	h := m.keys[idx]
	previous := h.Status()
	h.RecordSuccess()
	if status := h.Status(); status != previous {
		m.metrics.RecordKeyTransition(h.MaskedKey(), string(status))
	}
}

// HealthSnapshot returns a copy of every key's health in configuration
// order. With maskKeys set no raw key material is included.
func (m *KeyRotationManager) HealthSnapshot(maskKeys bool) []keyhealth.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]keyhealth.Record, len(m.keys))
	for i, h := range m.keys {
		records[i] = h.Snapshot(maskKeys)
	}
	return records
}

// UsableCount returns how many keys are healthy or faulty.
func (m *KeyRotationManager) UsableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, h := range m.keys {
		if h.IsUsable() {
			count++
		}
	}
	return count
}
