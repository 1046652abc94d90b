package router

import (
	"net/http"
	"time"

	"github.com/chengjon/byapi-unified-client/internal/health"
	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
	"github.com/chengjon/byapi-unified-client/internal/utils"
	"github.com/chengjon/byapi-unified-client/pkg/byapi"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthStatus is the body of the health endpoint. Keys are always masked.
type HealthStatus struct {
	Status      string            `json:"status"`
	UsableKeys  int               `json:"usable_keys"`
	TotalKeys   int               `json:"total_keys"`
	Keys        []byapi.KeyHealth `json:"keys"`
	Cache       byapi.CacheStats  `json:"cache"`
	LastUpdated string            `json:"last_updated"`

	// Monitor is the last background pool check, when a monitor runs.
	Monitor *health.MonitorStats `json:"monitor,omitempty"`
}

// Health summarizes the key pool. It is unhealthy when no key is usable and
// degraded when any key is faulty or invalid.
func Health(client *byapi.Client) HealthStatus {
	keys := client.LicenseHealth(true)
	usable := client.UsableKeys()

	status := statusHealthy
	for _, k := range keys {
		if k.Status != keyhealth.StatusHealthy {
			status = statusDegraded
			break
		}
	}
	if usable == 0 {
		status = statusUnhealthy
	}

	return HealthStatus{
		Status:      status,
		UsableKeys:  usable,
		TotalKeys:   len(keys),
		Keys:        keys,
		Cache:       client.CacheStats(),
		LastUpdated: utils.NowUTC().Format(time.RFC3339),
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	body := Health(r.client)
	if r.monitor != nil {
		stats := r.monitor.Stats()
		body.Monitor = &stats
	}

	status := http.StatusOK
	if body.Status == statusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	r.writeJSON(w, req, status, body)
}
