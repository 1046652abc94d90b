package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chengjon/byapi-unified-client/internal/config"
	"github.com/chengjon/byapi-unified-client/internal/health"
	"github.com/chengjon/byapi-unified-client/internal/testhelpers"
	"github.com/chengjon/byapi-unified-client/pkg/byapi"
)

const testKey = "router-test-key-0001"

func createTestClient(t *testing.T, baseURL string, tweak func(*config.Config)) *byapi.Client {
	t.Helper()
	cfg := config.Default()
	cfg.Licence = testKey
	cfg.BaseURL = baseURL
	cfg.HTTPSBaseURL = baseURL
	cfg.MaxRetries = 1
	if tweak != nil {
		tweak(cfg)
	}
	c, err := byapi.New(cfg, byapi.WithLogger(testhelpers.NewTestLogger()))
	require.NoError(t, err)
	return c
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth_Healthy(t *testing.T) {
	c := createTestClient(t, "http://127.0.0.1:1", nil)
	r := New(c, "/health", testhelpers.NewTestLogger())

	rec := get(t, r, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), testKey)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusHealthy, body.Status)
	assert.Equal(t, 1, body.UsableKeys)
	assert.Equal(t, 1, body.TotalKeys)
	require.Len(t, body.Keys, 1)
	assert.Equal(t, "router-t...", body.Keys[0].Key)
	assert.NotEmpty(t, body.LastUpdated)
}

func TestHealth_CustomPath(t *testing.T) {
	c := createTestClient(t, "http://127.0.0.1:1", nil)
	r := New(c, "/status", nil)

	assert.Equal(t, http.StatusOK, get(t, r, "/status").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/health").Code)
}

func TestHealth_UnhealthyWhenNoUsableKey(t *testing.T) {
	up := testhelpers.NewScriptedUpstream(t, testhelpers.Status(http.StatusUnauthorized))
	c := createTestClient(t, up.URL, func(cfg *config.Config) {
		cfg.ConsecutiveFailures = 1
		cfg.TotalFailures = 1
	})
	r := New(c, "/health", nil)

	// One rejected request invalidates the only key.
	assert.Equal(t, http.StatusBadGateway, get(t, r, "/v1/quote/000001").Code)

	rec := get(t, r, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusUnhealthy, body.Status)
	assert.Equal(t, 0, body.UsableKeys)
}

func TestHealth_DegradedWhenAKeyIsFaulty(t *testing.T) {
	up := testhelpers.NewScriptedUpstream(t, testhelpers.Status(http.StatusInternalServerError))
	c := createTestClient(t, up.URL, func(cfg *config.Config) {
		cfg.Licence = testKey + ",second-key-00002"
		cfg.ConsecutiveFailures = 1
	})
	r := New(c, "/health", nil)

	get(t, r, "/v1/realtime/000001")

	var body HealthStatus
	rec := get(t, r, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusDegraded, body.Status)
	assert.Equal(t, 2, body.UsableKeys)
}

func TestHealth_IncludesMonitorStats(t *testing.T) {
	c := createTestClient(t, "http://127.0.0.1:1", func(cfg *config.Config) {
		cfg.Licence = testKey + ",second-key-00002"
	})
	monitor := health.NewMonitor(&health.MonitorConfig{Logger: testhelpers.NewTestLogger()}, c)
	monitor.Check()

	r := New(c, "/health", nil)
	r.SetMonitor(monitor)

	var body HealthStatus
	rec := get(t, r, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Monitor)
	assert.Equal(t, 2, body.Monitor.TotalKeys)
	assert.Equal(t, 2, body.Monitor.Healthy)
	assert.True(t, body.Monitor.IsHealthy)
	assert.False(t, body.Monitor.LastCheckTime.IsZero())
}

func TestHealth_OmitsMonitorWhenNotSet(t *testing.T) {
	c := createTestClient(t, "http://127.0.0.1:1", nil)

	rec := get(t, New(c, "/health", nil), "/health")

	assert.NotContains(t, rec.Body.String(), `"monitor"`)
}

func TestQuote(t *testing.T) {
	up := testhelpers.NewScriptedUpstream(t,
		testhelpers.JSON(`[{"t":"2025-03-03","o":10,"h":11,"l":9,"c":10.5,"v":100,"a":1050}]`))
	c := createTestClient(t, up.URL, nil)
	r := New(c, "", nil)

	rec := get(t, r, "/v1/quote/600519")

	assert.Equal(t, http.StatusOK, rec.Code)
	var q byapi.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "600519", q.Code)
	assert.Equal(t, 10.5, q.Close)
}

func TestLookupErrors(t *testing.T) {
	up := testhelpers.NewScriptedUpstream(t, testhelpers.JSON(`[]`))
	c := createTestClient(t, up.URL, nil)
	r := New(c, "", nil)

	tests := []struct {
		name string
		path string
		want int
		kind string
	}{
		{"invalid_code", "/v1/quote/12ab", http.StatusBadRequest, ""},
		{"not_found", "/v1/profile/000001", http.StatusNotFound, "not_found_error"},
		{"unknown_route", "/v1/unknown/000001", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, r, tt.path)
			assert.Equal(t, tt.want, rec.Code)
			if tt.kind != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.kind, body["kind"])
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(byapi.ErrInvalidDate))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(byapi.ErrRateLimit))
	assert.Equal(t, http.StatusBadGateway, statusFor(byapi.ErrNetwork))
	assert.Equal(t, http.StatusInternalServerError, statusFor(byapi.ErrConfiguration))
}
