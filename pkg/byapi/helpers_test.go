package byapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chengjon/byapi-unified-client/internal/config"
	"github.com/chengjon/byapi-unified-client/internal/testhelpers"
)

const testKey = "test-licence-key-0001"

func newTestConfig(baseURL string, keys ...string) *config.Config {
	if len(keys) == 0 {
		keys = []string{testKey}
	}
	cfg := config.Default()
	cfg.Licence = strings.Join(keys, ",")
	cfg.BaseURL = baseURL
	cfg.HTTPSBaseURL = baseURL
	cfg.Timeout = 2
	cfg.MaxRetries = 3
	cfg.CacheSize = 16
	cfg.CacheTTL = 60
	return cfg
}

func newTestClientWithConfig(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	c, err := New(cfg, WithLogger(testhelpers.NewTestLogger()))
	require.NoError(t, err)
	c.exec.SetSleeper(new(testhelpers.RecordingSleeper).Sleep)
	c.exec.SetJitterSource(testhelpers.NoJitter)
	return c
}

func newTestClient(t *testing.T, baseURL string, keys ...string) *Client {
	t.Helper()
	return newTestClientWithConfig(t, newTestConfig(baseURL, keys...))
}

func routes(pairs ...interface{}) map[string]testhelpers.ScriptedResponse {
	out := make(map[string]testhelpers.ScriptedResponse, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i].(string)] = pairs[i+1].(testhelpers.ScriptedResponse)
	}
	return out
}
