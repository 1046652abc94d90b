package executor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/balancer"
	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
	"github.com/chengjon/byapi-unified-client/internal/monitoring"
	"github.com/chengjon/byapi-unified-client/internal/ratelimit"
	"github.com/chengjon/byapi-unified-client/internal/testhelpers"
)

const testKey = "LICENSE-KEY-0001"

type fixture struct {
	exec     *Executor
	pool     *balancer.KeyRotationManager
	upstream *testhelpers.ScriptedUpstream
	sleeper  *testhelpers.RecordingSleeper
}

func newFixture(t *testing.T, cfg Config, script ...testhelpers.ScriptedResponse) *fixture {
	t.Helper()

	upstream := testhelpers.NewScriptedUpstream(t, script...)
	pool, err := balancer.New([]string{testKey}, keyhealth.DefaultThresholds(), testhelpers.NewTestLogger())
	require.NoError(t, err)

	cfg.BaseURL = upstream.URL
	cfg.SecureBaseURL = upstream.URL
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}

	sleeper := &testhelpers.RecordingSleeper{}
	exec := New(cfg, pool, nil, testhelpers.NewTestLogger())
	exec.SetSleeper(sleeper.Sleep)
	exec.SetJitterSource(testhelpers.NoJitter)

	return &fixture{exec: exec, pool: pool, upstream: upstream, sleeper: sleeper}
}

func (f *fixture) health(t *testing.T) keyhealth.Record {
	t.Helper()
	snap := f.pool.HealthSnapshot(false)
	require.Len(t, snap, 1)
	return snap[0]
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.JSON(`[{"dm":"000001","mc":"平安银行"}]`))

	res, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	require.NoError(t, err)
	assert.JSONEq(t, `[{"dm":"000001","mc":"平安银行"}]`, string(res.Payload))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "LICENSE-...", res.MaskedKey)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "hslt/list", res.Endpoint)
	assert.NotEmpty(t, res.RequestID)
	assert.False(t, res.Timestamp.IsZero())
	assert.GreaterOrEqual(t, res.ElapsedMs(), 0.0)

	assert.Equal(t, []string{"/hslt/list/" + testKey}, f.upstream.Paths())
	assert.Empty(t, f.sleeper.Delays())
}

func TestExecute_QueryParams(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.JSON(`[]`))

	_, err := f.exec.Execute(context.Background(), "hsstock/history/000001.SZ/d/n",
		map[string]string{"st": "20240101", "et": "20240131"}, true)

	require.NoError(t, err)
	req := f.upstream.Request(0)
	assert.Equal(t, "/hsstock/history/000001.SZ/d/n/"+testKey, req.URL.Path)
	assert.Equal(t, "20240101", req.URL.Query().Get("st"))
	assert.Equal(t, "20240131", req.URL.Query().Get("et"))
}

func TestExecute_SecureUsesSecureBaseURL(t *testing.T) {
	plain := testhelpers.NewScriptedUpstream(t, testhelpers.JSON(`{}`))
	secure := testhelpers.NewScriptedUpstream(t, testhelpers.JSON(`{}`))

	pool, err := balancer.New([]string{testKey}, keyhealth.DefaultThresholds(), nil)
	require.NoError(t, err)
	exec := New(Config{BaseURL: plain.URL, SecureBaseURL: secure.URL}, pool, nil, nil)

	_, err = exec.Execute(context.Background(), "hsstock/latest/000001.SZ/d/n", nil, true)
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)

	assert.Equal(t, 1, plain.Hits())
	assert.Equal(t, 1, secure.Hits())
}

func TestExecute_ServerErrorsThenSuccess(t *testing.T) {
	f := newFixture(t, Config{},
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.JSON(`{"close": 10.5}`),
	)

	res, err := f.exec.Execute(context.Background(), "hsrl/ssjy/000001", nil, false)

	require.NoError(t, err)
	assert.JSONEq(t, `{"close": 10.5}`, string(res.Payload))
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, f.upstream.Hits())

	delays := f.sleeper.Delays()
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}

	rec := f.health(t)
	assert.Equal(t, 3, rec.TotalFailures)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Equal(t, keyhealth.StatusHealthy, rec.Status)
	require.NotNil(t, rec.LastFailureAt)
	assert.Contains(t, rec.LastFailureReason, "503")
}

func TestExecute_DelaysAreCapped(t *testing.T) {
	f := newFixture(t, Config{
		MaxRetries:     6,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  300 * time.Millisecond,
	}, testhelpers.Status(http.StatusBadGateway))

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, f.sleeper.Delays())
}

func TestExecute_ExhaustedServerErrorsIsNetworkError(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 3}, testhelpers.Status(http.StatusInternalServerError))

	res, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrNetwork))
	assert.Equal(t, apierror.KindNetwork, apierror.KindOf(err))

	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	assert.Equal(t, 3, f.upstream.Hits())
	assert.Len(t, f.sleeper.Delays(), 2)
	assert.Equal(t, 3, f.health(t).TotalFailures)
}

func TestExecute_RateLimitNotRecordedByDefault(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 4}, testhelpers.Status(http.StatusTooManyRequests))

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrRateLimit))
	assert.Equal(t, 4, f.upstream.Hits())
	assert.Len(t, f.sleeper.Delays(), 3)

	rec := f.health(t)
	assert.Equal(t, 0, rec.TotalFailures)
	assert.Equal(t, keyhealth.StatusHealthy, rec.Status)
}

func TestExecute_RateLimitCountsAsFailureWhenConfigured(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 2, RateLimitCountsAsFailure: true}, testhelpers.Status(http.StatusTooManyRequests))

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	assert.True(t, errors.Is(err, apierror.ErrRateLimit))
	assert.Equal(t, 2, f.health(t).TotalFailures)
}

func TestExecute_RateLimitThenServerErrorIsNetworkError(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 2},
		testhelpers.Status(http.StatusTooManyRequests),
		testhelpers.Status(http.StatusServiceUnavailable),
	)

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	assert.True(t, errors.Is(err, apierror.ErrNetwork))
	assert.Equal(t, 1, f.health(t).TotalFailures)
}

func TestExecute_AuthenticationIsTerminal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			f := newFixture(t, Config{}, testhelpers.Status(status), testhelpers.JSON(`{}`))

			_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

			require.Error(t, err)
			assert.True(t, errors.Is(err, apierror.ErrAuthentication))
			assert.Equal(t, 1, f.upstream.Hits())
			assert.Empty(t, f.sleeper.Delays())
			assert.Equal(t, 1, f.health(t).TotalFailures)
			assert.NotContains(t, err.Error(), testKey)
		})
	}
}

func TestExecute_ClientErrorIsDataError(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.ScriptedResponse{Status: http.StatusNotFound, Body: "no such endpoint"})

	_, err := f.exec.Execute(context.Background(), "hscp/unknown", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrData))
	assert.Contains(t, err.Error(), "no such endpoint")
	assert.Equal(t, 1, f.upstream.Hits())
	assert.Equal(t, 1, f.health(t).TotalFailures)
}

func TestExecute_MalformedJSONIsDataErrorWithoutKeyFailure(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.ScriptedResponse{Status: http.StatusOK, Body: "<html>oops"})

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrData))
	assert.Equal(t, 1, f.upstream.Hits())

	rec := f.health(t)
	assert.Equal(t, 0, rec.TotalFailures)
	assert.Equal(t, keyhealth.StatusHealthy, rec.Status)
}

func TestExecute_TimeoutIsRetriedAsNetworkFailure(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 2, Timeout: 20 * time.Millisecond},
		testhelpers.ScriptedResponse{Status: http.StatusOK, Body: `{}`, Delay: 500 * time.Millisecond},
		testhelpers.JSON(`{"ok":true}`),
	)

	res, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, f.health(t).TotalFailures)
	assert.Contains(t, f.health(t).LastFailureReason, "network")
	assert.NotContains(t, f.health(t).LastFailureReason, testKey)
}

func TestExecute_ConnectionRefused(t *testing.T) {
	pool, err := balancer.New([]string{testKey}, keyhealth.DefaultThresholds(), nil)
	require.NoError(t, err)

	upstream := testhelpers.NewScriptedUpstream(t)
	addr := upstream.URL
	upstream.Close()

	sleeper := &testhelpers.RecordingSleeper{}
	exec := New(Config{BaseURL: addr, MaxRetries: 3}, pool, nil, nil)
	exec.SetSleeper(sleeper.Sleep)

	_, err = exec.Execute(context.Background(), "hslt/list", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrNetwork))
	assert.NotContains(t, err.Error(), testKey)
	assert.Len(t, sleeper.Delays(), 2)
	assert.Equal(t, 3, pool.HealthSnapshot(false)[0].TotalFailures)
}

func TestExecute_CancelledContextDoesNotMarkKey(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.ScriptedResponse{Status: http.StatusOK, Body: `{}`, Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.exec.Execute(ctx, "hslt/list", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrNetwork))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, f.health(t).TotalFailures)
}

func TestExecute_SameKeyForEveryAttempt(t *testing.T) {
	upstream := testhelpers.NewScriptedUpstream(t,
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.JSON(`{}`),
		testhelpers.JSON(`{}`),
	)
	pool, err := balancer.New([]string{"KEY-AAAA-1111", "KEY-BBBB-2222"}, keyhealth.DefaultThresholds(), nil)
	require.NoError(t, err)

	exec := New(Config{BaseURL: upstream.URL}, pool, nil, nil)
	exec.SetSleeper((&testhelpers.RecordingSleeper{}).Sleep)

	_, err = exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)

	paths := upstream.Paths()
	require.Len(t, paths, 3)
	assert.True(t, strings.HasSuffix(paths[0], "KEY-AAAA-1111"))
	assert.True(t, strings.HasSuffix(paths[1], "KEY-AAAA-1111"))
	// Next logical call rotates.
	assert.True(t, strings.HasSuffix(paths[2], "KEY-BBBB-2222"))
}

func TestExecute_FaultyKeyIsAvoidedOnNextCall(t *testing.T) {
	upstream := testhelpers.NewScriptedUpstream(t, testhelpers.Status(http.StatusServiceUnavailable))
	pool, err := balancer.New([]string{"KEY-AAAA-1111", "KEY-BBBB-2222"}, keyhealth.DefaultThresholds(), nil)
	require.NoError(t, err)

	exec := New(Config{BaseURL: upstream.URL, MaxRetries: 5}, pool, nil, nil)
	exec.SetSleeper((&testhelpers.RecordingSleeper{}).Sleep)

	_, err = exec.Execute(context.Background(), "hslt/list", nil, false)
	require.Error(t, err)

	snap := pool.HealthSnapshot(false)
	assert.Equal(t, keyhealth.StatusFaulty, snap[0].Status)

	next, err := pool.NextKey()
	require.NoError(t, err)
	assert.Equal(t, "KEY-BBBB-2222", next)
}

func TestExecute_DailyQuotaFailsFast(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.JSON(`{}`))
	f.exec.SetLimiter(ratelimit.New(ratelimit.Config{DailyLimit: 1}))

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)

	_, err = f.exec.Execute(context.Background(), "hslt/list", nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrRateLimit))
	assert.True(t, errors.Is(err, ratelimit.ErrDailyQuotaExceeded))

	assert.Equal(t, 1, f.upstream.Hits())
	assert.Equal(t, 0, f.health(t).TotalFailures)
}

func TestExecute_DailyQuotaMovesToKeyWithQuota(t *testing.T) {
	upstream := testhelpers.NewScriptedUpstream(t,
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.JSON(`{}`),
	)
	pool, err := balancer.New([]string{"KEY-AAAA-1111", "KEY-BBBB-2222"}, keyhealth.DefaultThresholds(), nil)
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.Config{DailyLimit: 3})

	exec := New(Config{BaseURL: upstream.URL}, pool, nil, nil)
	exec.SetSleeper((&testhelpers.RecordingSleeper{}).Sleep)
	exec.SetLimiter(limiter)

	// Three attempts spend the whole quota of the first key.
	res, err := exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, limiter.Exhausted("KEY-AAAA-1111"))

	// The first key stays healthy but the rest of the day is served by the second.
	for i := 0; i < 3; i++ {
		res, err = exec.Execute(context.Background(), "hslt/list", nil, false)
		require.NoError(t, err, "call %d", i+2)
		assert.Equal(t, "KEY-BBBB...", res.MaskedKey)
	}

	paths := upstream.Paths()
	require.Len(t, paths, 6)
	for i, p := range paths {
		want := "KEY-AAAA-1111"
		if i >= 3 {
			want = "KEY-BBBB-2222"
		}
		assert.True(t, strings.HasSuffix(p, want), "request %d went to %s", i, p)
	}

	// Only now is every key out of quota.
	_, err = exec.Execute(context.Background(), "hslt/list", nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrRateLimit))
	assert.True(t, errors.Is(err, ratelimit.ErrDailyQuotaExceeded))
	assert.Equal(t, 6, upstream.Hits())

	for _, rec := range pool.HealthSnapshot(false) {
		assert.Equal(t, keyhealth.StatusHealthy, rec.Status, rec.Key)
	}
}

func TestExecute_DailyQuotaRunsOutMidCall(t *testing.T) {
	upstream := testhelpers.NewScriptedUpstream(t,
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.Status(http.StatusServiceUnavailable),
		testhelpers.JSON(`{}`),
	)
	pool, err := balancer.New([]string{"KEY-AAAA-1111", "KEY-BBBB-2222"}, keyhealth.DefaultThresholds(), nil)
	require.NoError(t, err)
	sleeper := &testhelpers.RecordingSleeper{}

	exec := New(Config{BaseURL: upstream.URL}, pool, nil, nil)
	exec.SetSleeper(sleeper.Sleep)
	exec.SetJitterSource(testhelpers.NoJitter)
	exec.SetLimiter(ratelimit.New(ratelimit.Config{DailyLimit: 2}))

	res, err := exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "KEY-BBBB...", res.MaskedKey)
	paths := upstream.Paths()
	require.Len(t, paths, 3)
	assert.True(t, strings.HasSuffix(paths[0], "KEY-AAAA-1111"))
	assert.True(t, strings.HasSuffix(paths[1], "KEY-AAAA-1111"))
	assert.True(t, strings.HasSuffix(paths[2], "KEY-BBBB-2222"))
	// Switching keys does not add a backoff of its own.
	assert.Len(t, sleeper.Delays(), 2)
}

func TestExecute_CancelledThrottleWaitKeepsQuota(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.JSON(`{}`))
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.01, Burst: 1, DailyLimit: 5})
	f.exec.SetLimiter(limiter)

	_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)
	require.NoError(t, err)

	// The bucket is empty; the next token is far beyond this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.exec.Execute(ctx, "hslt/list", nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrNetwork))

	assert.Equal(t, 1, limiter.Usage(testKey).RequestsToday)
	assert.Equal(t, 1, f.upstream.Hits())
	assert.Equal(t, 0, f.health(t).TotalFailures)
}

func TestExecute_EmptyPoolErrorPropagates(t *testing.T) {
	exec := New(Config{BaseURL: "http://127.0.0.1:1"}, &balancer.KeyRotationManager{}, nil, nil)

	_, err := exec.Execute(context.Background(), "hslt/list", nil, false)

	assert.True(t, errors.Is(err, apierror.ErrConfiguration))
}

func TestExecute_WithMetrics(t *testing.T) {
	f := newFixture(t, Config{}, testhelpers.Status(http.StatusServiceUnavailable), testhelpers.JSON(`{}`))
	f.exec.SetMetrics(monitoring.New(true))

	assert.NotPanics(t, func() {
		_, err := f.exec.Execute(context.Background(), "hslt/list", nil, false)
		assert.NoError(t, err)
	})
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{BaseURL: "http://x"}.withDefaults()

	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryBaseDelay, cfg.RetryBaseDelay)
	assert.Equal(t, DefaultRetryMaxDelay, cfg.RetryMaxDelay)
	assert.Equal(t, "http://x", cfg.SecureBaseURL)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   outcome
	}{
		{200, outcomeSuccess},
		{204, outcomeSuccess},
		{429, outcomeRateLimited},
		{401, outcomeAuth},
		{403, outcomeAuth},
		{400, outcomeClient},
		{404, outcomeClient},
		{500, outcomeServer},
		{503, outcomeServer},
		{302, outcomeServer},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestEndpointFamily(t *testing.T) {
	assert.Equal(t, "hsstock/latest", endpointFamily("hsstock/latest/600519.SH/d/n"))
	assert.Equal(t, "hslt/list", endpointFamily("hslt/list"))
	assert.Equal(t, "hscp/gsjj", endpointFamily("/hscp/gsjj/000001"))
	assert.Equal(t, "ping", endpointFamily("ping"))
}
