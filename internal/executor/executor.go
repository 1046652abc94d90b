// Package executor issues upstream calls with a pooled license key, retrying
// transient failures with exponential backoff and feeding every outcome back
// into the key's health.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/httputil"
	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
	"github.com/chengjon/byapi-unified-client/internal/monitoring"
	"github.com/chengjon/byapi-unified-client/internal/ratelimit"
	"github.com/chengjon/byapi-unified-client/internal/security"
	"github.com/chengjon/byapi-unified-client/internal/utils"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 5
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay  = 30 * time.Second
)

// KeyPool hands out license keys and receives their outcomes.
// *balancer.KeyRotationManager satisfies it.
type KeyPool interface {
	NextKey() (string, error)
	// NextKeyExcluding selects like NextKey among keys skip does not reject.
	// It returns an error when skip rejects every key.
	NextKeyExcluding(skip func(key string) bool) (string, error)
	MarkKeyFailure(key, reason string) keyhealth.Status
	MarkKeySuccess(key string)
}

// Limiter throttles and meters requests per key.
// *ratelimit.KeyLimiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, key string) error
	Acquire(key string) error
	Exhausted(key string) bool
}

// Config controls the retry loop.
type Config struct {
	BaseURL        string
	SecureBaseURL  string
	Timeout        time.Duration // per attempt
	MaxRetries     int           // attempts per logical call
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// RateLimitCountsAsFailure records HTTP 429 against the key's health.
	RateLimitCountsAsFailure bool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.SecureBaseURL == "" {
		c.SecureBaseURL = c.BaseURL
	}
	return c
}

// Result is a successful upstream response plus call metadata.
type Result struct {
	Payload    json.RawMessage
	StatusCode int
	Elapsed    time.Duration
	MaskedKey  string
	Timestamp  time.Time
	RequestID  string
	Attempts   int
	Endpoint   string
}

// ElapsedMs returns the wall time of the whole call in milliseconds.
func (r *Result) ElapsedMs() float64 {
	return float64(r.Elapsed) / float64(time.Millisecond)
}

// Executor runs logical calls against the upstream. Safe for concurrent use.
type Executor struct {
	cfg     Config
	pool    KeyPool
	getter  httputil.Getter
	limiter Limiter
	metrics *monitoring.Metrics
	logger  *slog.Logger
	sleep   Sleeper
	jitter  func() float64
}

// New creates an executor. A nil getter uses httputil.NewClient with the
// configured timeout.
func New(cfg Config, pool KeyPool, getter httputil.Getter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.withDefaults()
	if getter == nil {
		getter = httputil.NewClient(httputil.NewHTTPClient(&httputil.HTTPClientConfig{Timeout: cfg.Timeout}), logger)
	}
	return &Executor{
		cfg:    cfg,
		pool:   pool,
		getter: getter,
		logger: logger,
		sleep:  sleepContext,
		jitter: defaultJitter,
	}
}

func (e *Executor) SetLimiter(l Limiter)             { e.limiter = l }
func (e *Executor) SetMetrics(m *monitoring.Metrics) { e.metrics = m }
func (e *Executor) SetSleeper(s Sleeper)             { e.sleep = s }
func (e *Executor) SetJitterSource(f func() float64) { e.jitter = f }
func (e *Executor) Config() Config                   { return e.cfg }

// outcome is the classification of one attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRateLimited
	outcomeAuth
	outcomeClient
	outcomeServer
	outcomeNetwork
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRateLimited:
		return "rate_limit"
	case outcomeAuth:
		return "auth_error"
	case outcomeClient:
		return "client_error"
	case outcomeServer:
		return "server_error"
	default:
		return "network_error"
	}
}

func (o outcome) retryable() bool {
	return o == outcomeRateLimited || o == outcomeServer || o == outcomeNetwork
}

func classifyStatus(status int) outcome {
	switch {
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusTooManyRequests:
		return outcomeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return outcomeAuth
	case status >= 400 && status < 500:
		return outcomeClient
	case status >= 500:
		return outcomeServer
	default:
		// 1xx/3xx are not expected from the API; treat as transient.
		return outcomeServer
	}
}

// Execute performs one logical GET of baseURL/endpoint/key.
//
// The same key is used for every attempt of the call unless its daily quota
// runs out, in which case the call moves to a key that still has quota.
// Returned errors are always *apierror.Error.
func (e *Executor) Execute(ctx context.Context, endpoint string, params map[string]string, secure bool) (*Result, error) {
	start := time.Now()

	res, err := e.execute(ctx, endpoint, params, secure, start)

	outcomeLabel := "success"
	if err != nil {
		outcomeLabel = string(apierror.KindOf(err))
	}
	e.metrics.RecordRequest(endpointFamily(endpoint), outcomeLabel, time.Since(start))

	return res, err
}

// selectKey picks the key for a call. With a limiter attached, keys whose
// daily quota is spent (or listed in tried) are passed over, and a rate limit
// error wrapping ratelimit.ErrDailyQuotaExceeded is returned once none is
// left.
func (e *Executor) selectKey(tried map[string]bool) (string, error) {
	if e.limiter == nil {
		return e.pool.NextKey()
	}
	key, err := e.pool.NextKeyExcluding(func(k string) bool {
		return tried[k] || e.limiter.Exhausted(k)
	})
	if err == nil {
		return key, nil
	}
	if errors.Is(err, apierror.ErrConfiguration) {
		return "", err
	}
	return "", apierror.RateLimit(0, ratelimit.ErrDailyQuotaExceeded, "daily quota exhausted for every license key")
}

// endpointFamily keeps the first two path segments of endpoint, e.g.
// "hsstock/latest" for "hsstock/latest/600519.SH/d/n", so metric labels do not
// grow with every stock code.
func endpointFamily(endpoint string) string {
	parts := strings.SplitN(strings.Trim(endpoint, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}

func (e *Executor) execute(ctx context.Context, endpoint string, params map[string]string, secure bool, start time.Time) (*Result, error) {
	key, err := e.selectKey(nil)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()

	base := e.cfg.BaseURL
	if secure {
		base = e.cfg.SecureBaseURL
	}

	var (
		last       outcome
		lastStatus int
		lastErr    error
		spent      map[string]bool
	)

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, key); err != nil {
				return nil, apierror.Network(0, err, "request to %s cancelled while throttled", endpoint)
			}
			if err := e.limiter.Acquire(key); err != nil {
				if spent == nil {
					spent = make(map[string]bool)
				}
				spent[key] = true
				e.metrics.RecordQuotaRejection(security.MaskLicenseKey(key))

				next, selErr := e.selectKey(spent)
				if selErr != nil {
					e.logger.Warn("License key daily quota exhausted",
						"request_id", requestID,
						"key", security.MaskLicenseKey(key),
						"endpoint", endpoint,
					)
					return nil, selErr
				}
				e.logger.Info("License key daily quota exhausted, switching key",
					"request_id", requestID,
					"key", security.MaskLicenseKey(key),
					"next_key", security.MaskLicenseKey(next),
				)
				// Retry the same attempt on the new key without backoff.
				key = next
				attempt--
				continue
			}
		}

		masked := security.MaskLicenseKey(key)
		target := httputil.JoinURL(base, endpoint, url.PathEscape(key))
		safeURL := security.MaskKeyInURL(target, key)

		e.logger.Debug("Sending upstream request",
			"request_id", requestID,
			"url", safeURL,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxRetries,
		)

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		resp, getErr := e.getter.Get(attemptCtx, target, params)
		cancel()

		if getErr != nil {
			// Caller gave up: not the key's fault.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apierror.Network(0, ctxErr, "request to %s cancelled", endpoint)
			}
			safeErr := security.MaskKeyInURL(getErr.Error(), key)
			last, lastStatus, lastErr = outcomeNetwork, 0, errors.New(safeErr)
			reason := "network: " + safeErr
			e.pool.MarkKeyFailure(key, reason)
			e.metrics.RecordAttempt(endpointFamily(endpoint), last.String())
			e.logger.Warn("Upstream request failed",
				"request_id", requestID,
				"url", safeURL,
				"attempt", attempt,
				"error", reason,
			)
		} else {
			last, lastStatus, lastErr = classifyStatus(resp.StatusCode), resp.StatusCode, nil
			e.metrics.RecordAttempt(endpointFamily(endpoint), last.String())

			switch last {
			case outcomeSuccess:
				if !json.Valid(resp.Body) {
					e.logger.Error("Upstream returned malformed JSON",
						"request_id", requestID,
						"url", safeURL,
						"status", resp.StatusCode,
						"body_preview", resp.Preview(),
					)
					return nil, apierror.Data(resp.StatusCode, nil, "malformed JSON in response from %s", endpoint)
				}
				e.pool.MarkKeySuccess(key)
				return &Result{
					Payload:    json.RawMessage(append([]byte(nil), resp.Body...)),
					StatusCode: resp.StatusCode,
					Elapsed:    time.Since(start),
					MaskedKey:  masked,
					Timestamp:  utils.NowUTC(),
					RequestID:  requestID,
					Attempts:   attempt,
					Endpoint:   endpoint,
				}, nil

			case outcomeAuth:
				e.pool.MarkKeyFailure(key, fmt.Sprintf("HTTP %d authentication rejected", resp.StatusCode))
				e.logger.Error("License key rejected by upstream",
					"request_id", requestID,
					"key", masked,
					"status", resp.StatusCode,
				)
				return nil, apierror.Authentication(resp.StatusCode, "license key %s rejected by %s", masked, endpoint)

			case outcomeClient:
				e.pool.MarkKeyFailure(key, fmt.Sprintf("HTTP %d client error", resp.StatusCode))
				e.logger.Error("Upstream rejected request",
					"request_id", requestID,
					"url", safeURL,
					"status", resp.StatusCode,
					"body_preview", resp.Preview(),
				)
				return nil, apierror.Data(resp.StatusCode, nil, "request to %s rejected: %s", endpoint, resp.Preview())

			case outcomeRateLimited:
				if e.cfg.RateLimitCountsAsFailure {
					e.pool.MarkKeyFailure(key, "HTTP 429 rate limited")
				}
				e.logger.Warn("Upstream rate limited request",
					"request_id", requestID,
					"key", masked,
					"attempt", attempt,
				)

			case outcomeServer:
				e.pool.MarkKeyFailure(key, fmt.Sprintf("HTTP %d server error", resp.StatusCode))
				e.logger.Warn("Upstream server error",
					"request_id", requestID,
					"url", safeURL,
					"status", resp.StatusCode,
					"attempt", attempt,
				)
			}
		}

		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := ApplyJitter(BackoffDelay(attempt, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay), e.jitter())
		e.metrics.RecordRetry(last.String())
		e.logger.Debug("Retrying after backoff",
			"request_id", requestID,
			"attempt", attempt,
			"delay", delay,
			"reason", last.String(),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, apierror.Network(0, err, "request to %s cancelled during backoff", endpoint)
		}
	}

	if last == outcomeRateLimited {
		return nil, apierror.RateLimit(lastStatus, nil, "rate limited on %s after %d attempts", endpoint, e.cfg.MaxRetries)
	}
	return nil, apierror.Network(lastStatus, lastErr, "request to %s failed after %d attempts", endpoint, e.cfg.MaxRetries)
}
