// Package byapi is a typed client for the byapi (biyingapi.com) A-share data
// API. Calls are spread over a pool of license keys whose health is tracked
// per key; transient failures are retried with exponential backoff.
package byapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/chengjon/byapi-unified-client/internal/balancer"
	"github.com/chengjon/byapi-unified-client/internal/cache"
	"github.com/chengjon/byapi-unified-client/internal/config"
	"github.com/chengjon/byapi-unified-client/internal/executor"
	"github.com/chengjon/byapi-unified-client/internal/httputil"
	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
	"github.com/chengjon/byapi-unified-client/internal/logger"
	"github.com/chengjon/byapi-unified-client/internal/monitoring"
	"github.com/chengjon/byapi-unified-client/internal/ratelimit"
	"github.com/chengjon/byapi-unified-client/internal/security"
	"github.com/chengjon/byapi-unified-client/internal/stockcode"
)

const debugFieldLimit = 200

// Result is the raw outcome of Client.Execute.
type Result = executor.Result

// CacheStats reports reference-data cache usage.
type CacheStats = cache.Stats

// KeyHealth is the health of one license key plus its daily quota usage.
type KeyHealth struct {
	keyhealth.Record
	RequestsToday int `json:"requests_today"`
	DailyLimit    int `json:"daily_limit"`
	Remaining     int `json:"remaining"` // -1 when unlimited
}

// Client is safe for concurrent use.
type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	keys    *balancer.KeyRotationManager
	limiter *ratelimit.KeyLimiter
	exec    *executor.Executor
	cache   *cache.Cache

	StockList     *StockListService
	Prices        *PriceService
	Indicators    *IndicatorService
	Financials    *FinancialService
	Announcements *AnnouncementService
	Company       *CompanyService
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// Option customizes New.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the transport used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New builds a client from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	keys, err := balancer.New(cfg.LicenseKeys(), cfg.Thresholds(), o.logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.New(cfg.PrometheusEnabled)
	keys.SetMetrics(metrics)

	execCfg := cfg.ExecutorConfig()
	var getter httputil.Getter
	if o.httpClient != nil {
		getter = httputil.NewClient(o.httpClient, o.logger)
	}
	exec := executor.New(execCfg, keys, getter, o.logger)
	exec.SetMetrics(metrics)

	limiter := ratelimit.New(cfg.RateLimitConfig())
	exec.SetLimiter(limiter)

	respCache, err := cache.New(cfg.CacheSize, cfg.CacheTTLDuration())
	if err != nil {
		return nil, err
	}
	respCache.SetMetrics(metrics)

	c := &Client{
		cfg:     cfg,
		logger:  o.logger,
		keys:    keys,
		limiter: limiter,
		exec:    exec,
		cache:   respCache,
	}
	c.StockList = &StockListService{client: c}
	c.Prices = &PriceService{client: c}
	c.Indicators = &IndicatorService{client: c}
	c.Financials = &FinancialService{client: c}
	c.Announcements = &AnnouncementService{client: c}
	c.Company = &CompanyService{client: c}

	o.logger.Info("byapi client initialized",
		"keys", keys.Len(),
		"base_url", execCfg.BaseURL,
		"max_retries", execCfg.MaxRetries,
		"cache_enabled", respCache != nil,
	)

	return c, nil
}

// NewFromEnv loads the configuration from BYAPI_* variables and builds a client.
func NewFromEnv(opts ...Option) (*Client, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Execute performs a raw GET of endpoint with params. secure selects the
// HTTPS base URL. Errors are *Error.
func (c *Client) Execute(ctx context.Context, endpoint string, params map[string]string, secure bool) (*Result, error) {
	return c.exec.Execute(ctx, endpoint, params, secure)
}

// LicenseHealth returns the health of every key in configuration order. With
// mask set the keys are masked.
func (c *Client) LicenseHealth(mask bool) []KeyHealth {
	records := c.keys.HealthSnapshot(false)
	out := make([]KeyHealth, len(records))
	for i, rec := range records {
		usage := c.limiter.Usage(rec.Key)
		if mask {
			rec.Key = security.MaskLicenseKey(rec.Key)
		}
		out[i] = KeyHealth{
			Record:        rec,
			RequestsToday: usage.RequestsToday,
			DailyLimit:    usage.DailyLimit,
			Remaining:     usage.Remaining,
		}
	}
	return out
}

// HealthSnapshot returns the bare key health records, without quota usage.
func (c *Client) HealthSnapshot(mask bool) []keyhealth.Record {
	return c.keys.HealthSnapshot(mask)
}

// UsableKeys returns how many keys are healthy or faulty.
func (c *Client) UsableKeys() int {
	return c.keys.UsableCount()
}

// CacheStats returns reference-data cache usage. Zero when caching is off.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// ClearCache drops every cached payload.
func (c *Client) ClearCache() {
	c.cache.InvalidateAll()
}

// fetch runs one call, serving cacheable endpoints from the cache when possible.
func (c *Client) fetch(ctx context.Context, endpoint string, params map[string]string, secure, cacheable bool) (json.RawMessage, error) {
	var cacheKey string
	if cacheable {
		cacheKey = cache.Key(endpoint, params)
		if payload, ok := c.cache.Get(cacheKey); ok {
			c.logger.Debug("Serving cached response", "endpoint", endpoint)
			return payload, nil
		}
	}

	res, err := c.exec.Execute(ctx, endpoint, params, secure)
	if err != nil {
		return nil, err
	}

	if c.logger.Enabled(ctx, slog.LevelDebug) {
		c.logger.Debug("Upstream response",
			"endpoint", endpoint,
			"request_id", res.RequestID,
			"key", res.MaskedKey,
			"attempts", res.Attempts,
			"elapsed_ms", res.ElapsedMs(),
			"body", logger.TruncateLongFields(string(res.Payload), debugFieldLimit),
		)
	}

	if cacheable {
		c.cache.Set(cacheKey, res.Payload)
	}
	return res.Payload, nil
}

func (c *Client) validate(code string) (stockcode.Code, error) {
	return stockcode.Validate(code, c.logger)
}
