package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chengjon/byapi-unified-client/internal/security"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// validateBaseURL validates that a URL is properly formed with http/https scheme
func validateBaseURL(field, baseURL string) error {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme, got: %s", field, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must have a host", field)
	}
	return nil
}

// limitToString shows "unlimited" for disabled limits
func limitToString(limit int) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}

// rpsToString shows "off" for a disabled throttle
func rpsToString(rps float64) string {
	if rps <= 0 {
		return "off"
	}
	return fmt.Sprintf("%g/s", rps)
}

// PrintConfig outputs the configuration in a structured, readable format to the logger
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	logger.Info("upstream",
		"base_url", cfg.BaseURL,
		"https_base_url", cfg.HTTPSBaseURL,
		"timeout", cfg.TimeoutDuration().String(),
	)

	logger.Info("retry",
		"max_retries", cfg.MaxRetries,
		"retry_base_delay", cfg.RetryBaseDelayDuration().String(),
		"retry_max_delay", cfg.RetryMaxDelayDuration().String(),
		"rate_limit_counts_as_failure", cfg.RateLimitCountsAsFailure,
	)

	logger.Info("key_health",
		"consecutive_failures", cfg.ConsecutiveFailures,
		"total_failures", cfg.TotalFailures,
	)

	logger.Info("throttle",
		"key_rps", rpsToString(cfg.KeyRPS),
		"key_burst", cfg.KeyBurst,
		"daily_limit", limitToString(cfg.DailyLimit),
	)

	logger.Info("cache",
		"size", limitToString(cfg.CacheSize),
		"ttl", durationToString(cfg.CacheTTLDuration()),
	)

	keys := cfg.LicenseKeys()
	logger.Info("licence", "total_count", len(keys))
	for i, key := range keys {
		logger.Info(fmt.Sprintf("  [%d] licence key", i), "key", security.MaskLicenseKey(key))
	}

	logger.Info("logging",
		"level", cfg.LogLevel,
		"format", cfg.LogFormat,
		"file", cfg.LogFile,
		"prometheus_enabled", cfg.PrometheusEnabled,
	)

	logger.Info("=== Configuration Ready ===")
}

// durationToString renders zero as "disabled"
func durationToString(d time.Duration) string {
	if d == 0 {
		return "disabled"
	}
	return d.String()
}
