package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/balancer"
	"github.com/chengjon/byapi-unified-client/internal/executor"
	"github.com/chengjon/byapi-unified-client/internal/keyhealth"
	"github.com/chengjon/byapi-unified-client/internal/ratelimit"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "BYAPI"

const (
	DefaultBaseURL      = "http://api.biyingapi.com"
	DefaultHTTPSBaseURL = "https://api.biyingapi.com"
)

// Config is the client configuration. Durations are in seconds so the same
// numbers work in YAML and in the environment.
//
// Precedence: Default() < YAML file < BYAPI_* environment variables.
type Config struct {
	Licence      string `yaml:"licence" envconfig:"LICENCE" validate:"required"`
	BaseURL      string `yaml:"base_url" envconfig:"BASE_URL" validate:"required"`
	HTTPSBaseURL string `yaml:"https_base_url" envconfig:"HTTPS_BASE_URL" validate:"required"`

	Timeout        float64 `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	MaxRetries     int     `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"gte=1,lte=20"`
	RetryBaseDelay float64 `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY" validate:"gt=0"`
	RetryMaxDelay  float64 `yaml:"retry_max_delay" envconfig:"RETRY_MAX_DELAY" validate:"gtefield=RetryBaseDelay"`

	ConsecutiveFailures      int  `yaml:"consecutive_failures" envconfig:"CONSECUTIVE_FAILURES" validate:"gte=1"`
	TotalFailures            int  `yaml:"total_failures" envconfig:"TOTAL_FAILURES" validate:"gte=1"`
	RateLimitCountsAsFailure bool `yaml:"rate_limit_counts_as_failure" envconfig:"RATE_LIMIT_COUNTS_AS_FAILURE"`

	KeyRPS     float64 `yaml:"key_rps" envconfig:"KEY_RPS" validate:"gte=0"`
	KeyBurst   int     `yaml:"key_burst" envconfig:"KEY_BURST" validate:"gte=1"`
	DailyLimit int     `yaml:"daily_limit" envconfig:"DAILY_LIMIT" validate:"gte=0"`

	CacheSize int     `yaml:"cache_size" envconfig:"CACHE_SIZE" validate:"gte=0"`
	CacheTTL  float64 `yaml:"cache_ttl" envconfig:"CACHE_TTL" validate:"gte=0"`

	LogLevel          string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFormat         string `yaml:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=text json"`
	LogFile           string `yaml:"log_file" envconfig:"LOG_FILE"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled" envconfig:"PROMETHEUS_ENABLED"`
}

// Default returns the built-in configuration. Licence is left empty.
func Default() *Config {
	return &Config{
		BaseURL:             DefaultBaseURL,
		HTTPSBaseURL:        DefaultHTTPSBaseURL,
		Timeout:             30,
		MaxRetries:          5,
		RetryBaseDelay:      0.1,
		RetryMaxDelay:       30,
		ConsecutiveFailures: keyhealth.DefaultConsecutiveFailureThreshold,
		TotalFailures:       keyhealth.DefaultTotalFailureThreshold,
		KeyBurst:            1,
		CacheSize:           256,
		CacheTTL:            300,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Fields without a default tag are only touched when the variable is set.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apierror.Configuration("failed to load config from env: %v", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv is Load without a config file.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apierror.Configuration("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apierror.Configuration("failed to parse config file: %v", err)
	}
	return nil
}

// Normalize cleans up configuration values
func (c *Config) Normalize() {
	c.Licence = strings.TrimSpace(resolveEnvString(c.Licence))
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.HTTPSBaseURL = strings.TrimRight(strings.TrimSpace(c.HTTPSBaseURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

var validate = validator.New()

// Validate checks every field. All failures are configuration errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return apierror.Configuration("config validation failed: %s", formatFieldError(verrs[0]))
		}
		return apierror.Configuration("config validation failed: %v", err)
	}

	if len(c.LicenseKeys()) == 0 {
		return apierror.Configuration("config validation failed: %s is empty after trimming", EnvPrefix+"_LICENCE")
	}
	if err := validateBaseURL("base_url", c.BaseURL); err != nil {
		return apierror.Configuration("config validation failed: %v", err)
	}
	if err := validateBaseURL("https_base_url", c.HTTPSBaseURL); err != nil {
		return apierror.Configuration("config validation failed: %v", err)
	}

	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s (value %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// LicenseKeys splits the credential pool. Duplicates collapse.
func (c *Config) LicenseKeys() []string {
	return balancer.ParseKeys(c.Licence)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Config) TimeoutDuration() time.Duration        { return seconds(c.Timeout) }
func (c *Config) RetryBaseDelayDuration() time.Duration { return seconds(c.RetryBaseDelay) }
func (c *Config) RetryMaxDelayDuration() time.Duration  { return seconds(c.RetryMaxDelay) }
func (c *Config) CacheTTLDuration() time.Duration       { return seconds(c.CacheTTL) }

// Thresholds returns the key health demotion limits.
func (c *Config) Thresholds() keyhealth.Thresholds {
	return keyhealth.Thresholds{
		ConsecutiveFailures: c.ConsecutiveFailures,
		TotalFailures:       c.TotalFailures,
	}
}

// ExecutorConfig returns the retry loop settings.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		BaseURL:                  c.BaseURL,
		SecureBaseURL:            c.HTTPSBaseURL,
		Timeout:                  c.TimeoutDuration(),
		MaxRetries:               c.MaxRetries,
		RetryBaseDelay:           c.RetryBaseDelayDuration(),
		RetryMaxDelay:            c.RetryMaxDelayDuration(),
		RateLimitCountsAsFailure: c.RateLimitCountsAsFailure,
	}
}

// RateLimitConfig returns the per-key throttle and quota settings.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		RPS:        c.KeyRPS,
		Burst:      c.KeyBurst,
		DailyLimit: c.DailyLimit,
	}
}
