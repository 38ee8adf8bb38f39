package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Identity   IdentityConfig   `yaml:"identity" mapstructure:"identity"`
	NameSearch NameSearchConfig `yaml:"namesearch" mapstructure:"namesearch"`
	PhoneA     PhoneConfig      `yaml:"phone_a" mapstructure:"phone_a"`
	PhoneB     PhoneConfig      `yaml:"phone_b" mapstructure:"phone_b"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	WebhookSecret string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	IntakeWorkers int      `yaml:"intake_workers" mapstructure:"intake_workers"`
	IntakeQueue   int      `yaml:"intake_queue" mapstructure:"intake_queue"`
}

// IdentityConfig holds the tier-1 identity provider settings.
type IdentityConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// NameSearchConfig holds the search index settings.
type NameSearchConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	Key            string `yaml:"key" mapstructure:"key"`
	PersonsIndex   string `yaml:"persons_index" mapstructure:"persons_index"`
	CompaniesIndex string `yaml:"companies_index" mapstructure:"companies_index"`
	Limit          int    `yaml:"limit" mapstructure:"limit"`
}

// PhoneConfig holds one secondary phone lookup service. An empty BaseURL
// leaves the tier out of the chain.
type PhoneConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Key       string  `yaml:"key" mapstructure:"key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	NoteTitle string  `yaml:"note_title" mapstructure:"note_title"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MonitoringConfig configures alerting thresholds and the alert webhook.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	IncomeThreshold      float64 `yaml:"income_threshold" mapstructure:"income_threshold"`
	NetWorthThreshold    float64 `yaml:"net_worth_threshold" mapstructure:"net_worth_threshold"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	TimeoutSecs          int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DiscoveryConfig configures the provider fallback chain.
type DiscoveryConfig struct {
	NameThreshold       float64 `yaml:"name_threshold" mapstructure:"name_threshold"`
	MinNameLength       int     `yaml:"min_name_length" mapstructure:"min_name_length"`
	ProviderTimeoutSecs int     `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	ChainPath           string  `yaml:"chain_path" mapstructure:"chain_path"`
}

// EnrichConfig configures the orchestrator.
type EnrichConfig struct {
	ProfileTimeoutSecs int  `yaml:"profile_timeout_secs" mapstructure:"profile_timeout_secs"`
	PublishTimeoutSecs int  `yaml:"publish_timeout_secs" mapstructure:"publish_timeout_secs"`
	LockTTLSecs        int  `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
	CooldownMins       int  `yaml:"cooldown_mins" mapstructure:"cooldown_mins"`
	SideEffectWorkers  int  `yaml:"side_effect_workers" mapstructure:"side_effect_workers"`
	Insight            bool `yaml:"insight" mapstructure:"insight"`
	NetworkAnalysis    bool `yaml:"network_analysis" mapstructure:"network_analysis"`
}

// ProfileTimeout returns the profile fetch deadline.
func (e EnrichConfig) ProfileTimeout() time.Duration {
	return time.Duration(e.ProfileTimeoutSecs) * time.Second
}

// RetryConfig configures automatic re-enrichment.
type RetryConfig struct {
	MaxRetries   int      `yaml:"max_retries" mapstructure:"max_retries"`
	Backoff      []string `yaml:"backoff" mapstructure:"backoff"`
	IntervalSecs int      `yaml:"interval_secs" mapstructure:"interval_secs"`
	BatchSize    int      `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// Schedule parses the backoff table.
func (r RetryConfig) Schedule() (resilience.Schedule, error) {
	return resilience.ParseSchedule(r.Backoff)
}

// ResilienceConfig tunes circuit breakers and transient retries around
// provider calls.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.intake_workers", 4)
	v.SetDefault("server.intake_queue", 256)
	v.SetDefault("namesearch.persons_index", "persons")
	v.SetDefault("namesearch.companies_index", "companies")
	v.SetDefault("namesearch.limit", 10)
	v.SetDefault("phone_a.rate_limit", 5)
	v.SetDefault("phone_b.rate_limit", 5)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 10)
	v.SetDefault("salesforce.note_title", "Lead enrichment")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 400)
	v.SetDefault("monitoring.income_threshold", 20000)
	v.SetDefault("monitoring.net_worth_threshold", 1000000)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.backlog_threshold", 500)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.timeout_secs", 10)
	v.SetDefault("discovery.name_threshold", 0.7)
	v.SetDefault("discovery.min_name_length", 5)
	v.SetDefault("discovery.provider_timeout_secs", 10)
	v.SetDefault("enrich.profile_timeout_secs", 15)
	v.SetDefault("enrich.publish_timeout_secs", 20)
	v.SetDefault("enrich.lock_ttl_secs", 300)
	v.SetDefault("enrich.cooldown_mins", 10)
	v.SetDefault("enrich.side_effect_workers", 4)
	v.SetDefault("enrich.insight", true)
	v.SetDefault("enrich.network_analysis", true)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff", []string{"15m", "1h", "6h"})
	v.SetDefault("retry.interval_secs", 300)
	v.SetDefault("retry.batch_size", 50)
	v.SetDefault("retry.concurrency", 5)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.max_backoff_ms", 2000)
}

// Validate checks the fields a command mode depends on. All problems are
// reported together.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "migrate":
		c.validateStore(add)
	case "serve", "enrich", "retry":
		c.validateStore(add)
		c.validatePipeline(add)
		if mode == "serve" {
			if c.Server.Port <= 0 || c.Server.Port > 65535 {
				add("server.port must be > 0 and <= 65535")
			}
			if c.Server.IntakeWorkers < 1 {
				add("server.intake_workers must be >= 1")
			}
		}
		if mode != "enrich" {
			if c.Retry.IntervalSecs <= 0 {
				add("retry.interval_secs must be > 0")
			}
			if c.Retry.Concurrency < 1 || c.Retry.Concurrency > 50 {
				add("retry.concurrency must be between 1 and 50")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
}

func (c *Config) validatePipeline(add func(string, ...any)) {
	if c.Identity.BaseURL == "" {
		add("identity.base_url is required")
	}
	if c.Discovery.NameThreshold <= 0 || c.Discovery.NameThreshold > 1 {
		add("discovery.name_threshold must be in (0, 1]")
	}
	if c.Discovery.MinNameLength < 0 {
		add("discovery.min_name_length must be >= 0")
	}
	if c.Discovery.ProviderTimeoutSecs <= 0 {
		add("discovery.provider_timeout_secs must be > 0")
	}
	if c.Enrich.ProfileTimeoutSecs <= 0 {
		add("enrich.profile_timeout_secs must be > 0")
	}
	if c.Enrich.LockTTLSecs <= 0 {
		add("enrich.lock_ttl_secs must be > 0")
	}
	if c.Enrich.CooldownMins < 0 {
		add("enrich.cooldown_mins must be >= 0")
	}
	if c.Enrich.SideEffectWorkers < 1 {
		add("enrich.side_effect_workers must be >= 1")
	}
	if c.Retry.MaxRetries < 1 {
		add("retry.max_retries must be >= 1")
	}
	if _, err := c.Retry.Schedule(); err != nil {
		add("retry.backoff: %v", err)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
