// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Generate  GenerateConfig  `mapstructure:"generate"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl engine.
type CrawlerConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	DelayMs         int    `mapstructure:"delay_ms"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes  int  `mapstructure:"min_html_bytes"`
}

// ClassifyConfig controls the rule/model hybrid classifier.
type ClassifyConfig struct {
	ModelBatchSize int `mapstructure:"model_batch_size"`
}

// EnrichConfig controls the question enrichment engine.
type EnrichConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	FanOutTop    int    `mapstructure:"fan_out_top"`
	MaxQuestions int    `mapstructure:"max_questions"`
	CacheTTLH    int    `mapstructure:"cache_ttl_hours"`
	Locale       string `mapstructure:"locale"`
}

// GenerateConfig controls the content generation pipeline.
type GenerateConfig struct {
	Concurrency         int    `mapstructure:"concurrency"`
	ResearchConcurrency int    `mapstructure:"research_concurrency"`
	StyleRulesPath      string `mapstructure:"style_rules_path"`
	RelatedLinks        int    `mapstructure:"related_links"`
	PriorityLinks       int    `mapstructure:"priority_links"`
}

// LLMConfig configures the generation service client.
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
}

// SearchConfig configures the search-results data provider.
type SearchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Backend            string `mapstructure:"backend"` // postgres | memory
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// RedisConfig controls the enrichment cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig sets up the raw HTML snapshot archive.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // gcs | local | memory
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// NotifyConfig configures the outbound notification channels. Email and
// webhook delivery is routed per schedule; pub/sub fans out to every run.
type NotifyConfig struct {
	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port"`
	SMTPFrom      string `mapstructure:"smtp_from"`
	SMTPUsername  string `mapstructure:"smtp_username"`
	SMTPPassword  string `mapstructure:"smtp_password"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SchedulerConfig controls the recurring-crawl scheduler.
type SchedulerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	TickSeconds int  `mapstructure:"tick_seconds"`
	MaxParallel int  `mapstructure:"max_parallel"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITESCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.delay_ms", 500)
	v.SetDefault("crawler.max_pages_default", 200)
	v.SetDefault("crawler.user_agent", "sitescribe-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_html_bytes", 2048)
	v.SetDefault("classify.model_batch_size", 10)
	v.SetDefault("enrich.concurrency", 5)
	v.SetDefault("enrich.fan_out_top", 4)
	v.SetDefault("enrich.max_questions", 20)
	v.SetDefault("enrich.cache_ttl_hours", 24)
	v.SetDefault("enrich.locale", "en-US")
	v.SetDefault("generate.concurrency", 5)
	v.SetDefault("generate.research_concurrency", 3)
	v.SetDefault("generate.related_links", 3)
	v.SetDefault("generate.priority_links", 2)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.max_concurrent", 5)
	v.SetDefault("search.timeout_seconds", 20)
	v.SetDefault("search.api_key_env", "SERP_API_KEY")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "projects")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("logging.development", true)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_seconds", 30)
	v.SetDefault("scheduler.max_parallel", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Classify.ModelBatchSize <= 0 {
		return fmt.Errorf("classify.model_batch_size must be > 0")
	}
	if c.Enrich.Concurrency <= 0 || c.Enrich.Concurrency > 5 {
		return fmt.Errorf("enrich.concurrency must be in [1,5]")
	}
	if c.Generate.ResearchConcurrency <= 0 || c.Generate.ResearchConcurrency > 3 {
		return fmt.Errorf("generate.research_concurrency must be in [1,3]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be gcs, local, or memory")
	}
	switch c.DB.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("db.backend must be postgres or memory")
	}
	if c.Notify.PubSubTopic != "" && c.Notify.PubSubProject == "" {
		return fmt.Errorf("notify.pubsub_project must be set when notify.pubsub_topic is set")
	}
	return nil
}

// CrawlDelay converts the configured inter-request delay to a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// FetchTimeout converts the configured fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// DBConnLifetime converts the configured pool connection lifetime to a duration.
func (c Config) DBConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMin) * time.Minute
}
