package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 6
  delay_ms: 1500
  max_pages_default: 50
  user_agent: real-agent
  respect_robots: false
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
classify:
  model_batch_size: 25
enrich:
  concurrency: 3
  fan_out_top: 6
  locale: en-GB
generate:
  research_concurrency: 2
  related_links: 5
llm:
  model: gpt-4o
storage:
  backend: gcs
  gcs_bucket: snapshots
  prefix: sites
db:
  backend: postgres
  dsn: postgres://localhost/sitescribe
  max_conns: 20
notify:
  smtp_host: mail.example.com
  smtp_from: crawler@example.com
logging:
  development: false
scheduler:
  enabled: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.RespectRobots {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.CrawlDelay(); got != 1500*time.Millisecond {
		t.Fatalf("expected crawl delay 1.5s, got %v", got)
	}
	if cfg.Classify.ModelBatchSize != 25 {
		t.Fatalf("expected classify batch size 25, got %d", cfg.Classify.ModelBatchSize)
	}
	if cfg.Enrich.Concurrency != 3 || cfg.Enrich.Locale != "en-GB" {
		t.Fatalf("expected enrich overrides to apply: %+v", cfg.Enrich)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "snapshots" {
		t.Fatalf("expected gcs storage backend: %+v", cfg.Storage)
	}
	if cfg.DB.Backend != "postgres" || cfg.DB.MaxConns != 20 {
		t.Fatalf("expected postgres db overrides: %+v", cfg.DB)
	}
	if cfg.Notify.SMTPHost != "mail.example.com" || cfg.Notify.SMTPPort != 587 {
		t.Fatalf("expected smtp host with default port: %+v", cfg.Notify)
	}
	if cfg.Scheduler.Enabled {
		t.Fatalf("expected scheduler disabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.MaxPagesDefault != 200 || !cfg.Crawler.RespectRobots {
		t.Fatalf("expected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Storage.Backend != "memory" || cfg.DB.Backend != "memory" {
		t.Fatalf("expected in-memory backends by default")
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Fatalf("expected default llm key env, got %q", cfg.LLM.APIKeyEnv)
	}
	if got := cfg.FetchTimeout(); got != 15*time.Second {
		t.Fatalf("expected fetch timeout 15s, got %v", got)
	}
	if got := cfg.DBConnLifetime(); got != 30*time.Minute {
		t.Fatalf("expected conn lifetime 30m, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Crawler:  CrawlerConfig{Concurrency: 5, TimeoutSeconds: 15},
		Classify: ClassifyConfig{ModelBatchSize: 10},
		Enrich:   EnrichConfig{Concurrency: 5},
		Generate: GenerateConfig{ResearchConcurrency: 3},
		Storage:  StorageConfig{Backend: "memory"},
		DB:       DBConfig{Backend: "memory"},
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		{
			name:   "invalid concurrency",
			mutate: func(c *Config) { c.Crawler.Concurrency = 0 },
			want:   "crawler.concurrency",
		},
		{
			name:   "invalid fetch timeout",
			mutate: func(c *Config) { c.Crawler.TimeoutSeconds = 0 },
			want:   "crawler.timeout_seconds",
		},
		{
			name:   "invalid classify batch",
			mutate: func(c *Config) { c.Classify.ModelBatchSize = 0 },
			want:   "classify.model_batch_size",
		},
		{
			name:   "enrich concurrency over cap",
			mutate: func(c *Config) { c.Enrich.Concurrency = 6 },
			want:   "enrich.concurrency",
		},
		{
			name:   "research concurrency over cap",
			mutate: func(c *Config) { c.Generate.ResearchConcurrency = 4 },
			want:   "generate.research_concurrency",
		},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name:   "auth missing api key",
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
		{
			name:   "gcs missing bucket",
			mutate: func(c *Config) { c.Storage.Backend = "gcs" },
			want:   "storage.gcs_bucket",
		},
		{
			name:   "local missing dir",
			mutate: func(c *Config) { c.Storage.Backend = "local" },
			want:   "storage.local_dir",
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "s3" },
			want:   "storage.backend",
		},
		{
			name:   "postgres missing dsn",
			mutate: func(c *Config) { c.DB.Backend = "postgres" },
			want:   "db.dsn",
		},
		{
			name:   "unknown db backend",
			mutate: func(c *Config) { c.DB.Backend = "sqlite" },
			want:   "db.backend",
		},
		{
			name:   "pubsub topic without project",
			mutate: func(c *Config) { c.Notify.PubSubTopic = "crawl-runs" },
			want:   "notify.pubsub_project",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
