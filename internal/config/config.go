// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Stage    StageConfig    `mapstructure:"stage"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Download DownloadConfig `mapstructure:"download"`
	Wayback  WaybackConfig  `mapstructure:"wayback"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Sync     SyncConfig     `mapstructure:"sync"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// LedgerConfig locates the partitioned ledger on disk.
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// StageConfig carries the retry policy shared by every stage run.
type StageConfig struct {
	AttemptCap   int `mapstructure:"attempt_cap"`
	FailureLimit int `mapstructure:"failure_limit"`
	MaxRecords   int `mapstructure:"max_records"`
}

// CrawlConfig governs the listing crawler.
type CrawlConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxPages       int    `mapstructure:"max_pages"`
	DelayMs        int    `mapstructure:"delay_ms"`
}

// DownloadConfig governs document fetching.
type DownloadConfig struct {
	LFSRoot        string `mapstructure:"lfs_root"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// WaybackConfig carries SPN2 credentials and polling behavior.
type WaybackConfig struct {
	SaveURL         string `mapstructure:"save_url"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	CaptureAll      bool   `mapstructure:"capture_all"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	PollIntervalSec int    `mapstructure:"poll_interval_seconds"`
	PollTimeoutSec  int    `mapstructure:"poll_timeout_seconds"`
}

// ArchiveConfig carries archive.org upload credentials.
type ArchiveConfig struct {
	UploadURL      string `mapstructure:"upload_url"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ItemPrefix     string `mapstructure:"item_prefix"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SyncConfig selects the artifact mirror backend.
type SyncConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for run-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRARCHIVER")
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
	v.SetDefault("ledger.dir", "data/ledger")
	v.SetDefault("stage.attempt_cap", 2)
	v.SetDefault("stage.failure_limit", 10)
	v.SetDefault("stage.max_records", 0)
	v.SetDefault("crawl.base_url", "https://gr.maharashtra.gov.in/1145/Government-Resolutions")
	v.SetDefault("crawl.timeout_seconds", 30)
	v.SetDefault("crawl.max_pages", 1000)
	v.SetDefault("crawl.delay_ms", 500)
	v.SetDefault("download.lfs_root", "data/documents")
	v.SetDefault("download.timeout_seconds", 60)
	v.SetDefault("wayback.timeout_seconds", 30)
	v.SetDefault("wayback.poll_interval_seconds", 5)
	v.SetDefault("wayback.poll_timeout_seconds", 180)
	v.SetDefault("archive.timeout_seconds", 300)
	v.SetDefault("sync.backend", "local")
	v.SetDefault("sync.local_dir", "data/mirror")
	v.SetDefault("sync.gcs_prefix", "gr-archiver")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Ledger.Dir == "" {
		return fmt.Errorf("ledger.dir must be set")
	}
	if c.Stage.AttemptCap <= 0 {
		return fmt.Errorf("stage.attempt_cap must be > 0")
	}
	if c.Stage.FailureLimit <= 0 {
		return fmt.Errorf("stage.failure_limit must be > 0")
	}
	if c.Download.LFSRoot == "" {
		return fmt.Errorf("download.lfs_root must be set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Sync.Backend {
	case "local", "gcs":
	default:
		return fmt.Errorf("sync.backend must be local or gcs")
	}
	if c.Sync.Backend == "gcs" && c.Sync.GCSBucket == "" {
		return fmt.Errorf("sync.gcs_bucket must be set when sync.backend is gcs")
	}
	return nil
}

// DownloadTimeout converts the configured seconds into a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// CrawlTimeout converts the configured seconds into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}
