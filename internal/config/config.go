// Package config loads and validates courier configuration via Viper.
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
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Source    SourceConfig    `mapstructure:"source"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Mail      MailConfig      `mapstructure:"mail"`
	Drive     DriveConfig     `mapstructure:"drive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Retention RetentionConfig `mapstructure:"retention"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines admin API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// SourceConfig configures the publisher portal client.
type SourceConfig struct {
	BaseURL                string  `mapstructure:"base_url"`
	Username               string  `mapstructure:"username"`
	Password               string  `mapstructure:"password"`
	UserAgent              string  `mapstructure:"user_agent"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	DownloadTimeoutSeconds int     `mapstructure:"download_timeout_seconds"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second"`
}

// Timeout returns the metadata-call budget.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DownloadTimeout returns the large-file download budget.
func (c SourceConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// ArchiveConfig selects and configures the archive object store.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	ContentType string `mapstructure:"content_type"`
}

// MailConfig configures the direct-email delivery channel.
type MailConfig struct {
	Sender          string `mapstructure:"sender"`
	SenderName      string `mapstructure:"sender_name"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RefreshToken    string `mapstructure:"refresh_token"`
	SubjectPrefix   string `mapstructure:"subject_prefix"`
	MaxAttachmentMB int    `mapstructure:"max_attachment_mb"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// MaxAttachmentBytes returns the mail size ceiling in bytes.
func (c MailConfig) MaxAttachmentBytes() int64 {
	return int64(c.MaxAttachmentMB) * 1024 * 1024
}

// Timeout returns the per-send budget.
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DriveConfig configures the cloud-folder upload channel.
type DriveConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	RootFolder          string `mapstructure:"root_folder"`
	SingleShotMaxMB     int    `mapstructure:"single_shot_max_mb"`
	ChunkSizeMB         int    `mapstructure:"chunk_size_mb"`
	ChunkTimeoutSeconds int    `mapstructure:"chunk_timeout_seconds"`
}

// SingleShotMax returns the threshold above which uploads are segmented.
func (c DriveConfig) SingleShotMax() int64 {
	return int64(c.SingleShotMaxMB) * 1024 * 1024
}

// ChunkSize returns the segment size for large uploads.
func (c DriveConfig) ChunkSize() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// ChunkTimeout returns the per-segment budget.
func (c DriveConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSeconds) * time.Second
}

// NotifyConfig groups the batch notification sinks.
type NotifyConfig struct {
	Slack  SlackConfig  `mapstructure:"slack"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// SlackConfig holds the incoming-webhook notification sink settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// PubSubConfig holds metadata for publish-subscribe summary events.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BatchConfig governs batch execution and retry behavior.
type BatchConfig struct {
	UseCache         bool `mapstructure:"use_cache"`
	MaxRetries       int  `mapstructure:"max_retries"`
	BackoffInitialMs int  `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int  `mapstructure:"backoff_max_ms"`
}

// BackoffInitial returns the first retry delay.
func (c BatchConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c BatchConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// RetentionConfig controls registry cleanup.
type RetentionConfig struct {
	RegistryDays int `mapstructure:"registry_days"`
}

// Horizon returns the registry retention window.
func (c RetentionConfig) Horizon() time.Duration {
	return time.Duration(c.RegistryDays) * 24 * time.Hour
}

// SchedulerConfig controls the cron trigger for batch runs.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COURIER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("source.user_agent", "edition-courier/0.1")
	v.SetDefault("source.timeout_seconds", 20)
	v.SetDefault("source.download_timeout_seconds", 120)
	v.SetDefault("source.requests_per_second", 2)
	v.SetDefault("archive.provider", "local")
	v.SetDefault("archive.local_dir", "./archive")
	v.SetDefault("archive.content_type", "application/pdf")
	v.SetDefault("mail.sender_name", "Edition Courier")
	v.SetDefault("mail.max_attachment_mb", 20)
	v.SetDefault("mail.timeout_seconds", 30)
	v.SetDefault("drive.root_folder", "Editions")
	v.SetDefault("drive.single_shot_max_mb", 4)
	v.SetDefault("drive.chunk_size_mb", 8)
	v.SetDefault("drive.chunk_timeout_seconds", 60)
	v.SetDefault("batch.use_cache", false)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.backoff_initial_ms", 500)
	v.SetDefault("batch.backoff_max_ms", 8000)
	v.SetDefault("retention.registry_days", 90)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "0 7 * * *")
}

// Validate enforces required values and reasonable limits. Failures here are
// fatal at startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.Username == "" || c.Source.Password == "" {
		return fmt.Errorf("source.username and source.password are required")
	}
	if c.Source.TimeoutSeconds <= 0 || c.Source.DownloadTimeoutSeconds <= 0 {
		return fmt.Errorf("source timeouts must be > 0")
	}
	switch c.Archive.Provider {
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs provider")
		}
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local provider")
		}
	case "memory":
	default:
		return fmt.Errorf("archive.provider must be one of gcs, local, memory")
	}
	if c.Mail.Sender == "" {
		return fmt.Errorf("mail.sender is required")
	}
	if c.Mail.ClientID == "" || c.Mail.ClientSecret == "" || c.Mail.RefreshToken == "" {
		return fmt.Errorf("mail.client_id, mail.client_secret and mail.refresh_token are required")
	}
	if c.Mail.MaxAttachmentMB <= 0 {
		return fmt.Errorf("mail.max_attachment_mb must be > 0")
	}
	if c.Drive.BaseURL == "" || c.Drive.Token == "" {
		return fmt.Errorf("drive.base_url and drive.token are required")
	}
	if c.Drive.ChunkSizeMB <= 0 || c.Drive.SingleShotMaxMB <= 0 {
		return fmt.Errorf("drive chunk sizing must be > 0")
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		return fmt.Errorf("notify.slack.webhook_url must be set when slack is enabled")
	}
	if c.Notify.PubSub.Enabled && (c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "") {
		return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Batch.MaxRetries < 0 {
		return fmt.Errorf("batch.max_retries must be >= 0")
	}
	if c.Retention.RegistryDays <= 0 {
		return fmt.Errorf("retention.registry_days must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.cron must be set when the scheduler is enabled")
	}
	return nil
}
