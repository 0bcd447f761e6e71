package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the conversation core. Every field can
// be set from the environment; an optional YAML file (CONFIG_FILE) seeds
// values first and the environment wins.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Blob      BlobConfig      `yaml:"blob"`
	AI        AIConfig        `yaml:"ai"`
	Email     EmailConfig     `yaml:"email"`
	Retention RetentionConfig `yaml:"retention"`
	Redis     RedisConfig     `yaml:"redis"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// AuthConfig holds token verification settings. JWTSecret signs/verifies
// bearer tokens; AdminBootstrapKey grants admin access via X-Admin-Key for
// initial provisioning before any admin user exists.
type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	AdminBootstrapKey string `yaml:"admin_bootstrap_key"`
}

// SecretsConfig holds the process master key that seals stored credentials.
type SecretsConfig struct {
	MasterEncryptionKey string `yaml:"master_encryption_key"`
}

// BlobConfig holds the attachment object-store settings. Attachments are
// disabled when AccessKey is empty.
type BlobConfig struct {
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
}

// Enabled reports whether attachment storage is configured.
func (b BlobConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != ""
}

// AIConfig holds the reply generator settings.
type AIConfig struct {
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	WindowSeconds int    `yaml:"window_seconds"`
	MaxPerWindow  int    `yaml:"max_per_window"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	SystemNotes   bool   `yaml:"system_notes"`
	LogFailures   bool   `yaml:"log_failures"`
	Preamble      string `yaml:"preamble"`
}

// Window returns the sliding-window length for the per-ticket rate bucket.
func (a AIConfig) Window() time.Duration {
	return time.Duration(a.WindowSeconds) * time.Second
}

// Enabled reports whether a generator API key is configured.
func (a AIConfig) Enabled() bool { return a.APIKey != "" }

// EmailConfig holds inbound polling and spam filter settings.
type EmailConfig struct {
	PollingEnabled         bool   `yaml:"polling_enabled"`
	PollingIntervalSeconds int    `yaml:"polling_interval_seconds"`
	ReconcileSeconds       int    `yaml:"reconcile_seconds"`
	IMAPMaxPerHost         int    `yaml:"imap_max_per_host"`
	SMTPMaxPerAccount      int    `yaml:"smtp_max_per_account"`
	SpamFilterEnabled      bool   `yaml:"spam_filter_enabled"`
	FilterPromotions       bool   `yaml:"filter_promotions"`
	LogFiltered            bool   `yaml:"log_filtered"`
	MLClassifierEnabled    bool   `yaml:"ml_classifier_enabled"`
	SpamCorpusFile         string `yaml:"spam_corpus_file"`
	SESRegion              string `yaml:"ses_region"`
}

// PollInterval returns the per-account IMAP polling interval.
func (e EmailConfig) PollInterval() time.Duration {
	return time.Duration(e.PollingIntervalSeconds) * time.Second
}

// ReconcileInterval returns how often the poll supervisor re-reads the
// account table.
func (e EmailConfig) ReconcileInterval() time.Duration {
	return time.Duration(e.ReconcileSeconds) * time.Second
}

// RetentionConfig holds the trash purge policy.
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// RedisConfig enables the Redis-backed AI rate window when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TimeoutConfig bounds every suspending operation. Values are seconds.
type TimeoutConfig struct {
	StoreSeconds       int `yaml:"store_seconds"`
	LLMSeconds         int `yaml:"llm_seconds"`
	SMTPConnectSeconds int `yaml:"smtp_connect_seconds"`
	IMAPSeconds        int `yaml:"imap_seconds"`
	HTTPSeconds        int `yaml:"http_seconds"`
}

// Store returns the per-query store deadline.
func (t TimeoutConfig) Store() time.Duration { return time.Duration(t.StoreSeconds) * time.Second }

// LLM returns the generation call deadline.
func (t TimeoutConfig) LLM() time.Duration { return time.Duration(t.LLMSeconds) * time.Second }

// SMTPConnect returns the SMTP dial deadline.
func (t TimeoutConfig) SMTPConnect() time.Duration {
	return time.Duration(t.SMTPConnectSeconds) * time.Second
}

// IMAP returns the per-operation IMAP deadline.
func (t TimeoutConfig) IMAP() time.Duration { return time.Duration(t.IMAPSeconds) * time.Second }

// HTTP returns the outbound HTTPS deadline (providers, webhooks).
func (t TimeoutConfig) HTTP() time.Duration { return time.Duration(t.HTTPSeconds) * time.Second }

// defaults returns a Config with every tunable at its documented default.
func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{MaxOpenConns: 25, MaxIdleConns: 5},
		AI: AIConfig{
			Model:         "gpt-4o-mini",
			WindowSeconds: 60,
			MaxPerWindow:  2,
			MaxConcurrent: 8,
			SystemNotes:   true,
		},
		Email: EmailConfig{
			PollingEnabled:         true,
			PollingIntervalSeconds: 60,
			ReconcileSeconds:       30,
			IMAPMaxPerHost:         4,
			SMTPMaxPerAccount:      4,
			SpamFilterEnabled:      true,
			FilterPromotions:       true,
			LogFiltered:            false,
			MLClassifierEnabled:    false,
		},
		Retention: RetentionConfig{Days: 30},
		Timeouts: TimeoutConfig{
			StoreSeconds:       5,
			LLMSeconds:         30,
			SMTPConnectSeconds: 15,
			IMAPSeconds:        60,
			HTTPSeconds:        30,
		},
	}
}

// Load builds the configuration from the environment. A .env file is
// loaded first when present (no error if missing); CONFIG_FILE, when set,
// seeds values from YAML before the environment overrides apply.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays YAML values onto cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_BOOTSTRAP_KEY"); v != "" {
		cfg.Auth.AdminBootstrapKey = v
	}
	if v := os.Getenv("MASTER_ENCRYPTION_KEY"); v != "" {
		cfg.Secrets.MasterEncryptionKey = v
	}

	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		cfg.Blob.Bucket = v
	}
	if v := os.Getenv("BLOB_ACCESS_KEY"); v != "" {
		cfg.Blob.AccessKey = v
	}
	if v := os.Getenv("BLOB_SECRET_KEY"); v != "" {
		cfg.Blob.SecretKey = v
	}
	if v := os.Getenv("BLOB_REGION"); v != "" {
		cfg.Blob.Region = v
	}
	if v := os.Getenv("BLOB_ENDPOINT"); v != "" {
		cfg.Blob.Endpoint = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("AI_REPLY_PREAMBLE"); v != "" {
		cfg.AI.Preamble = v
	}
	cfg.AI.WindowSeconds = getEnvInt("AI_REPLY_WINDOW_SECONDS", cfg.AI.WindowSeconds)
	cfg.AI.MaxPerWindow = getEnvInt("AI_REPLY_MAX_PER_WINDOW", cfg.AI.MaxPerWindow)
	cfg.AI.MaxConcurrent = getEnvInt("AI_MAX_CONCURRENT", cfg.AI.MaxConcurrent)
	cfg.AI.SystemNotes = getEnvBool("AI_SYSTEM_NOTES", cfg.AI.SystemNotes)
	cfg.AI.LogFailures = getEnvBool("AI_LOG_FAILURES", cfg.AI.LogFailures)

	cfg.Email.PollingEnabled = getEnvBool("EMAIL_POLLING_ENABLED", cfg.Email.PollingEnabled)
	cfg.Email.PollingIntervalSeconds = getEnvInt("EMAIL_POLLING_INTERVAL", cfg.Email.PollingIntervalSeconds)
	cfg.Email.ReconcileSeconds = getEnvInt("POLLER_RECONCILE_SECONDS", cfg.Email.ReconcileSeconds)
	cfg.Email.IMAPMaxPerHost = getEnvInt("IMAP_MAX_PER_HOST", cfg.Email.IMAPMaxPerHost)
	cfg.Email.SMTPMaxPerAccount = getEnvInt("SMTP_MAX_PER_ACCOUNT", cfg.Email.SMTPMaxPerAccount)
	cfg.Email.SpamFilterEnabled = getEnvBool("EMAIL_SPAM_FILTER_ENABLED", cfg.Email.SpamFilterEnabled)
	cfg.Email.FilterPromotions = getEnvBool("EMAIL_FILTER_PROMOTIONS", cfg.Email.FilterPromotions)
	cfg.Email.LogFiltered = getEnvBool("EMAIL_LOG_FILTERED", cfg.Email.LogFiltered)
	cfg.Email.MLClassifierEnabled = getEnvBool("EMAIL_ML_CLASSIFIER_ENABLED", cfg.Email.MLClassifierEnabled)
	if v := os.Getenv("EMAIL_SPAM_CORPUS"); v != "" {
		cfg.Email.SpamCorpusFile = v
	}
	if v := os.Getenv("SES_REGION"); v != "" {
		cfg.Email.SESRegion = v
	}

	cfg.Retention.Days = getEnvInt("RETENTION_DAYS", cfg.Retention.Days)

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	cfg.Timeouts.StoreSeconds = getEnvInt("STORE_TIMEOUT_SECONDS", cfg.Timeouts.StoreSeconds)
	cfg.Timeouts.LLMSeconds = getEnvInt("LLM_TIMEOUT_SECONDS", cfg.Timeouts.LLMSeconds)
	cfg.Timeouts.SMTPConnectSeconds = getEnvInt("SMTP_CONNECT_TIMEOUT_SECONDS", cfg.Timeouts.SMTPConnectSeconds)
	cfg.Timeouts.IMAPSeconds = getEnvInt("IMAP_TIMEOUT_SECONDS", cfg.Timeouts.IMAPSeconds)
	cfg.Timeouts.HTTPSeconds = getEnvInt("HTTP_TIMEOUT_SECONDS", cfg.Timeouts.HTTPSeconds)
}

// Validate checks the required keys. Attachment and AI settings are
// optional features and validate lazily at their call sites.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Secrets.MasterEncryptionKey == "" {
		return fmt.Errorf("MASTER_ENCRYPTION_KEY is required")
	}
	if c.AI.MaxPerWindow < 1 {
		return fmt.Errorf("AI_REPLY_MAX_PER_WINDOW must be >= 1")
	}
	if c.AI.WindowSeconds < 1 {
		return fmt.Errorf("AI_REPLY_WINDOW_SECONDS must be >= 1")
	}
	if c.Email.PollingIntervalSeconds < 1 {
		return fmt.Errorf("EMAIL_POLLING_INTERVAL must be >= 1")
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("RETENTION_DAYS must be >= 1")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
