// Package config handles Muninn configuration from a YAML file and
// environment variables.
//
// Precedence, lowest to highest: built-in defaults, the YAML file (when a
// path is given), then MUNINN_* environment variables. Env overrides exist
// so a deployment can tweak one knob without materializing a whole config
// file.
//
// Example Usage:
//
//	cfg, err := config.Load("muninn.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Printf("Starting with %s\n", cfg)
//
// Environment Variables:
//   - MUNINN_DATA_DIR="./data"
//   - MUNINN_SNAPSHOT_PATH="./data/concepts.json"
//   - MUNINN_SNAPSHOT_INTERVAL=10m
//   - MUNINN_SIMILARITY_THRESHOLD=0.7
//   - MUNINN_DECAY_RATE=0.1
//   - MUNINN_DECAY_RECALC_INTERVAL=1h
//   - MUNINN_MEMORY_THRESHOLD=0.6
//   - MUNINN_MIN_REVIEW_INTERVAL=1h
//   - MUNINN_MAX_REVIEW_INTERVAL=2160h
//   - MUNINN_REMINDER_COOLDOWN=2h
//   - MUNINN_MAX_NOTIFICATIONS_PER_RUN=3
//   - MUNINN_REMINDER_POLL_INTERVAL=5m
//   - MUNINN_RETENTION_MAX_AGE=4320h
//   - MUNINN_EMBEDDING_PROVIDER="ollama", "openai" or "none"
//   - MUNINN_EMBEDDING_API_URL="http://localhost:11434"
//   - MUNINN_EMBEDDING_API_KEY
//   - MUNINN_EMBEDDING_MODEL="mxbai-embed-large"
//   - MUNINN_HTTP_ENABLED=true
//   - MUNINN_HTTP_ADDRESS="127.0.0.1"
//   - MUNINN_HTTP_PORT=7600
//   - MUNINN_AUTH_USERNAME / MUNINN_AUTH_PASSWORD_HASH (bcrypt)
//
// For the complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/ingest"
	"github.com/orneryd/muninn/pkg/remind"
	"github.com/orneryd/muninn/pkg/retention"
	"github.com/orneryd/muninn/pkg/sm2"
)

// Duration wraps time.Duration so YAML values can be written as "2h" or
// "90m" instead of nanosecond integers.
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or a plain number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		if secs, serr := strconv.Atoi(raw); serr == nil {
			*d = Duration(time.Duration(secs) * time.Second)
			return nil
		}
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all Muninn configuration.
type Config struct {
	// Database: persistence locations and cadence
	Database DatabaseConfig `yaml:"database"`

	// Memory: decay model and similarity linking
	Memory MemoryConfig `yaml:"memory"`

	// Scheduler: SM-2 tunables and signal weights
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Reminder: due-concept polling and rate limits
	Reminder ReminderConfig `yaml:"reminder"`

	// Retention: concept garbage collection
	Retention RetentionConfig `yaml:"retention"`

	// Embedding: similarity provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Server: HTTP API
	Server ServerConfig `yaml:"server"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// DataDir is the badger directory. Empty runs fully in memory.
	DataDir string `yaml:"data_dir"`
	// SnapshotPath is where the JSON graph snapshot is written.
	SnapshotPath string `yaml:"snapshot_path"`
	// SnapshotInterval between periodic snapshots. Zero disables them
	// (shutdown still snapshots).
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

// MemoryConfig holds decay model settings.
type MemoryConfig struct {
	// DecayRate is the per-hour forgetting rate (lambda).
	DecayRate float64 `yaml:"decay_rate"`
	// RecalculateInterval between background score recalculations.
	RecalculateInterval Duration `yaml:"recalculate_interval"`
	// SimilarityThreshold above which co-observed concepts are linked.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// MemoryThreshold under which a concept counts as forgotten.
	MemoryThreshold float64 `yaml:"memory_threshold"`
}

// SchedulerConfig holds SM-2 settings and the signal blend.
type SchedulerConfig struct {
	MinEase           float64  `yaml:"min_ease"`
	InitialEase       float64  `yaml:"initial_ease"`
	MinReviewInterval Duration `yaml:"min_review_interval"`
	MaxReviewInterval Duration `yaml:"max_review_interval"`

	// Weights blends OCR/audio/attention into review quality. Hand-tuned
	// defaults; adjust freely.
	Weights sm2.Weights `yaml:"weights"`
}

// ReminderConfig holds reminder engine settings.
type ReminderConfig struct {
	Cooldown     Duration `yaml:"cooldown"`
	MaxPerRun    int      `yaml:"max_per_run"`
	PollInterval Duration `yaml:"poll_interval"`
}

// RetentionConfig holds concept GC settings.
type RetentionConfig struct {
	MaxAge               Duration `yaml:"max_age"`
	Indefinite           bool     `yaml:"indefinite"`
	KeepAboveScore       float64  `yaml:"keep_above_score"`
	KeepRecentlyReminded Duration `yaml:"keep_recently_reminded"`
	SweepInterval        Duration `yaml:"sweep_interval"`
}

// EmbeddingConfig holds similarity provider settings.
type EmbeddingConfig struct {
	Provider   string   `yaml:"provider"`
	APIURL     string   `yaml:"api_url"`
	APIPath    string   `yaml:"api_path"`
	APIKey     string   `yaml:"api_key"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	Timeout    Duration `yaml:"timeout"`
	CacheSize  int      `yaml:"cache_size"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// AuthUsername/AuthPasswordHash enable basic auth when both are set.
	// The hash is bcrypt, never a plaintext password.
	AuthUsername     string `yaml:"auth_username"`
	AuthPasswordHash string `yaml:"auth_password_hash"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:          "./data",
			SnapshotPath:     "./data/concepts.json",
			SnapshotInterval: Duration(10 * time.Minute),
		},
		Memory: MemoryConfig{
			DecayRate:           0.1,
			RecalculateInterval: Duration(time.Hour),
			SimilarityThreshold: 0.7,
			MemoryThreshold:     0.6,
		},
		Scheduler: SchedulerConfig{
			MinEase:           1.3,
			InitialEase:       2.5,
			MinReviewInterval: Duration(time.Hour),
			MaxReviewInterval: Duration(90 * 24 * time.Hour),
			Weights:           *sm2.DefaultWeights(),
		},
		Reminder: ReminderConfig{
			Cooldown:     Duration(2 * time.Hour),
			MaxPerRun:    3,
			PollInterval: Duration(5 * time.Minute),
		},
		Retention: RetentionConfig{
			MaxAge:               Duration(180 * 24 * time.Hour),
			KeepAboveScore:       0.8,
			KeepRecentlyReminded: Duration(30 * 24 * time.Hour),
			SweepInterval:        Duration(24 * time.Hour),
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			APIURL:     "http://localhost:11434",
			APIPath:    "/api/embeddings",
			Model:      "mxbai-embed-large",
			Dimensions: 1024,
			Timeout:    Duration(30 * time.Second),
			CacheSize:  4096,
		},
		Server: ServerConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    7600,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then MUNINN_* env overrides, then
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults and environment only.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.Database.DataDir = getEnv("MUNINN_DATA_DIR", c.Database.DataDir)
	c.Database.SnapshotPath = getEnv("MUNINN_SNAPSHOT_PATH", c.Database.SnapshotPath)
	c.Database.SnapshotInterval = getEnvDuration("MUNINN_SNAPSHOT_INTERVAL", c.Database.SnapshotInterval)

	c.Memory.DecayRate = getEnvFloat("MUNINN_DECAY_RATE", c.Memory.DecayRate)
	c.Memory.RecalculateInterval = getEnvDuration("MUNINN_DECAY_RECALC_INTERVAL", c.Memory.RecalculateInterval)
	c.Memory.SimilarityThreshold = getEnvFloat("MUNINN_SIMILARITY_THRESHOLD", c.Memory.SimilarityThreshold)
	c.Memory.MemoryThreshold = getEnvFloat("MUNINN_MEMORY_THRESHOLD", c.Memory.MemoryThreshold)

	c.Scheduler.MinEase = getEnvFloat("MUNINN_MIN_EASE", c.Scheduler.MinEase)
	c.Scheduler.InitialEase = getEnvFloat("MUNINN_INITIAL_EASE", c.Scheduler.InitialEase)
	c.Scheduler.MinReviewInterval = getEnvDuration("MUNINN_MIN_REVIEW_INTERVAL", c.Scheduler.MinReviewInterval)
	c.Scheduler.MaxReviewInterval = getEnvDuration("MUNINN_MAX_REVIEW_INTERVAL", c.Scheduler.MaxReviewInterval)

	c.Reminder.Cooldown = getEnvDuration("MUNINN_REMINDER_COOLDOWN", c.Reminder.Cooldown)
	c.Reminder.MaxPerRun = getEnvInt("MUNINN_MAX_NOTIFICATIONS_PER_RUN", c.Reminder.MaxPerRun)
	c.Reminder.PollInterval = getEnvDuration("MUNINN_REMINDER_POLL_INTERVAL", c.Reminder.PollInterval)

	c.Retention.MaxAge = getEnvDuration("MUNINN_RETENTION_MAX_AGE", c.Retention.MaxAge)
	c.Retention.Indefinite = getEnvBool("MUNINN_RETENTION_INDEFINITE", c.Retention.Indefinite)
	c.Retention.SweepInterval = getEnvDuration("MUNINN_RETENTION_SWEEP_INTERVAL", c.Retention.SweepInterval)

	c.Embedding.Provider = getEnv("MUNINN_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.APIURL = getEnv("MUNINN_EMBEDDING_API_URL", c.Embedding.APIURL)
	c.Embedding.APIPath = getEnv("MUNINN_EMBEDDING_API_PATH", c.Embedding.APIPath)
	c.Embedding.APIKey = getEnv("MUNINN_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getEnv("MUNINN_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("MUNINN_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.Timeout = getEnvDuration("MUNINN_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.CacheSize = getEnvInt("MUNINN_EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Server.Enabled = getEnvBool("MUNINN_HTTP_ENABLED", c.Server.Enabled)
	c.Server.Address = getEnv("MUNINN_HTTP_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("MUNINN_HTTP_PORT", c.Server.Port)
	c.Server.AuthUsername = getEnv("MUNINN_AUTH_USERNAME", c.Server.AuthUsername)
	c.Server.AuthPasswordHash = getEnv("MUNINN_AUTH_PASSWORD_HASH", c.Server.AuthPasswordHash)
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1]: %f", c.Memory.SimilarityThreshold)
	}
	if c.Memory.MemoryThreshold < 0 || c.Memory.MemoryThreshold > 1 {
		return fmt.Errorf("memory threshold must be in [0,1]: %f", c.Memory.MemoryThreshold)
	}
	if c.Memory.DecayRate < 0 {
		return fmt.Errorf("decay rate must be non-negative: %f", c.Memory.DecayRate)
	}
	if c.Scheduler.MinEase <= 0 {
		return fmt.Errorf("min ease must be positive: %f", c.Scheduler.MinEase)
	}
	if c.Scheduler.InitialEase < c.Scheduler.MinEase {
		return fmt.Errorf("initial ease %f below min ease %f", c.Scheduler.InitialEase, c.Scheduler.MinEase)
	}
	if c.Scheduler.MinReviewInterval.Std() <= 0 {
		return fmt.Errorf("min review interval must be positive")
	}
	if c.Scheduler.MaxReviewInterval.Std() < c.Scheduler.MinReviewInterval.Std() {
		return fmt.Errorf("max review interval below min review interval")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}
	if (c.Server.AuthUsername == "") != (c.Server.AuthPasswordHash == "") {
		return fmt.Errorf("auth username and password hash must be set together")
	}
	return nil
}

// String returns a safe representation for logging. API keys and password
// hashes are omitted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, HTTP: %s:%d, Embedding: %s/%s, DecayRate: %.3f}",
		c.Database.DataDir,
		c.Server.Address, c.Server.Port,
		c.Embedding.Provider, c.Embedding.Model,
		c.Memory.DecayRate,
	)
}

// EmbedConfig converts the embedding section into the embed package's
// config. Returns nil when the provider is disabled.
func (c *Config) EmbedConfig() *embed.Config {
	if c.Embedding.Provider == "none" || c.Embedding.Provider == "" {
		return nil
	}
	return &embed.Config{
		Provider:   c.Embedding.Provider,
		APIURL:     c.Embedding.APIURL,
		APIPath:    c.Embedding.APIPath,
		APIKey:     c.Embedding.APIKey,
		Model:      c.Embedding.Model,
		Dimensions: c.Embedding.Dimensions,
		Timeout:    c.Embedding.Timeout.Std(),
	}
}

// SchedulerSM2 converts the scheduler section into sm2's config.
func (c *Config) SchedulerSM2() *sm2.Config {
	return &sm2.Config{
		MinEase:           c.Scheduler.MinEase,
		InitialEase:       c.Scheduler.InitialEase,
		MinReviewInterval: c.Scheduler.MinReviewInterval.Std(),
		MaxReviewInterval: c.Scheduler.MaxReviewInterval.Std(),
		MemoryThreshold:   c.Memory.MemoryThreshold,
	}
}

// IngestConfig assembles the ingestion adapter's config.
func (c *Config) IngestConfig() ingest.Config {
	weights := c.Scheduler.Weights
	return ingest.Config{
		DecayRate: c.Memory.DecayRate,
		Scheduler: c.SchedulerSM2(),
		Weights:   &weights,
	}
}

// RemindConfig assembles the reminder engine's config.
func (c *Config) RemindConfig() remind.Config {
	return remind.Config{
		MemoryThreshold: c.Memory.MemoryThreshold,
		Cooldown:        c.Reminder.Cooldown.Std(),
		MaxPerRun:       c.Reminder.MaxPerRun,
		PollInterval:    c.Reminder.PollInterval.Std(),
	}
}

// RetentionPolicy assembles the retention sweep policy.
func (c *Config) RetentionPolicy() retention.Policy {
	return retention.Policy{
		MaxAge:               c.Retention.MaxAge.Std(),
		Indefinite:           c.Retention.Indefinite,
		KeepAboveScore:       c.Retention.KeepAboveScore,
		KeepRecentlyReminded: c.Retention.KeepRecentlyReminded.Std(),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal Duration) Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return Duration(d)
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return Duration(time.Duration(secs) * time.Second)
		}
	}
	return defaultVal
}
