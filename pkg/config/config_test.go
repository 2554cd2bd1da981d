package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.7, cfg.Memory.SimilarityThreshold)
	assert.Equal(t, 0.6, cfg.Memory.MemoryThreshold)
	assert.Equal(t, 0.1, cfg.Memory.DecayRate)
	assert.Equal(t, 1.3, cfg.Scheduler.MinEase)
	assert.Equal(t, 2.5, cfg.Scheduler.InitialEase)
	assert.Equal(t, 2*time.Hour, cfg.Reminder.Cooldown.Std())
	assert.Equal(t, 3, cfg.Reminder.MaxPerRun)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muninn.yaml")
	yamlData := `
memory:
  decay_rate: 0.25
  memory_threshold: 0.5
reminder:
  cooldown: 45m
  max_per_run: 10
embedding:
  provider: none
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.Memory.DecayRate)
	assert.Equal(t, 0.5, cfg.Memory.MemoryThreshold)
	assert.Equal(t, 45*time.Minute, cfg.Reminder.Cooldown.Std())
	assert.Equal(t, 10, cfg.Reminder.MaxPerRun)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.7, cfg.Memory.SimilarityThreshold)
	assert.Equal(t, 2.5, cfg.Scheduler.InitialEase)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/muninn.yaml")
	assert.Error(t, err)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muninn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  decay_rate: 0.25\n"), 0644))

	t.Setenv("MUNINN_DECAY_RATE", "0.5")
	t.Setenv("MUNINN_REMINDER_COOLDOWN", "90m")
	t.Setenv("MUNINN_HTTP_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Memory.DecayRate)
	assert.Equal(t, 90*time.Minute, cfg.Reminder.Cooldown.Std())
	assert.False(t, cfg.Server.Enabled)
}

func TestEnvDurationAcceptsPlainSeconds(t *testing.T) {
	t.Setenv("MUNINN_REMINDER_COOLDOWN", "7200")
	cfg := LoadFromEnv()
	assert.Equal(t, 2*time.Hour, cfg.Reminder.Cooldown.Std())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"similarity threshold above 1", func(c *Config) { c.Memory.SimilarityThreshold = 1.5 }},
		{"negative decay rate", func(c *Config) { c.Memory.DecayRate = -0.1 }},
		{"zero min ease", func(c *Config) { c.Scheduler.MinEase = 0 }},
		{"initial ease below min", func(c *Config) { c.Scheduler.InitialEase = 1.0 }},
		{"max interval below min", func(c *Config) {
			c.Scheduler.MaxReviewInterval = Duration(time.Minute)
		}},
		{"auth username without hash", func(c *Config) { c.Server.AuthUsername = "odin" }},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()

	sm2cfg := cfg.SchedulerSM2()
	assert.Equal(t, 1.3, sm2cfg.MinEase)
	assert.Equal(t, 0.6, sm2cfg.MemoryThreshold)
	assert.Equal(t, time.Hour, sm2cfg.MinReviewInterval)

	ic := cfg.IngestConfig()
	assert.Equal(t, 0.1, ic.DecayRate)
	assert.Equal(t, 0.4, ic.Weights.OCR)

	rc := cfg.RemindConfig()
	assert.Equal(t, 2*time.Hour, rc.Cooldown)

	rp := cfg.RetentionPolicy()
	assert.Equal(t, 180*24*time.Hour, rp.MaxAge)

	ec := cfg.EmbedConfig()
	require.NotNil(t, ec)
	assert.Equal(t, "ollama", ec.Provider)

	cfg.Embedding.Provider = "none"
	assert.Nil(t, cfg.EmbedConfig())
}

func TestStringOmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Embedding.APIKey = "sk-secret"
	cfg.Server.AuthPasswordHash = "$2a$10$hash"
	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.NotContains(t, s, "$2a$10$hash")
}
