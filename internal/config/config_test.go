package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CONTEST_LEADERBOARD_SIZE", "")

	cfg := Load()

	assert.Equal(t, ":3001", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Contest.LeaderboardSize)
	assert.Equal(t, 50, cfg.Contest.MaxBatch)
	assert.Equal(t, "Contestant", cfg.Contest.DefaultName)
	assert.Equal(t, LockLocal, cfg.Redis.LockBackend)
	assert.False(t, cfg.Kafka.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "file::memory:?cache=shared")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.0001)
	assert.Len(t, cfg.Server.CORSOrigins, 2)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CONTEST_MAX_BATCH", "lots")
	t.Setenv("LOCK_TTL", "forever")

	cfg := Load()

	assert.Equal(t, 50, cfg.Contest.MaxBatch)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unknown DB_DRIVER"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "DB_DSN"},
		{"badger path", func(c *Config) { c.Database.Driver = DriverBadger; c.Database.BadgerPath = "" }, "BADGER_PATH"},
		{"redis lock without redis", func(c *Config) { c.Redis.LockBackend = LockRedis; c.Redis.Enabled = false }, "LOCK_BACKEND"},
		{"zero leaderboard", func(c *Config) { c.Contest.LeaderboardSize = 0 }, "CONTEST_LEADERBOARD_SIZE"},
		{"zero batch", func(c *Config) { c.Contest.MaxBatch = 0 }, "CONTEST_MAX_BATCH"},
		{"zero session length", func(c *Config) { c.Contest.MaxSessionLength = 0 }, "CONTEST_MAX_SESSION_LENGTH"},
		{"oversized session length", func(c *Config) { c.Contest.MaxSessionLength = 70000 }, "CONTEST_MAX_SESSION_LENGTH"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "KAFKA_BROKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
