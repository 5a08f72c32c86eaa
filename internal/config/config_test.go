package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Address())
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 50, cfg.Sync.GPSQueueCapacity)
	assert.Equal(t, 2*time.Second, cfg.Sync.BackoffBase)
	assert.Equal(t, time.Minute, cfg.Sync.BackoffMax)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.MaxAge)
	assert.Equal(t, 2*time.Second, cfg.Sync.SettleDelay)
	assert.Equal(t, 30*time.Second, cfg.Sync.ConnectivityInterval)
	assert.Equal(t, 20*time.Second, cfg.Sync.GPSCheckInterval)
	assert.Equal(t, 2, cfg.Sync.OfflineThreshold)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_TYPE", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SYNC_BATCH_SIZE", "4")
	t.Setenv("API_KEYS", "a,b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "localhost:6380", cfg.Store.RedisAddress())
	assert.Equal(t, 4, cfg.Sync.BatchSize)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.APIKeys)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("SYNC_MAX_RETRIES", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_MAX_RETRIES")
}

func TestDSNs(t *testing.T) {
	c := StoreConfig{Host: "db", Name: "fs", User: "u", Password: "p", SSLMode: "disable"}

	assert.Equal(t, "u:p@tcp(db:3306)/fs?parseTime=true", c.MySQLDSN())
	assert.Equal(t, "postgres://u:p@db:5432/fs?sslmode=disable", c.PostgresDSN())
}
