package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("SWEEP_CRON", "")
	t.Setenv("PORT", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DBTypeMemory, cfg.Database.Type)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DefaultSweepCron, cfg.SweepCron)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 256, cfg.Websocket.SendBuffer)
	assert.Empty(t, cfg.Warnings)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("MONGODB_TRANSACTIONS", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_CRON", "*/5 * * * *")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("WS_RATE_LIMIT", "2.5")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Database.RequireTransactions)
	assert.Equal(t, "*/5 * * * *", cfg.SweepCron)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.Websocket.RateLimit)
	assert.True(t, cfg.Redis.Enabled)
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("PORT", "not-a-port")
	t.Setenv("SWEEP_CRON", "every minute please")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DefaultSweepCron, cfg.SweepCron)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "SWEEP_CRON")
}

func TestFromEnvMongoRequiresURI(t *testing.T) {
	t.Setenv("DB_TYPE", "mongo")
	t.Setenv("MONGODB_URI", "")

	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("DB_TYPE", "postgres")
	_, err = FromEnv()
	assert.Error(t, err)
}
