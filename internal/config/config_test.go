package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"BUGTRACK_AUTH_SECRET": "s3cret",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMongo, cfg.Store)
	assert.Equal(t, "bugtracker", cfg.MongoDB)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Hour, cfg.CookieMaxAge)
	assert.Equal(t, 10, cfg.HashCost)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.InDelta(t, 10.0, cfg.RateLimitPerSec, 0.0001)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"BUGTRACK_STORE":               "Postgres",
		"BUGTRACK_PG_DSN":              "postgres://localhost/bugs",
		"BUGTRACK_AUTH_SECRET":         "s3cret",
		"BUGTRACK_AUTH_TOKEN_TTL":      "15m",
		"BUGTRACK_AUTH_COOKIE_MAX_AGE": "2h",
		"BUGTRACK_HASH_COST":           "12",
		"BUGTRACK_CORS_ORIGINS":        "https://a.example, https://b.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 2*time.Hour, cfg.CookieMaxAge)
	assert.Equal(t, 12, cfg.HashCost)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadReportsEveryInvalidValue(t *testing.T) {
	_, err := LoadFrom(envMap(map[string]string{
		"BUGTRACK_STORE":          "postgres",
		"BUGTRACK_AUTH_TOKEN_TTL": "soon",
		"BUGTRACK_HASH_COST":      "99",
	}))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"AUTH_TOKEN_TTL", "HASH_COST", "PG_DSN", "AUTH_SECRET"} {
		assert.Contains(t, msg, want)
	}
}

func TestMemoryStoreDoesNotNeedSecret(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{"BUGTRACK_STORE": "memory"}))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
}
