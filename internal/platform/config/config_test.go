package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Parse(env.Options{Environment: map[string]string{"REDIS_URL": "redis://cache:6379/0"}})
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, ":8282", cfg.Server.PIPAddr)
		assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
		assert.Equal(t, "app", cfg.OPA.DataPath)
		assert.Equal(t, "authz", cfg.OPA.Query)
		assert.Equal(t, 30*time.Second, cfg.OPA.Timeout)
		assert.Equal(t, "http://localhost:8181", cfg.OPA.BaseURL())
		assert.Equal(t, 120*time.Second, cfg.TxCache.TTL)
		assert.Equal(t, CacheBackendRedis, cfg.TxCache.Backend)
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := Parse(env.Options{Environment: map[string]string{
			"OPA_HOST":      "opa",
			"OPA_PORT":      "9191",
			"OPA_EXPLAIN":   "full",
			"OPA_PRETTY":    "true",
			"REDIS_URL":     "redis://cache:6379/0",
			"TXCACHE_TTL":   "45s",
			"KAFKA_BROKERS": "k1:9092,k2:9092",
		}})
		require.NoError(t, err)

		assert.Equal(t, "http://opa:9191", cfg.OPA.BaseURL())
		assert.Equal(t, "full", cfg.OPA.Explain)
		assert.True(t, cfg.OPA.Pretty)
		assert.Equal(t, CacheBackendRedis, cfg.TxCache.Backend)
		assert.Equal(t, 45*time.Second, cfg.TxCache.TTL)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	})

	t.Run("redis backend requires a url", func(t *testing.T) {
		_, err := Parse(env.Options{Environment: map[string]string{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REDIS_URL")
	})

	t.Run("memory backend runs without redis", func(t *testing.T) {
		cfg, err := Parse(env.Options{Environment: map[string]string{"TXCACHE_BACKEND": "memory"}})
		require.NoError(t, err)
		assert.Equal(t, CacheBackendMemory, cfg.TxCache.Backend)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, err := Parse(env.Options{Environment: map[string]string{"TXCACHE_BACKEND": "memory", "TXCACHE_TTL": "0s"}})
		require.Error(t, err)
	})

	t.Run("rejects unknown backend", func(t *testing.T) {
		_, err := Parse(env.Options{Environment: map[string]string{"TXCACHE_BACKEND": "mongo"}})
		require.Error(t, err)
	})
}
