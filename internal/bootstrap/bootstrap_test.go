package bootstrap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authzen/internal/audit"
	"authzen/internal/platform/config"
	"authzen/internal/txcache"
)

func TestOpenInMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		TxCache: config.TxCache{Backend: config.CacheBackendMemory, TTL: time.Minute},
	}

	res, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, res.Close()) })

	assert.Nil(t, res.DB)
	assert.Nil(t, res.Redis)
	require.NotNil(t, res.Stores)
	assert.IsType(t, &txcache.Memory{}, res.Cache)
	assert.Empty(t, res.Checks())
}

func TestOpenRedisBackendRequiresURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		TxCache: config.TxCache{Backend: config.CacheBackendRedis, TTL: time.Minute},
	}

	_, err := Open(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestAuditorDefaultsToLog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue, closeSink, err := Auditor(config.Kafka{}, logger)
	require.NoError(t, err)
	require.NotNil(t, queue)
	closeSink()
}

func TestRunAuditorLogsExit(t *testing.T) {
	tests := []struct {
		name  string
		ctx   func() (context.Context, context.CancelFunc)
		level string
	}{
		{
			name:  "shutdown",
			ctx:   func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			level: "level=INFO",
		},
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), time.Millisecond)
			},
			level: "level=ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			sink := audit.NewMemory()
			queue := audit.NewQueue(sink, 4, logger)

			require.NoError(t, queue.Emit(context.Background(), audit.Event{Action: audit.ActionDecisionMade}))
			ctx, cancel := tt.ctx()
			defer cancel()
			done := RunAuditor(ctx, queue, logger)
			if tt.name == "shutdown" {
				cancel()
			}

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("audit worker did not stop")
			}
			assert.Len(t, sink.Events(), 1, "buffered events are flushed before exit")
			assert.Contains(t, buf.String(), "audit worker stopped")
			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
