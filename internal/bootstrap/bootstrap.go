// Package bootstrap opens the shared resources of the api and pip binaries
// from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"authzen/internal/audit"
	"authzen/internal/cart/store"
	"authzen/internal/platform/config"
	"authzen/internal/platform/health"
	"authzen/internal/platform/postgres"
	platformredis "authzen/internal/platform/redis"
	"authzen/internal/txcache"
	txcacheredis "authzen/internal/txcache/redis"
)

// auditQueueSize bounds decision events waiting for the sink.
const auditQueueSize = 1024

// Resources are the opened backends. Close releases them.
type Resources struct {
	DB     *sql.DB
	Redis  *platformredis.Client
	Stores *store.Stores
	Cache  txcache.Store

	checks  map[string]health.Check
	closers []func() error
}

// Open connects storage and the transaction cache. Without DATABASE_URL the
// cart stores live in memory; without a redis backend so does the cache.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Resources, error) {
	res := &Resources{checks: make(map[string]health.Check)}

	if err := res.openStorage(ctx, cfg.Database, logger); err != nil {
		_ = res.Close()
		return nil, err
	}
	if err := res.openCache(ctx, cfg, logger); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

func (r *Resources) openStorage(ctx context.Context, cfg config.Database, logger *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if db == nil {
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory storage")
		r.Stores = store.NewMemory()
		return nil
	}
	r.DB = db
	r.closers = append(r.closers, db.Close)
	r.checks["database"] = db.PingContext

	if cfg.Migrate {
		if err := postgres.Migrate(cfg.URL, store.Migrations, store.MigrationsDir); err != nil {
			return err
		}
		logger.InfoContext(ctx, "database migrations applied")
	}
	r.Stores, err = store.NewPostgres(db)
	return err
}

func (r *Resources) openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.TxCache.Backend == config.CacheBackendMemory {
		logger.WarnContext(ctx, "transaction cache is process-local", "backend", config.CacheBackendMemory)
		r.Cache = txcache.NewMemory(txcache.WithTTL(cfg.TxCache.TTL))
		return nil
	}
	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("transaction cache backend %q requires REDIS_URL", cfg.TxCache.Backend)
	}
	r.Redis = client
	r.closers = append(r.closers, client.Close)
	r.checks["redis"] = client.Health
	r.Cache = txcacheredis.New(client.Client, txcacheredis.WithTTL(cfg.TxCache.TTL))
	return nil
}

// Checks returns the health checks of the opened backends.
func (r *Resources) Checks() map[string]health.Check {
	out := make(map[string]health.Check, len(r.checks))
	for name, check := range r.checks {
		out[name] = check
	}
	return out
}

// Close releases every opened backend in reverse order.
func (r *Resources) Close() error {
	var result *multierror.Error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.closers = nil
	return result.ErrorOrNil()
}

// Auditor builds the decision audit pipeline: a non-blocking queue in front
// of Kafka when brokers are configured, or the log otherwise. Run the
// returned queue until shutdown; call closeSink after it returns.
func Auditor(cfg config.Kafka, logger *slog.Logger) (queue *audit.Queue, closeSink func(), err error) {
	if len(cfg.Brokers) == 0 {
		return audit.NewQueue(audit.NewLogEmitter(logger), auditQueueSize, logger), func() {}, nil
	}
	client, err := audit.NewKafkaClient(cfg.Brokers, cfg.AuditTopic)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing decision audit events to kafka", "topic", cfg.AuditTopic, "brokers", cfg.Brokers)
	return audit.NewQueue(audit.NewKafkaEmitter(client, cfg.AuditTopic), auditQueueSize, logger), client.Close, nil
}

// RunAuditor runs queue until ctx ends and logs how the worker exited. The
// returned channel closes once buffered events have been flushed.
func RunAuditor(ctx context.Context, queue *audit.Queue, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := queue.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("audit worker stopped", "error", err)
			return
		}
		logger.Info("audit worker stopped")
	}()
	return done
}
