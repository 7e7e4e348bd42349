// Package authz composes the decision engine, storage and the transaction
// cache: decide, act only when allowed, then record the result in the
// overlay of the caller's transaction.
package authz

import (
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"authzen/internal/audit"
	"authzen/internal/decision"
	"authzen/internal/txcache"
)

// DefaultCacheWriteTimeout bounds the detached overlay write.
const DefaultCacheWriteTimeout = 5 * time.Second

// Authorizer holds the shared handles. It is safe for concurrent use.
type Authorizer struct {
	decider           decision.Maker
	cache             txcache.Store
	logger            *slog.Logger
	metrics           *Metrics
	auditor           audit.Emitter
	cacheWriteTimeout time.Duration
	tracer            trace.Tracer
}

// Option configures an Authorizer.
type Option func(*Authorizer)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Authorizer) { a.metrics = m }
}

// WithAuditor sends one decision_made event per check to e.
func WithAuditor(e audit.Emitter) Option {
	return func(a *Authorizer) {
		if e != nil {
			a.auditor = e
		}
	}
}

func WithCacheWriteTimeout(d time.Duration) Option {
	return func(a *Authorizer) {
		if d > 0 {
			a.cacheWriteTimeout = d
		}
	}
}

// New constructs an Authorizer.
func New(decider decision.Maker, cache txcache.Store, opts ...Option) *Authorizer {
	a := &Authorizer{
		decider:           decider,
		cache:             cache,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		auditor:           audit.Nop{},
		cacheWriteTimeout: DefaultCacheWriteTimeout,
		tracer:            otel.Tracer("authzen/internal/authz"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Cache exposes the overlay store for reads and explicit cleanup.
func (a *Authorizer) Cache() txcache.Store {
	return a.cache
}
