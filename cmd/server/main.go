package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"authzen/internal/authz"
	"authzen/internal/bootstrap"
	carthandler "authzen/internal/cart/handler"
	cartservice "authzen/internal/cart/service"
	decisionmetrics "authzen/internal/decision/metrics"
	"authzen/internal/decision/opa"
	"authzen/internal/platform/config"
	"authzen/internal/platform/health"
	"authzen/internal/platform/httpserver"
	"authzen/internal/platform/logger"
	"authzen/internal/platform/metrics"
	"authzen/pkg/platform/middleware/requestscope"
)

// main wires the cart API: storage, the transaction cache, the policy
// engine and the decision audit stream behind one authorizer.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authzen api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Error("failed to close resources", "error", err)
		}
	}()

	auditQueue, closeSink, err := bootstrap.Auditor(cfg.Kafka, log)
	if err != nil {
		return err
	}
	auditDone := bootstrap.RunAuditor(ctx, auditQueue, log)
	defer func() {
		cancel()
		<-auditDone
		closeSink()
	}()

	engine := opa.NewFromConfig(cfg.OPA,
		opa.WithLogger(log),
		opa.WithMetrics(decisionmetrics.New(nil)),
	)
	authorizer := authz.New(engine, res.Cache,
		authz.WithLogger(log),
		authz.WithMetrics(authz.NewMetrics(nil)),
		authz.WithAuditor(auditQueue),
		authz.WithCacheWriteTimeout(cfg.TxCache.WriteTimeout),
	)
	svc := cartservice.New(authorizer, res.Stores, cartservice.WithLogger(log))

	checks := res.Checks()
	checks["engine"] = engine.Health

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestscope.RequestID)
	r.Use(requestscope.RequestTime)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.NewHTTP("api").Middleware)
	r.Get("/health", health.Handler(log, checks))
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		r.Use(chimw.Throttle(cfg.Server.ConcurrencyLimit))
		carthandler.New(svc, log).Register(r)
	})

	return httpserver.Run(httpserver.New(cfg.Server.Addr, r), log, "authzen-api")
}
