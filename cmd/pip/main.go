package main

import (
	"context"
	"fmt"
	"os"

	"authzen/internal/bootstrap"
	"authzen/internal/decision/opa"
	"authzen/internal/pip"
	"authzen/internal/platform/config"
	"authzen/internal/platform/httpserver"
	"authzen/internal/platform/logger"
	"authzen/internal/platform/metrics"
)

// main serves the policy information point the engine calls back into.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authzen pip: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	res, err := bootstrap.Open(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Error("failed to close resources", "error", err)
		}
	}()

	svc := pip.NewService(res.Cache,
		pip.WithLogger(log),
		pip.WithMetrics(pip.NewMetrics(nil)),
	)
	res.Stores.RegisterPIP(svc)
	for _, object := range svc.Objects() {
		log.Info("pip object registered", "object", object.String())
	}

	checks := res.Checks()
	checks["engine"] = opa.NewFromConfig(cfg.OPA, opa.WithLogger(log)).Health

	router := pip.NewRouter(pip.NewHandler(svc, log, checks), metrics.NewHTTP("pip"))
	return httpserver.Run(httpserver.New(cfg.Server.PIPAddr, router), log, "authzen-pip")
}
