// Command portfolio serves the portfolio site API with per-client rate limits.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhalm/admitkit/internal/config"
	"github.com/nhalm/admitkit/internal/metrics"
	"github.com/nhalm/admitkit/internal/portfolio"
	"github.com/nhalm/admitkit/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("portfolio exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	limits, err := server.NewRegistry(cfg, metrics.RecordDecision)
	if err != nil {
		return err
	}
	defer func() {
		if err := limits.Close(); err != nil {
			logger.Error("close rate limiters", "error", err)
		}
	}()
	prometheus.MustRegister(metrics.NewRegistryCollector(limits))

	verify, err := server.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}
	if cfg.Auth.Verifier == config.VerifierStatic && len(cfg.Auth.TokenTable()) == 0 {
		logger.Warn("no admin tokens configured; admin endpoints will reject every request")
	}

	router := server.NewRouter(server.Deps{
		Config: cfg,
		Limits: limits,
		Repo:   portfolio.NewMemoryRepository(),
		Verify: verify,
		Logger: logger,
	})
	httpServer := server.NewHTTPServer(cfg.Server.Addr, router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	sup := server.NewSupervisor(logger, cfg.Server.ShutdownTimeout)
	sup.Add(server.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting portfolio server",
		"addr", cfg.Server.Addr,
		"ratelimit_backend", cfg.RateLimit.Backend,
		"session_verifier", cfg.Auth.Verifier,
		"api_policy", limits.API.Policy().String(),
		"email_policy", limits.Email.Policy().String(),
		"visitor_policy", limits.Visitor.Policy().String(),
	)

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("portfolio server stopped")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
