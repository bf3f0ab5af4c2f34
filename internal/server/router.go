// Package server assembles the portfolio HTTP service: limiter registry,
// router and the supervised listener.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/admitkit"
	"github.com/nhalm/admitkit/internal/config"
	"github.com/nhalm/admitkit/internal/metrics"
	"github.com/nhalm/admitkit/internal/portfolio"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Config *config.Config
	Limits *admitkit.Registry
	Repo   portfolio.Repository
	Verify admitkit.SessionVerifier
	Logger *slog.Logger

	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

// NewRouter builds the HTTP handler. Middleware order, outermost first:
// request metrics, response state with canonical logging, client identity.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(admitkit.Handler(
		admitkit.WithCanonlog(),
		admitkit.WithCanonlogClientIP(),
		admitkit.WithSLOs(),
	))
	r.Use(admitkit.ResolveClientIP())

	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		admitkit.SetError(r, admitkit.ErrNotFound)
	})
	r.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		admitkit.SetError(r, admitkit.ErrMethodNotAllowed)
	})

	r.Get("/healthz", func(_ http.ResponseWriter, r *http.Request) {
		admitkit.SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics)

	svc := portfolio.NewService(d.Repo, d.Limits,
		portfolio.WithLogger(d.Logger),
		portfolio.WithMaxBodyBytes(d.Config.Server.MaxBodyBytes),
	)
	svc.Mount(r, d.Verify, admitkit.WithSessionCookie(d.Config.Auth.SessionCookie))

	return r
}
