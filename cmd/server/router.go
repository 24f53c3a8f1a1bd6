package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blockinghandler "privacyhub/internal/blocking/handler"
	consenthandler "privacyhub/internal/consent/handler"
	dsrhandler "privacyhub/internal/dsr/handler"
	"privacyhub/internal/platform/config"
	"privacyhub/internal/platform/health"
	"privacyhub/pkg/platform/middleware/admin"
	"privacyhub/pkg/platform/middleware/metadata"
	"privacyhub/pkg/platform/middleware/request"
	"privacyhub/pkg/platform/middleware/requesttime"
	"privacyhub/pkg/platform/middleware/throttle"
	"privacyhub/pkg/validation"
)

type routerDeps struct {
	cfg            *config.Config
	log            *slog.Logger
	health         *health.Handler
	consent        *consenthandler.Handler
	dsr            *dsrhandler.Handler
	blocking       *blockinghandler.Handler
	reportThrottle *throttle.Limiter
}

func newRouter(d routerDeps) (http.Handler, error) {
	proxies, err := metadata.ParseTrustedProxies(d.cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(d.log))
	r.Use(request.RequestID)
	r.Use(metadata.NewMiddleware(proxies).Handler)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(d.log))
	r.Use(request.Latency(request.NewMetrics()))

	d.health.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(d.cfg.Server.RequestTimeout))
		r.Use(request.BodyLimit(validation.MaxBodySize))

		// Beacon reports arrive as text/plain, so they skip the content type check.
		r.Group(func(r chi.Router) {
			r.Use(d.reportThrottle.Middleware)
			d.consent.RegisterReports(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(request.ContentTypeJSON)
			d.consent.Register(r)
			d.blocking.Register(r)
			d.dsr.Register(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(admin.RequireToken(d.cfg.Security.AdminToken, d.log))
				d.consent.RegisterAdmin(r)
				d.dsr.RegisterAdmin(r)
			})
		})
	})
	return r, nil
}
