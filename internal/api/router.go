// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/middleware"
	"github.com/tomtom215/placesync/internal/websocket"
)

// RouterConfig wires the optional parts of the HTTP surface.
type RouterConfig struct {
	Middleware *ChiMiddlewareConfig

	// Hub serves /api/v1/ws when set.
	Hub *websocket.Hub

	// Remote is mounted at /remote when the process hosts the remote
	// document store itself.
	Remote http.Handler
}

// Router builds the chi route tree.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	websocket     http.Handler
	remote        http.Handler
}

// NewRouter creates a router for handler.
func NewRouter(handler *Handler, cfg RouterConfig) *Router {
	if cfg.Middleware == nil {
		cfg.Middleware = DefaultChiMiddlewareConfig()
	}
	router := &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(cfg.Middleware),
		remote:        cfg.Remote,
	}
	if cfg.Hub != nil {
		router.websocket = websocket.NewHandler(cfg.Hub, cfg.Middleware.CORSAllowedOrigins, handler.ResolveUser)
	}
	return router
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Applied to every route, in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(middleware.SecurityHeaders)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.authenticate())

		// Upgrades skip the JSON security headers and metrics wrapper.
		if router.websocket != nil {
			r.With(router.chiMiddleware.RateLimitWebSocket()).Handle("/ws", router.websocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.SecurityHeaders)
			r.Use(middleware.PrometheusMetrics)

			r.Route("/session", func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimitSession())
				r.Post("/", router.handler.Login)
				r.Delete("/", router.handler.Logout)
			})

			r.Group(func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimit())

				r.Route("/saved", func(r chi.Router) {
					r.Get("/", router.handler.ListSaved)
					r.Get("/{entityID}", router.handler.GetSaved)
					r.Delete("/{entityID}", router.handler.DeleteSaved)
					r.Post("/{entityID}/toggle", router.handler.ToggleSave)
				})

				r.Route("/visits", func(r chi.Router) {
					r.Post("/", router.handler.ScheduleVisit)
					r.Get("/planned", router.handler.ListPlanned)
					r.Get("/history", router.handler.ListHistory)
					r.Patch("/{visitID}", router.handler.UpdateVisit)
					r.Delete("/{visitID}", router.handler.DeleteVisit)
					r.Post("/{visitID}/complete", router.handler.CompleteVisit)
					r.Post("/{visitID}/review", router.handler.AddReview)
				})

				r.Get("/sync/status", router.handler.SyncStatus)
				r.Get("/sync/pending", router.handler.PendingOperations)
			})

			r.Group(func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimitSync())
				r.Post("/sync", router.handler.ForceSync)
				r.Post("/sync/queue", router.handler.ProcessQueue)
				r.Post("/sync/refresh", router.handler.FullRefresh)
			})
		})
	})

	if router.remote != nil {
		r.Mount("/remote", router.remote)
	}

	return r
}

// authenticate validates bearer tokens when a JWT manager is configured.
func (router *Router) authenticate() func(http.Handler) http.Handler {
	return auth.Authenticate(router.handler.jwt, func(w http.ResponseWriter, r *http.Request, err error) {
		NewResponseWriter(w, r).Unauthorized("invalid or missing bearer token")
	})
}
