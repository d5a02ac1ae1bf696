package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/starford/harmonia/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// limiter, if non-nil, throttles search submissions.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler, limiter *rate.Limiter) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(AuthMiddleware(authEnabled, token))

	// Chart records.
	r.Get("/charts", h.ListCharts)
	r.Post("/charts", h.CreateChart)
	r.Get("/charts/*", h.GetChart)
	r.Delete("/charts/*", h.DeleteChart)

	// Single-instant queries.
	r.Get("/positions", h.Positions)
	r.Get("/aspects", h.Aspects)
	r.Get("/clusters", h.Clusters)
	r.Get("/harmonics", h.Harmonics)
	r.Get("/aspect-sets", h.AspectSets)

	// Time-range searches.
	r.Get("/searches", h.ListSearches)
	r.With(RateLimit(limiter)).Post("/searches", h.StartSearch)
	r.Get("/searches/*", h.GetSearch)
	r.Delete("/searches/*", h.DeleteSearch)
	r.Get("/jobs/{id}", h.GetJob)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
