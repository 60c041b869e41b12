package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/terralot/terralot/internal/catalog"
	"github.com/terralot/terralot/internal/observability"
	"github.com/terralot/terralot/internal/partners"
	"github.com/terralot/terralot/internal/reservation"
	"github.com/terralot/terralot/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Actor              *partners.ActorMiddleware
	CatalogHandler     *catalog.Handler
	ReservationHandler *reservation.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Terralot defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/lots", func(r chi.Router) {
		r.Use(params.Actor.RequireActor)
		params.CatalogHandler.MountRoutes(r)
		params.ReservationHandler.MountLotRoutes(r)
	})

	r.Route("/options", func(r chi.Router) {
		r.Use(params.Actor.RequireActor)
		if params.Config != nil && params.Config.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(params.Config.RateLimitRequests, params.Config.RateLimitWindow))
		}
		params.ReservationHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
