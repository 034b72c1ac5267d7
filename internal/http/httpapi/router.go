package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"sorajobs/internal/http/handlers"
	"sorajobs/internal/middleware"
	"sorajobs/internal/telemetry"
)

// NewRouter wires every route. Webhooks and admin endpoints sit outside user
// auth; they carry their own verification.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", app.StripeWebhook)
		r.Post("/{provider}", app.ProviderWebhook)
	})

	r.Get("/v1/admin/poller", app.PollerTrigger)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(app.Config.JWTSecret),
			middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
		)
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/", app.JobsList)
			r.Get("/{id}", app.JobsGet)
			r.Delete("/{id}", app.JobsCancel)
		})
		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/", app.CreditsBalance)
			r.Get("/history", app.CreditsHistory)
		})
	})

	return r
}
