package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storyboard/internal/http/handlers"
	"storyboard/internal/middleware"
)

// Options configures the router's ambient middleware.
type Options struct {
	AuthSecret      string
	AllowedOrigins  []string
	RateLimitPerMin int
}

// NewRouter assembles the HTTP surface. The callback endpoint sits outside the
// bearer-token stack; executors authenticate with the shared callback token.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/families/illustration/styles", app.IllustrationStyles)
	r.Post("/v1/callback", app.ExecutorCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(opts.AuthSecret))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.JobsSubmit)
			r.Get("/{id}", app.JobsStatus)
			r.Post("/{id}/cancel", app.JobsCancel)
			r.Post("/{id}/regenerate", app.JobsRegenerate)
		})

		r.Route("/v1/batches", func(r chi.Router) {
			r.Post("/", app.BatchesSubmit)
			r.Get("/{id}", app.BatchesStatus)
		})

		r.Get("/v1/stats", app.StatsSummary)
		r.Route("/v1/deadletters", func(r chi.Router) {
			r.Get("/", app.DeadLettersList)
			r.Post("/{id}/republish", app.DeadLetterRepublish)
		})
	})

	return r
}
