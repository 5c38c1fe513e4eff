package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/emailer"
)

// Deps are the collaborators the handlers need. Assembler and Registry are
// optional; without them the templated endpoints are not registered.
type Deps struct {
	Sender    Sender
	Store     EmailReader
	DB        Pinger
	Assembler Assembler
	Registry  *emailer.Registry
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(deps Deps, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(deps.DB, deps.Store))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ClientMiddleware)

		r.Post("/emails", CreateEmailHandler(deps.Sender))
		if deps.Registry != nil {
			r.Get("/emails/types", ListEmailTypesHandler(deps.Registry))
		}
		if deps.Assembler != nil {
			r.Post("/emails/types/{type}", CreateTemplatedEmailHandler(deps.Sender, deps.Assembler))
		}
		r.Get("/emails/{id}", GetEmailHandler(deps.Store))
		r.Get("/stats", StatsHandler(deps.Store))
	})

	return r
}
