package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/baechuer/turn-bridge/internal/metrics"
)

type RouterDeps struct {
	Webhook    *WebhookHandler
	Health     *HealthHandler
	HMACSecret string
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Webhook == nil {
		panic("rest.NewRouter: nil webhook handler")
	}
	if d.Health == nil {
		panic("rest.NewRouter: nil health handler")
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(HTTPLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", d.Health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(ValidateHMAC(d.HMACSecret))
		r.Post("/webhook", d.Webhook.ServeHTTP)
	})

	return r
}
