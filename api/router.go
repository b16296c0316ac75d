package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/metrics"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(svc supportrag.Service) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recovery)

	metrics.Register()

	queryH := NewQueryHandler(svc)
	conversationH := NewConversationHandler(svc)

	r.Get("/healthz", Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", queryH.Query)
		r.Route("/conversations/{userID}", func(r chi.Router) {
			r.Delete("/", conversationH.Reset)
			r.Get("/last", conversationH.GetLast)
			r.Put("/last", conversationH.SetLast)
		})
	})
	return r
}
