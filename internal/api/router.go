package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers the API routes and middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Use(h.recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", h.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", h.snapshot)
		r.Get("/events", h.events)
		r.Post("/resync", h.resync)

		r.Get("/connection", h.connection)
		r.Post("/connection/initialize", h.initialize)

		r.Post("/tabs/{tab}", h.setTab)
		r.Put("/filters", h.setFilters)

		r.Post("/tickets/fetch", h.fetchTickets)
		r.Post("/tickets/more", h.fetchMoreTickets)
		r.Put("/tickets/{id}", h.updateChat)
		r.Delete("/tickets/{id}", h.removeTicket)
		r.Post("/tickets/{id}/select", h.selectTicket)
		r.Post("/tickets/{id}/accept", h.acceptTicket)

		r.Post("/messages", h.sendMessage)
		r.Post("/messages/fetch", h.fetchMessages)
		r.Post("/messages/more", h.fetchMoreMessages)
		r.Post("/messages/{id}/retry", h.retryMessage)
	})
	return r
}
