package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk metric routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Post("/var", h.HandleVaR)
		r.Post("/es", h.HandleES)
		r.Post("/drawdown", h.HandleDrawdown)
	})
}
