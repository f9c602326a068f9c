package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all simulation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/simulation", func(r chi.Router) {
		r.Post("/run", h.HandleRun)
	})
}
