package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all factor model routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/factors", func(r chi.Router) {
		r.Post("/regression", h.HandleRegression)
	})
}
