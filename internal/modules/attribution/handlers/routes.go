package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all attribution routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/attribution", func(r chi.Router) {
		r.Post("/covariance", h.HandleCovariance)
		r.Post("/contributions", h.HandleContributions)
		r.Post("/ivar", h.HandleIncrementalVaR)
		r.Post("/mvar", h.HandleMarginalVaR)
		r.Post("/relative-var", h.HandleRelativeVaR)
	})
}
