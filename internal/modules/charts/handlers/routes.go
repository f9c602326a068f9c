package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all chart rendering routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/charts", func(r chi.Router) {
		r.Get("/prices", h.HandlePriceChart)
		r.Get("/histogram", h.HandleReturnHistogram)
		r.Get("/drawdown", h.HandleDrawdownChart)
		r.Get("/simulation", h.HandleSimulationChart)
		r.Get("/terminal", h.HandleTerminalHistogram)
	})
}
