package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all technical indicator routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/technical", func(r chi.Router) {
		r.Get("/sma", h.HandleSMA)
		r.Get("/ema", h.HandleEMA)
		r.Get("/macd", h.HandleMACD)
	})
}
