// Package handlers provides HTTP handlers that render portfolio charts
// as PNG images.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/engine"
	"github.com/quantfolio/quantfolio/internal/modules/charts"
)

// Handler handles chart rendering HTTP requests.
type Handler struct {
	charts *charts.Service
	log    zerolog.Logger
}

// NewHandler creates a new charts handler.
func NewHandler(svc *charts.Service, log zerolog.Logger) *Handler {
	return &Handler{
		charts: svc,
		log:    log.With().Str("handler", "charts").Logger(),
	}
}

// HandlePriceChart handles GET /api/charts/prices
func (h *Handler) HandlePriceChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	png, err := h.charts.PriceChart(r.Context(), splitList(q.Get("assets")), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		h.writeEngineError(w, err, "Failed to render price chart")
		return
	}
	h.writePNG(w, png)
}

// HandleReturnHistogram handles GET /api/charts/histogram
func (h *Handler) HandleReturnHistogram(w http.ResponseWriter, r *http.Request) {
	png, err := h.charts.ReturnHistogram(r.Context(), parsePortfolioQuery(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to render return histogram")
		return
	}
	h.writePNG(w, png)
}

// HandleDrawdownChart handles GET /api/charts/drawdown
func (h *Handler) HandleDrawdownChart(w http.ResponseWriter, r *http.Request) {
	png, err := h.charts.DrawdownChart(r.Context(), parsePortfolioQuery(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to render drawdown chart")
		return
	}
	h.writePNG(w, png)
}

// HandleSimulationChart handles GET /api/charts/simulation
func (h *Handler) HandleSimulationChart(w http.ResponseWriter, r *http.Request) {
	png, err := h.charts.SimulationChart(r.Context(), parseSimulationQuery(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to render simulation chart")
		return
	}
	h.writePNG(w, png)
}

// HandleTerminalHistogram handles GET /api/charts/terminal
func (h *Handler) HandleTerminalHistogram(w http.ResponseWriter, r *http.Request) {
	png, err := h.charts.TerminalHistogram(r.Context(), parseSimulationQuery(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to render terminal histogram")
		return
	}
	h.writePNG(w, png)
}

func parsePortfolioQuery(r *http.Request) engine.PortfolioRequest {
	q := r.URL.Query()
	return engine.PortfolioRequest{
		Assets:    splitList(q.Get("assets")),
		Weights:   splitFloats(q.Get("weights")),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Alpha:     floatParam(q.Get("alpha")),
		Method:    q.Get("method"),
	}
}

func parseSimulationQuery(r *http.Request) engine.SimulationRequest {
	q := r.URL.Query()
	return engine.SimulationRequest{
		PortfolioRequest: parsePortfolioQuery(r),
		Paths:            intParam(q.Get("paths")),
		Days:             intParam(q.Get("days")),
		Seed:             int64(intParam(q.Get("seed"))),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitFloats(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

func floatParam(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func intParam(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (h *Handler) writePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.log.Error().Err(err).Msg("Failed to write chart image")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrInsufficientData):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		h.writeError(w, http.StatusInternalServerError, fallback)
	}
}
