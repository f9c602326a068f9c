// Package handlers provides HTTP handlers for Monte Carlo simulations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/engine"
	"github.com/quantfolio/quantfolio/internal/modules/simulation"
)

// Handler handles simulation HTTP requests.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler creates a new simulation handler.
func NewHandler(e *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: e,
		log:    log.With().Str("handler", "simulation").Logger(),
	}
}

// HandleRun handles POST /api/simulation/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req engine.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.Simulate(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to run simulation")
		return
	}
	h.writeData(w, summarize(result))
}

// summarize keeps the response JSON bounded: the full ensemble stays
// server-side, only the sampled trajectories ship to the client.
func summarize(result *simulation.Result) map[string]interface{} {
	return map[string]interface{}{
		"mu":              result.Mu,
		"sigma":           result.Sigma,
		"paths":           result.Paths,
		"days":            result.Days,
		"seed":            result.Seed,
		"initial_value":   result.InitialValue,
		"terminal_mean":   result.TerminalMean,
		"terminal_median": result.TerminalMedian,
		"terminal_std":    result.TerminalStd,
		"terminal_min":    result.TerminalMin,
		"terminal_max":    result.TerminalMax,
		"var":             result.VaR,
		"es":              result.ES,
		"sample_paths":    result.SamplePaths,
	}
}

func (h *Handler) writeData(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
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
