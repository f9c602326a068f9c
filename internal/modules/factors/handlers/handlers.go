// Package handlers provides HTTP handlers for factor model regressions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/engine"
)

// Handler handles factor regression HTTP requests.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler creates a new factors handler.
func NewHandler(e *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: e,
		log:    log.With().Str("handler", "factors").Logger(),
	}
}

// HandleRegression handles POST /api/factors/regression
func (h *Handler) HandleRegression(w http.ResponseWriter, r *http.Request) {
	var req engine.FactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.Factors(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to run factor regression")
		return
	}
	h.writeData(w, result)
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
