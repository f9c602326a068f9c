// Package handlers provides HTTP handlers for covariance and risk
// attribution operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/engine"
)

// Handler handles attribution HTTP requests.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler creates a new attribution handler.
func NewHandler(e *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: e,
		log:    log.With().Str("handler", "attribution").Logger(),
	}
}

// HandleCovariance handles POST /api/attribution/covariance
func (h *Handler) HandleCovariance(w http.ResponseWriter, r *http.Request) {
	var req engine.PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.Covariance(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to estimate covariance")
		return
	}
	h.writeData(w, result)
}

// HandleContributions handles POST /api/attribution/contributions
func (h *Handler) HandleContributions(w http.ResponseWriter, r *http.Request) {
	var req engine.PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.Contributions(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute risk contributions")
		return
	}
	h.writeData(w, result)
}

// HandleIncrementalVaR handles POST /api/attribution/ivar
func (h *Handler) HandleIncrementalVaR(w http.ResponseWriter, r *http.Request) {
	var req engine.PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.IncrementalVaR(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute incremental VaR")
		return
	}
	h.writeData(w, result)
}

// HandleMarginalVaR handles POST /api/attribution/mvar
func (h *Handler) HandleMarginalVaR(w http.ResponseWriter, r *http.Request) {
	var req engine.PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.MarginalVaR(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute marginal VaR")
		return
	}
	h.writeData(w, result)
}

// relativeVaRRequest adds the benchmark symbol to a portfolio request.
type relativeVaRRequest struct {
	engine.PortfolioRequest
	Benchmark string `json:"benchmark"`
}

// HandleRelativeVaR handles POST /api/attribution/relative-var
func (h *Handler) HandleRelativeVaR(w http.ResponseWriter, r *http.Request) {
	var req relativeVaRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.engine.RelativeVaR(r.Context(), req.PortfolioRequest, req.Benchmark)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute relative VaR")
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
