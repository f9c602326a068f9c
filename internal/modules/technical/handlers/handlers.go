// Package handlers provides HTTP handlers for technical indicators.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/engine"
)

// Handler handles technical indicator HTTP requests.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler creates a new technical handler.
func NewHandler(e *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: e,
		log:    log.With().Str("handler", "technical").Logger(),
	}
}

// HandleSMA handles GET /api/technical/sma
func (h *Handler) HandleSMA(w http.ResponseWriter, r *http.Request) {
	req := parseIndicatorQuery(r)

	result, err := h.engine.SMA(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute SMA")
		return
	}
	h.writeData(w, result)
}

// HandleEMA handles GET /api/technical/ema
func (h *Handler) HandleEMA(w http.ResponseWriter, r *http.Request) {
	req := parseIndicatorQuery(r)

	result, err := h.engine.EMA(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute EMA")
		return
	}
	h.writeData(w, result)
}

// HandleMACD handles GET /api/technical/macd
func (h *Handler) HandleMACD(w http.ResponseWriter, r *http.Request) {
	req := parseIndicatorQuery(r)

	result, err := h.engine.MACD(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute MACD")
		return
	}
	h.writeData(w, result)
}

func parseIndicatorQuery(r *http.Request) engine.IndicatorRequest {
	q := r.URL.Query()
	return engine.IndicatorRequest{
		Symbol:     q.Get("symbol"),
		StartDate:  q.Get("start_date"),
		EndDate:    q.Get("end_date"),
		Window:     intParam(q.Get("window")),
		FastPeriod: intParam(q.Get("fast_period")),
		SlowPeriod: intParam(q.Get("slow_period")),
		Signal:     intParam(q.Get("signal_period")),
	}
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
