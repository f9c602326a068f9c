// Package risk implements the core risk metrics: Value at Risk and Expected
// Shortfall under historical, parametric and extreme-value methods, plus
// drawdown analysis.
package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Method selects how a VaR/ES figure is estimated. It is a closed set:
// unknown strings are rejected at parse time, and dispatch goes through
// per-method tables rather than string comparison at call sites.
type Method string

const (
	MethodHistorical Method = "historical"
	MethodStd        Method = "std"
	MethodEWMA       Method = "ewma"
	MethodGARCH      Method = "garch"
	MethodEVT        Method = "evt"
)

// ParseMethod validates a method string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodHistorical, MethodStd, MethodEWMA, MethodGARCH, MethodEVT:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// ParametricMethods are the methods backed by a volatility estimator.
var ParametricMethods = []Method{MethodStd, MethodEWMA, MethodGARCH}

// Metric is a computed risk figure. Value is a loss magnitude (positive =
// loss). Details carries method-specific diagnostics (mu, sigma, z, GPD
// parameters); fallbacks are discoverable through missing or zero detail
// keys rather than errors.
type Metric struct {
	Value   float64            `json:"value"`
	Method  Method             `json:"method"`
	Details map[string]float64 `json:"details"`
}

// MarshalJSON customizes JSON serialization to emit null for non-finite
// values, which encoding/json would otherwise reject.
func (m Metric) MarshalJSON() ([]byte, error) {
	details := make(map[string]*float64, len(m.Details))
	for k, v := range m.Details {
		details[k] = finiteOrNull(v)
	}
	return json.Marshal(struct {
		Value   *float64            `json:"value"`
		Method  Method              `json:"method"`
		Details map[string]*float64 `json:"details"`
	}{finiteOrNull(m.Value), m.Method, details})
}

func finiteOrNull(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ErrNoObservations is returned when a return series carries no usable data.
var ErrNoObservations = errors.New("no observations in return series")

// ErrEstimatorUnavailable is returned when no volatility estimator is
// registered for the requested method.
var ErrEstimatorUnavailable = errors.New("volatility estimator unavailable")

// DefaultEWMALambda is the RiskMetrics decay factor.
const DefaultEWMALambda = 0.94

// DefaultEVTThresholdQuantile sets where the GPD tail starts.
const DefaultEVTThresholdQuantile = 0.90

// EVT fallback guards: below these the tail fit is not attempted.
const (
	minEVTObservations = 100
	minEVTExcesses     = 10
)
