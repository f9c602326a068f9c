package risk

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/timeseries"
)

func skewedReturns(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	returns := make([]float64, n)
	for i := range returns {
		r := rng.NormFloat64() * 0.01
		// Occasional large losses make the left tail heavy.
		if rng.Float64() < 0.05 {
			r -= 0.03 + 0.02*rng.Float64()
		}
		returns[i] = r
	}
	return returns
}

func TestVaRHistorical(t *testing.T) {
	returns := []float64{-0.05, -0.02, 0.0, 0.01, 0.03}

	m, err := VaRHistorical(returns, 0.95)
	require.NoError(t, err)

	assert.Greater(t, m.Value, 0.0)
	assert.Contains(t, m.Details, "quantile")
	assert.InDelta(t, -m.Details["quantile"], m.Value, 1e-12)
}

func TestVaRHistoricalEmpty(t *testing.T) {
	_, err := VaRHistorical(nil, 0.95)
	assert.ErrorIs(t, err, ErrNoObservations)

	_, err = VaRHistorical([]float64{math.NaN()}, 0.95)
	assert.ErrorIs(t, err, ErrNoObservations)
}

// VaR must not decrease as the confidence level rises.
func TestVaRHistoricalMonotoneInAlpha(t *testing.T) {
	returns := skewedReturns(50, 1)

	var95, err := VaRHistorical(returns, 0.95)
	require.NoError(t, err)
	var99, err := VaRHistorical(returns, 0.99)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, var99.Value, var95.Value)
}

func TestESHistoricalTailCount(t *testing.T) {
	returns := skewedReturns(200, 2)

	m, err := ESHistorical(returns, 0.95)
	require.NoError(t, err)

	threshold := m.Details["threshold"]
	count := 0
	for _, r := range returns {
		if r < threshold {
			count++
		}
	}
	assert.Equal(t, float64(count), m.Details["n_tail"])
	assert.False(t, math.IsNaN(m.Value))
}

func TestESHistoricalEmptyTail(t *testing.T) {
	// All returns equal: nothing lies strictly below the quantile.
	returns := []float64{0.01, 0.01, 0.01, 0.01}

	m, err := ESHistorical(returns, 0.95)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(m.Value))
	assert.Equal(t, 0.0, m.Details["n_tail"])
}

// A constant return series has zero variance, so parametric VaR must equal
// the negated constant exactly.
func TestVaRParametricConstantSeries(t *testing.T) {
	returns := []float64{0.01, 0.01, 0.01, 0.01, 0.01}

	m, err := VaRParametric(returns, 0.95, StdEstimator{})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, m.Details["sigma"], 1e-15)
	assert.InDelta(t, -0.01, m.Value, 1e-12)
}

func TestVaRParametricDetails(t *testing.T) {
	returns := skewedReturns(250, 3)

	m, err := VaRParametric(returns, 0.99, StdEstimator{})
	require.NoError(t, err)

	assert.Equal(t, MethodStd, m.Method)
	assert.Contains(t, m.Details, "mu")
	assert.Contains(t, m.Details, "sigma")
	assert.Less(t, m.Details["z"], 0.0) // Phi^-1(0.01) < 0
	assert.Greater(t, m.Value, 0.0)
}

func TestESParametricExceedsVaR(t *testing.T) {
	returns := skewedReturns(250, 4)

	v, err := VaRParametric(returns, 0.95, StdEstimator{})
	require.NoError(t, err)
	es, err := ESParametric(returns, 0.95, StdEstimator{})
	require.NoError(t, err)

	// Under the normal model the tail mean is strictly beyond the quantile.
	assert.Greater(t, es.Value, v.Value)
}

func TestEWMAEstimator(t *testing.T) {
	returns := skewedReturns(250, 5)

	sigma, details, err := EWMAEstimator{Lambda: 0.94}.Sigma(returns)
	require.NoError(t, err)

	assert.Greater(t, sigma, 0.0)
	assert.Equal(t, 0.94, details["ewma_lambda"])
}

func TestEWMAEstimatorDefaultsLambda(t *testing.T) {
	_, details, err := EWMAEstimator{}.Sigma(skewedReturns(50, 6))
	require.NoError(t, err)
	assert.Equal(t, DefaultEWMALambda, details["ewma_lambda"])
}

func TestGARCHEstimator(t *testing.T) {
	// Simulate a volatility-clustered series so the fit has structure.
	rng := rand.New(rand.NewSource(7))
	n := 500
	returns := make([]float64, n)
	h := 1e-4
	for i := 0; i < n; i++ {
		e := math.Sqrt(h) * rng.NormFloat64()
		returns[i] = e
		h = 1e-6 + 0.08*e*e + 0.90*h
	}

	sigma, details, err := GARCHEstimator{}.Sigma(returns)
	require.NoError(t, err)

	assert.Greater(t, sigma, 0.0)
	assert.Less(t, sigma, 0.1)
	assert.Greater(t, details["garch_omega"], 0.0)
	assert.Less(t, details["garch_alpha"]+details["garch_beta"], 1.0)
}

func TestGARCHEstimatorTooFewObservations(t *testing.T) {
	_, _, err := GARCHEstimator{}.Sigma([]float64{0.01, -0.01})
	assert.Error(t, err)
}

func TestEstimatorSet(t *testing.T) {
	set := NewEstimatorSet(0.94)

	for _, m := range ParametricMethods {
		est, err := set.Get(m)
		require.NoError(t, err)
		assert.Equal(t, m, est.Method())
	}

	_, err := set.Get(MethodHistorical)
	assert.ErrorIs(t, err, ErrEstimatorUnavailable)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("ewma")
	require.NoError(t, err)
	assert.Equal(t, MethodEWMA, m)

	_, err = ParseMethod("cornish-fisher")
	assert.Error(t, err)
}

func TestVaREVTFallsBackOnShortSeries(t *testing.T) {
	returns := skewedReturns(50, 8)

	m, err := VaREVT(returns, 0.99, 0.90)
	require.NoError(t, err)

	// Fallback is historical and carries no GPD parameters.
	assert.Equal(t, MethodHistorical, m.Method)
	assert.NotContains(t, m.Details, "xi")
}

func TestVaREVTFitsTail(t *testing.T) {
	returns := skewedReturns(1000, 9)

	m, err := VaREVT(returns, 0.99, 0.90)
	require.NoError(t, err)

	require.Contains(t, m.Details, "xi")
	assert.Greater(t, m.Details["beta"], 0.0)
	assert.Greater(t, m.Details["u"], 0.0)
	assert.InDelta(t, 0.10, m.Details["p_tail"], 0.02)
	assert.Greater(t, m.Value, 0.0)

	// The EVT tail estimate should sit beyond the threshold.
	assert.Greater(t, m.Value, m.Details["u"])
}

func TestESEVT(t *testing.T) {
	returns := skewedReturns(1000, 10)

	v, err := VaREVT(returns, 0.99, 0.90)
	require.NoError(t, err)
	es, err := ESEVT(returns, 0.99, 0.90)
	require.NoError(t, err)

	if _, fitted := es.Details["xi"]; fitted {
		assert.Greater(t, es.Value, v.Value)
	}
}

func TestESEVTFallsBackWithVaR(t *testing.T) {
	returns := skewedReturns(40, 11)

	es, err := ESEVT(returns, 0.95, 0.90)
	require.NoError(t, err)
	assert.Equal(t, MethodHistorical, es.Method)
}

func TestFitGPDExponentialTail(t *testing.T) {
	// Exponential excesses correspond to xi = 0.
	rng := rand.New(rand.NewSource(12))
	excesses := make([]float64, 2000)
	for i := range excesses {
		excesses[i] = rng.ExpFloat64() * 0.02
	}

	xi, beta, err := fitGPD(excesses)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, xi, 0.15)
	assert.InDelta(t, 0.02, beta, 0.005)
}

func TestDrawdown(t *testing.T) {
	series := &timeseries.Series{
		Dates:  []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"},
		Values: []float64{0.10, -0.20, -0.10, 0.05, 0.40},
	}

	result, err := Drawdown(series)
	require.NoError(t, err)

	// Cumulative: 1.10, 0.88, 0.792, 0.8316, 1.16424; trough at index 2.
	assert.InDelta(t, 0.792/1.10-1, result.MaxDrawdown, 1e-9)
	assert.Equal(t, "2024-01-03", result.TroughDate)
	assert.Equal(t, "2024-01-01", result.StartDate)
}

func TestDrawdownEmpty(t *testing.T) {
	_, err := Drawdown(&timeseries.Series{})
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestMetricMarshalsNaNAsNull(t *testing.T) {
	m := Metric{
		Value:  math.NaN(),
		Method: MethodHistorical,
		Details: map[string]float64{
			"sigma": 0.02,
			"xi":    math.NaN(),
		},
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"value":null`)
	assert.Contains(t, string(raw), `"xi":null`)
	assert.Contains(t, string(raw), `"sigma":0.02`)
}
