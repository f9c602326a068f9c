package backtest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/modules/risk"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

func normalReturns(n int, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * sigma
	}
	return out
}

func TestBaselZoneBoundaries(t *testing.T) {
	cases := []struct {
		rate float64
		zone string
	}{
		{0.005, "green"},
		{0.01, "green"}, // inclusive boundary
		{0.015, "amber"},
		{0.02, "amber"}, // inclusive boundary
		{0.03, "red"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.zone, BaselZone(tc.rate), "rate %v", tc.rate)
	}
}

func TestKupiecZeroExceptions(t *testing.T) {
	result := KupiecPOF(500, 0, 0.01)

	assert.True(t, result.Degenerate)
	assert.Equal(t, 0.0, result.LR)
	assert.Equal(t, 1.0, result.PValue)
}

func TestKupiecMatchedRate(t *testing.T) {
	// Observed rate equals nominal rate: LR should be near zero, p near 1.
	result := KupiecPOF(1000, 10, 0.01)

	assert.False(t, result.Degenerate)
	assert.InDelta(t, 0.0, result.LR, 1e-9)
	assert.InDelta(t, 1.0, result.PValue, 1e-6)
}

func TestKupiecExcessExceptions(t *testing.T) {
	// Five times the nominal exception rate must be a strong rejection.
	result := KupiecPOF(1000, 50, 0.01)

	assert.Greater(t, result.LR, 10.0)
	assert.Less(t, result.PValue, 0.01)
}

func TestChristoffersenDegenerate(t *testing.T) {
	exceptions := make([]bool, 100)
	exceptions[10] = true

	result := ChristoffersenIndependence(exceptions)
	assert.True(t, result.Degenerate)
	assert.Equal(t, 1.0, result.PValue)
}

func TestChristoffersenClustering(t *testing.T) {
	// A tight run of consecutive exceptions should register dependence.
	exceptions := make([]bool, 200)
	for i := 50; i < 60; i++ {
		exceptions[i] = true
	}

	result := ChristoffersenIndependence(exceptions)
	assert.False(t, result.Degenerate)
	assert.Greater(t, result.LR, 3.84) // 5% chi-squared(1) critical value
}

func TestRunBacktest(t *testing.T) {
	returns := normalReturns(600, 0.01, 1)
	set := risk.NewEstimatorSet(0.94)

	result, err := Run(returns, 0.99, risk.MethodHistorical, set)
	require.NoError(t, err)

	assert.Equal(t, 250, result.Window)
	assert.Equal(t, 350, result.Observations)
	assert.Equal(t, "historical", string(result.Method))
	assert.InDelta(t, 0.01, result.ExpectedRate, 1e-12)
	assert.Contains(t, []string{"green", "amber", "red"}, result.Zone)
	assert.GreaterOrEqual(t, result.Kupiec.PValue, 0.0)
	assert.LessOrEqual(t, result.Kupiec.PValue, 1.0)
}

func TestRunBacktestShortSeriesWindow(t *testing.T) {
	returns := normalReturns(40, 0.01, 2)
	set := risk.NewEstimatorSet(0.94)

	result, err := Run(returns, 0.95, risk.MethodStd, set)
	require.NoError(t, err)

	assert.Equal(t, 39, result.Window)
	assert.Equal(t, 1, result.Observations)
}

func TestRunBacktestTooFewObservations(t *testing.T) {
	set := risk.NewEstimatorSet(0.94)
	_, err := Run(normalReturns(20, 0.01, 3), 0.95, risk.MethodHistorical, set)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRunBacktestRejectsGARCHAndEVT(t *testing.T) {
	set := risk.NewEstimatorSet(0.94)
	returns := normalReturns(300, 0.01, 4)

	_, err := Run(returns, 0.95, risk.MethodGARCH, set)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = Run(returns, 0.95, risk.MethodEVT, set)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestStress(t *testing.T) {
	frame := &timeseries.Frame{
		Dates:   []string{"2024-01-03", "2024-01-04"},
		Columns: []string{"AAA", "BBB"},
		Data: map[string][]float64{
			"AAA": {0.02, 0.01},
			"BBB": {0.00, -0.02},
		},
	}

	result, err := Stress(frame, []float64{0.5, 0.5}, -0.10)
	require.NoError(t, err)

	assert.InDelta(t, -0.005, result.PortfolioReturn, 1e-12)
	assert.InDelta(t, -0.105, result.ShockedReturn, 1e-12)
	assert.InDelta(t, -0.10, result.Impact, 1e-12)
	assert.InDelta(t, 0.01, result.Assets["AAA"].Latest, 1e-12)
	assert.InDelta(t, -0.09, result.Assets["AAA"].Shocked, 1e-12)
}

func TestStressSkipsTrailingNaN(t *testing.T) {
	frame := &timeseries.Frame{
		Dates:   []string{"2024-01-03", "2024-01-04"},
		Columns: []string{"AAA"},
		Data:    map[string][]float64{"AAA": {0.02, math.NaN()}},
	}

	result, err := Stress(frame, []float64{1}, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, result.Assets["AAA"].Latest, 1e-12)
}

func TestStressRejectsNegativeWeights(t *testing.T) {
	frame := &timeseries.Frame{
		Dates:   []string{"2024-01-03"},
		Columns: []string{"AAA"},
		Data:    map[string][]float64{"AAA": {0.01}},
	}
	_, err := Stress(frame, []float64{-1}, 0.05)
	assert.Error(t, err)
}
