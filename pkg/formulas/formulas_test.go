package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReturns(t *testing.T) {
	prices := []float64{100, 110, 99}
	returns := CalculateReturns(prices)

	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-12)
	assert.InDelta(t, -0.10, returns[1], 1e-12)
}

func TestCalculateReturnsShortSeries(t *testing.T) {
	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Empty(t, CalculateReturns(nil))
}

func TestCalculateReturnsMissingPrice(t *testing.T) {
	prices := []float64{100, math.NaN(), 110}
	returns := CalculateReturns(prices)

	require.Len(t, returns, 2)
	assert.True(t, math.IsNaN(returns[0]))
	assert.True(t, math.IsNaN(returns[1]))
}

func TestQuantileInterpolation(t *testing.T) {
	values := []float64{1, 2, 3, 4}

	assert.InDelta(t, 1.0, Quantile(values, 0), 1e-12)
	assert.InDelta(t, 4.0, Quantile(values, 1), 1e-12)
	assert.InDelta(t, 2.5, Quantile(values, 0.5), 1e-12)
	assert.InDelta(t, 1.15, Quantile(values, 0.05), 1e-12)
}

func TestQuantileSingleValue(t *testing.T) {
	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.99))
}

func TestNormalizeWeights(t *testing.T) {
	weights, err := NormalizeWeights([]float64{2, 2, 4})
	require.NoError(t, err)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.25, weights[0], 1e-12)
	assert.InDelta(t, 0.5, weights[2], 1e-12)
}

func TestNormalizeWeightsRejectsNegative(t *testing.T) {
	_, err := NormalizeWeights([]float64{0.5, -0.1})
	assert.Error(t, err)
}

func TestNormalizeWeightsRejectsZeroSum(t *testing.T) {
	_, err := NormalizeWeights([]float64{0, 0})
	assert.Error(t, err)
}

func TestNormalizeWeightsRejectsEmpty(t *testing.T) {
	_, err := NormalizeWeights(nil)
	assert.Error(t, err)
}

func TestStdDevConstantSeries(t *testing.T) {
	assert.InDelta(t, 0.0, StdDev([]float64{0.01, 0.01, 0.01}), 1e-15)
}

func TestAnnualization(t *testing.T) {
	assert.InDelta(t, 0.252, AnnualizedMean(0.001, 252), 1e-12)
	assert.InDelta(t, 0.01*math.Sqrt(252), AnnualizedVolatility(0.01, 252), 1e-12)
}
