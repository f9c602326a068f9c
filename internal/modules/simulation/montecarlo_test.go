package simulation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/modules/risk"
)

func historicalReturns(n int, mu, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	returns := make([]float64, n)
	for i := range returns {
		returns[i] = mu + sigma*rng.NormFloat64()
	}
	return returns
}

func TestRunReproducibleWithSeed(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := historicalReturns(500, 0.0005, 0.01, 1)
	cfg := Config{Paths: 2000, Days: 60, Alpha: 0.95, Method: risk.MethodStd, Seed: 42}

	a, err := Run(returns, cfg, set)
	require.NoError(t, err)
	b, err := Run(returns, cfg, set)
	require.NoError(t, err)

	assert.Equal(t, a.TerminalMean, b.TerminalMean)
	assert.Equal(t, a.VaR.Value, b.VaR.Value)
	assert.Equal(t, a.TerminalValues[1337], b.TerminalValues[1337])
}

func TestRunDifferentSeedsDiffer(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := historicalReturns(500, 0.0005, 0.01, 1)

	a, err := Run(returns, Config{Paths: 1000, Days: 30, Alpha: 0.95, Method: risk.MethodStd, Seed: 1}, set)
	require.NoError(t, err)
	b, err := Run(returns, Config{Paths: 1000, Days: 30, Alpha: 0.95, Method: risk.MethodStd, Seed: 2}, set)
	require.NoError(t, err)

	assert.NotEqual(t, a.TerminalMean, b.TerminalMean)
}

// With zero drift and volatility every path stays flat at the initial value.
func TestRunDegenerateVolatility(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := make([]float64, 100) // all zero

	res, err := Run(returns, Config{Paths: 100, Days: 10, Alpha: 0.95, Method: risk.MethodStd, Seed: 7}, set)
	require.NoError(t, err)

	assert.InDelta(t, DefaultInitialValue, res.TerminalMean, 1e-12)
	assert.InDelta(t, 0.0, res.VaR.Value, 1e-12)
	for _, v := range res.TerminalValues {
		assert.Equal(t, DefaultInitialValue, v)
	}
}

func TestRunTerminalDistributionMatchesInputs(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	mu, sigma := 0.001, 0.02
	returns := historicalReturns(5000, mu, sigma, 3)

	res, err := Run(returns, Config{Paths: 20_000, Days: 252, Alpha: 0.95, Method: risk.MethodStd, Seed: 9}, set)
	require.NoError(t, err)

	assert.InDelta(t, mu, res.Mu, 0.001)
	assert.InDelta(t, sigma, res.Sigma, 0.002)

	// E[S_T] = S_0 * (1 + mu)^T for i.i.d. simple-return compounding.
	expected := DefaultInitialValue * math.Pow(1+res.Mu, 252)
	assert.InDelta(t, expected, res.TerminalMean, expected*0.05)

	// 95% VaR on a full year should be a material positive loss here.
	assert.Greater(t, res.VaR.Value, 0.0)
	assert.GreaterOrEqual(t, res.ES.Value, res.VaR.Value)
}

func TestRunDefaults(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := historicalReturns(300, 0.0, 0.01, 4)

	res, err := Run(returns, Config{Alpha: 0.99, Method: risk.MethodStd, Seed: 11}, set)
	require.NoError(t, err)

	assert.Equal(t, DefaultPaths, res.Paths)
	assert.Equal(t, DefaultDays, res.Days)
	assert.Len(t, res.SamplePaths, 20)
	assert.Len(t, res.SamplePaths[0], DefaultDays+1)
	assert.Equal(t, DefaultInitialValue, res.SamplePaths[0][0])
}

func TestRunRejectsBadDimensions(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := historicalReturns(100, 0.0, 0.01, 5)

	_, err := Run(returns, Config{Paths: MaxPaths + 1, Alpha: 0.95, Method: risk.MethodStd}, set)
	assert.ErrorIs(t, err, ErrBadDimensions)

	_, err = Run(returns, Config{Days: MaxDays + 1, Alpha: 0.95, Method: risk.MethodStd}, set)
	assert.ErrorIs(t, err, ErrBadDimensions)

	_, err = Run(returns, Config{Alpha: 1.5, Method: risk.MethodStd}, set)
	assert.ErrorIs(t, err, ErrBadDimensions)
}

func TestRunUnknownMethod(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := historicalReturns(100, 0.0, 0.01, 6)

	_, err := Run(returns, Config{Alpha: 0.95, Method: risk.MethodHistorical}, set)
	assert.ErrorIs(t, err, risk.ErrEstimatorUnavailable)
}

func TestRunEWMAMethod(t *testing.T) {
	set := risk.NewEstimatorSet(risk.DefaultEWMALambda)
	returns := historicalReturns(400, 0.0, 0.015, 8)

	res, err := Run(returns, Config{Paths: 500, Days: 20, Alpha: 0.95, Method: risk.MethodEWMA, Seed: 13}, set)
	require.NoError(t, err)
	assert.Greater(t, res.Sigma, 0.0)
}
