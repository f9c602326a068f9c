package risk

import (
	"fmt"
	"math"

	"github.com/quantfolio/quantfolio/pkg/formulas"
)

// VolatilityEstimator produces a one-day volatility estimate from a return
// series. Implementations are selected once at startup and dispatched by
// Method, so capability checks do not happen inside metric calls.
type VolatilityEstimator interface {
	Method() Method
	// Sigma returns the volatility estimate plus estimator diagnostics.
	Sigma(returns []float64) (float64, map[string]float64, error)
}

// StdEstimator uses the sample standard deviation (N-1 denominator).
type StdEstimator struct{}

func (StdEstimator) Method() Method { return MethodStd }

func (StdEstimator) Sigma(returns []float64) (float64, map[string]float64, error) {
	if len(returns) == 0 {
		return 0, nil, ErrNoObservations
	}
	return formulas.StdDev(returns), map[string]float64{}, nil
}

// EWMAEstimator applies recursive exponential smoothing to squared returns:
// var[t] = lambda*var[t-1] + (1-lambda)*x[t]^2, seeded from the sample
// variance.
type EWMAEstimator struct {
	Lambda float64
}

func (EWMAEstimator) Method() Method { return MethodEWMA }

func (e EWMAEstimator) Sigma(returns []float64) (float64, map[string]float64, error) {
	if len(returns) == 0 {
		return 0, nil, ErrNoObservations
	}

	lambda := e.Lambda
	if lambda <= 0 || lambda >= 1 {
		lambda = DefaultEWMALambda
	}

	sd := formulas.StdDev(returns)
	variance := sd * sd
	for _, x := range returns {
		variance = lambda*variance + (1-lambda)*x*x
	}

	sigma := 0.0
	if variance > 0 {
		sigma = math.Sqrt(variance)
	}
	return sigma, map[string]float64{"ewma_lambda": lambda}, nil
}

// EstimatorSet is the closed registry of volatility estimators, built once
// at startup.
type EstimatorSet struct {
	estimators map[Method]VolatilityEstimator
}

// NewEstimatorSet registers the std, ewma and garch estimators.
func NewEstimatorSet(ewmaLambda float64) *EstimatorSet {
	set := &EstimatorSet{estimators: make(map[Method]VolatilityEstimator)}
	set.Register(StdEstimator{})
	set.Register(EWMAEstimator{Lambda: ewmaLambda})
	set.Register(GARCHEstimator{})
	return set
}

// Register adds or replaces an estimator.
func (s *EstimatorSet) Register(e VolatilityEstimator) {
	s.estimators[e.Method()] = e
}

// Get looks up the estimator for a method.
func (s *EstimatorSet) Get(m Method) (VolatilityEstimator, error) {
	e, ok := s.estimators[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEstimatorUnavailable, m)
	}
	return e, nil
}
