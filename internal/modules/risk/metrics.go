package risk

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantfolio/quantfolio/pkg/formulas"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// VaRHistorical computes historical VaR as the negated (1-alpha) quantile of
// the return distribution.
func VaRHistorical(returns []float64, alpha float64) (Metric, error) {
	clean := formulas.DropNaN(returns)
	if len(clean) == 0 {
		return Metric{}, ErrNoObservations
	}

	q := formulas.Quantile(clean, 1-alpha)
	return Metric{
		Value:   -q,
		Method:  MethodHistorical,
		Details: map[string]float64{"quantile": q},
	}, nil
}

// ESHistorical computes the expected shortfall as the mean of returns
// strictly below the (1-alpha) quantile, negated. With an empty tail the
// value is NaN and n_tail is 0; callers must treat that as degenerate, not
// as a zero loss.
func ESHistorical(returns []float64, alpha float64) (Metric, error) {
	clean := formulas.DropNaN(returns)
	if len(clean) == 0 {
		return Metric{}, ErrNoObservations
	}

	threshold := formulas.Quantile(clean, 1-alpha)

	sum := 0.0
	nTail := 0
	for _, r := range clean {
		if r < threshold {
			sum += r
			nTail++
		}
	}

	value := math.NaN()
	if nTail > 0 {
		value = -sum / float64(nTail)
	}

	return Metric{
		Value:  value,
		Method: MethodHistorical,
		Details: map[string]float64{
			"threshold": threshold,
			"n_tail":    float64(nTail),
		},
	}, nil
}

// VaRParametric computes VaR under a normal assumption with the volatility
// supplied by the estimator: VaR = -(mu + z*sigma), z = Phi^-1(1-alpha).
func VaRParametric(returns []float64, alpha float64, est VolatilityEstimator) (Metric, error) {
	clean := formulas.DropNaN(returns)
	if len(clean) == 0 {
		return Metric{}, ErrNoObservations
	}

	sigma, extra, err := est.Sigma(clean)
	if err != nil {
		return Metric{}, err
	}

	mu := formulas.Mean(clean)
	z := stdNormal.Quantile(1 - alpha)

	details := map[string]float64{"mu": mu, "sigma": sigma, "z": z}
	for k, v := range extra {
		details[k] = v
	}

	return Metric{
		Value:   -(mu + z*sigma),
		Method:  est.Method(),
		Details: details,
	}, nil
}

// ESParametric computes the normal-assumption expected shortfall
// ES = -(mu - sigma*phi(z)/(1-alpha)) reusing the estimator's sigma.
func ESParametric(returns []float64, alpha float64, est VolatilityEstimator) (Metric, error) {
	clean := formulas.DropNaN(returns)
	if len(clean) == 0 {
		return Metric{}, ErrNoObservations
	}

	sigma, extra, err := est.Sigma(clean)
	if err != nil {
		return Metric{}, err
	}

	mu := formulas.Mean(clean)
	z := stdNormal.Quantile(1 - alpha)
	pdf := stdNormal.Prob(z)

	details := map[string]float64{"mu": mu, "sigma": sigma, "z": z}
	for k, v := range extra {
		details[k] = v
	}

	return Metric{
		Value:   -(mu - sigma*pdf/(1-alpha)),
		Method:  est.Method(),
		Details: details,
	}, nil
}
