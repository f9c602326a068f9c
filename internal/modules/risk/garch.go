package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/quantfolio/quantfolio/pkg/formulas"
)

// garchScale rescales returns before fitting. Daily returns are ~1e-2, which
// puts omega near 1e-6 and destabilizes the likelihood surface; fitting on
// percent returns keeps the parameters well conditioned. The resulting
// volatility is scaled back down.
const garchScale = 100.0

// GARCHEstimator fits a GARCH(1,1) model by maximum likelihood and reports
// the last conditional volatility. Parameters are optimized in a transformed
// space that enforces omega > 0, alpha, beta > 0 and alpha + beta < 1.
type GARCHEstimator struct{}

func (GARCHEstimator) Method() Method { return MethodGARCH }

func (GARCHEstimator) Sigma(returns []float64) (float64, map[string]float64, error) {
	if len(returns) < 20 {
		return 0, nil, fmt.Errorf("garch fit requires at least 20 observations, got %d", len(returns))
	}

	scaled := make([]float64, len(returns))
	mean := formulas.Mean(returns)
	for i, r := range returns {
		scaled[i] = (r - mean) * garchScale
	}

	sampleVar := variance(scaled)
	if sampleVar <= 0 {
		return 0, map[string]float64{
			"garch_omega": 0,
			"garch_alpha": 0,
			"garch_beta":  0,
		}, nil
	}

	nll := func(p []float64) float64 {
		omega, alpha, beta := garchParams(p)
		return garchNegLogLikelihood(scaled, sampleVar, omega, alpha, beta)
	}

	// Start near the common empirical regime alpha=0.05, beta=0.90.
	x0 := []float64{math.Log(sampleVar * 0.05), logitWeight(0.05), logitWeight(0.90)}

	result, err := optimize.Minimize(optimize.Problem{Func: nll}, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, nil, fmt.Errorf("garch fit failed: %w", err)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return 0, nil, fmt.Errorf("garch fit diverged")
	}

	omega, alpha, beta := garchParams(result.X)

	// Last conditional variance on the percent scale.
	h := sampleVar
	for _, e := range scaled {
		h = omega + alpha*e*e + beta*h
	}
	if h <= 0 || math.IsNaN(h) {
		return 0, nil, fmt.Errorf("garch fit produced invalid conditional variance")
	}

	sigma := math.Sqrt(h) / garchScale
	return sigma, map[string]float64{
		"garch_omega": omega,
		"garch_alpha": alpha,
		"garch_beta":  beta,
	}, nil
}

// garchParams maps unconstrained optimizer coordinates to valid GARCH
// parameters: omega = exp(p0); (alpha, beta) share a softmax so that
// alpha + beta < 1.
func garchParams(p []float64) (omega, alpha, beta float64) {
	omega = math.Exp(p[0])
	ea := math.Exp(p[1])
	eb := math.Exp(p[2])
	denom := 1 + ea + eb
	alpha = ea / denom
	beta = eb / denom
	return omega, alpha, beta
}

// logitWeight is the inverse of the softmax mapping for a single coordinate
// assuming the remaining mass is split with the other one near zero.
func logitWeight(w float64) float64 {
	if w <= 0 {
		return -10
	}
	if w >= 1 {
		return 10
	}
	return math.Log(w / (1 - w))
}

func garchNegLogLikelihood(eps []float64, h0, omega, alpha, beta float64) float64 {
	if omega <= 0 {
		return math.Inf(1)
	}

	nll := 0.0
	h := h0
	for _, e := range eps {
		if h <= 0 {
			return math.Inf(1)
		}
		nll += 0.5 * (math.Log(2*math.Pi) + math.Log(h) + e*e/h)
		h = omega + alpha*e*e + beta*h
	}
	if math.IsNaN(nll) {
		return math.Inf(1)
	}
	return nll
}

func variance(values []float64) float64 {
	sd := formulas.StdDev(values)
	return sd * sd
}
