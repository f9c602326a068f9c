package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/quantfolio/quantfolio/pkg/formulas"
)

// VaREVT estimates tail VaR by fitting a Generalized Pareto Distribution to
// loss excesses over the thresholdQuantile of the loss distribution.
//
// With fewer than 100 observations or fewer than 10 tail excesses the fit is
// not attempted and the historical estimate is returned instead; the same
// applies when the fit fails. A fallback is recognizable by the absence of
// the "xi" key in the details.
func VaREVT(returns []float64, alpha, thresholdQuantile float64) (Metric, error) {
	clean := formulas.DropNaN(returns)
	if len(clean) == 0 {
		return Metric{}, ErrNoObservations
	}
	if thresholdQuantile <= 0 || thresholdQuantile >= 1 {
		thresholdQuantile = DefaultEVTThresholdQuantile
	}

	losses := make([]float64, len(clean))
	for i, r := range clean {
		losses[i] = -r
	}

	u := formulas.Quantile(losses, thresholdQuantile)
	var excesses []float64
	for _, l := range losses {
		if l > u {
			excesses = append(excesses, l-u)
		}
	}

	if len(clean) < minEVTObservations || len(excesses) < minEVTExcesses {
		return VaRHistorical(clean, alpha)
	}

	xi, beta, err := fitGPD(excesses)
	if err != nil {
		return VaRHistorical(clean, alpha)
	}

	pTail := float64(len(excesses)) / float64(len(clean))
	ratio := pTail / (1 - alpha)

	var loss float64
	if math.Abs(xi) > 1e-9 {
		loss = u + (beta/xi)*(math.Pow(ratio, xi)-1)
	} else {
		loss = u + beta*math.Log(ratio)
	}

	return Metric{
		Value:  loss,
		Method: MethodEVT,
		Details: map[string]float64{
			"xi":     xi,
			"beta":   beta,
			"u":      u,
			"p_tail": pTail,
		},
	}, nil
}

// ESEVT derives the expected shortfall from the GPD tail:
// ES = VaR/(1-xi) + (beta - xi*u)/(1-xi), valid for xi < 1.
// When the VaR computation fell back to historical, or xi >= 1, the
// historical ES is returned.
func ESEVT(returns []float64, alpha, thresholdQuantile float64) (Metric, error) {
	varMetric, err := VaREVT(returns, alpha, thresholdQuantile)
	if err != nil {
		return Metric{}, err
	}

	xi, fitted := varMetric.Details["xi"]
	if !fitted || xi >= 1 {
		return ESHistorical(returns, alpha)
	}

	beta := varMetric.Details["beta"]
	u := varMetric.Details["u"]

	es := varMetric.Value/(1-xi) + (beta-xi*u)/(1-xi)

	details := map[string]float64{
		"xi":     xi,
		"beta":   beta,
		"u":      u,
		"p_tail": varMetric.Details["p_tail"],
		"var":    varMetric.Value,
	}

	return Metric{Value: es, Method: MethodEVT, Details: details}, nil
}

// fitGPD fits a Generalized Pareto Distribution with location fixed at zero
// to the excesses by maximum likelihood. beta is optimized on a log scale;
// xi is unconstrained with the support condition 1 + xi*y/beta > 0 enforced
// through an infinite penalty.
func fitGPD(excesses []float64) (xi, beta float64, err error) {
	if len(excesses) == 0 {
		return 0, 0, fmt.Errorf("no excesses to fit")
	}

	nll := func(p []float64) float64 {
		x := p[0]
		b := math.Exp(p[1])
		return gpdNegLogLikelihood(excesses, x, b)
	}

	sd := formulas.StdDev(excesses)
	if sd <= 0 {
		return 0, 0, fmt.Errorf("degenerate excess distribution")
	}
	x0 := []float64{0.1, math.Log(sd)}

	result, optErr := optimize.Minimize(optimize.Problem{Func: nll}, x0, nil, &optimize.NelderMead{})
	if optErr != nil {
		return 0, 0, fmt.Errorf("gpd fit failed: %w", optErr)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return 0, 0, fmt.Errorf("gpd fit diverged")
	}

	xi = result.X[0]
	beta = math.Exp(result.X[1])
	if beta <= 0 || math.IsNaN(xi) {
		return 0, 0, fmt.Errorf("gpd fit produced invalid parameters")
	}
	return xi, beta, nil
}

func gpdNegLogLikelihood(excesses []float64, xi, beta float64) float64 {
	if beta <= 0 {
		return math.Inf(1)
	}

	n := float64(len(excesses))
	if math.Abs(xi) < 1e-9 {
		// Exponential limit.
		sum := 0.0
		for _, y := range excesses {
			sum += y
		}
		return n*math.Log(beta) + sum/beta
	}

	nll := n * math.Log(beta)
	for _, y := range excesses {
		t := 1 + xi*y/beta
		if t <= 0 {
			return math.Inf(1)
		}
		nll += (1 + 1/xi) * math.Log(t)
	}
	if math.IsNaN(nll) {
		return math.Inf(1)
	}
	return nll
}
