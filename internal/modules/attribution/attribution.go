package attribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfolio/quantfolio/internal/modules/risk"
	"github.com/quantfolio/quantfolio/internal/timeseries"
	"github.com/quantfolio/quantfolio/pkg/formulas"
)

// ErrNoOverlap is returned when portfolio and benchmark series share no
// dates. Relative VaR must fail loudly in that case rather than quietly
// reporting zero.
var ErrNoOverlap = errors.New("no overlapping dates between series")

// DefaultIVaRDelta is the weight perturbation used for incremental VaR.
const DefaultIVaRDelta = 0.01

// ContributionResult decomposes portfolio volatility by asset. The
// contributions sum to PortfolioVol.
type ContributionResult struct {
	PortfolioVol  float64            `json:"portfolio_vol"`
	Contributions map[string]float64 `json:"contributions"`
	Weights       map[string]float64 `json:"weights"`
}

// Contributions computes per-asset contributions to portfolio volatility:
// contrib_i = w_i * (Sigma w)_i / sigma_p.
func Contributions(cov CovarianceResult, weights []float64) (ContributionResult, error) {
	n := len(cov.Columns)
	if len(weights) != n {
		return ContributionResult{}, fmt.Errorf("weights/columns length mismatch: %d vs %d", len(weights), n)
	}

	w, err := formulas.NormalizeWeights(weights)
	if err != nil {
		return ContributionResult{}, err
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, cov.Cov[i][j])
		}
	}

	wVec := mat.NewVecDense(n, w)
	sw := mat.NewVecDense(n, nil)
	sw.MulVec(sigma, wVec)

	portVar := mat.Dot(wVec, sw)
	if portVar <= 0 {
		return ContributionResult{}, fmt.Errorf("degenerate covariance: portfolio variance %v", portVar)
	}
	portVol := math.Sqrt(portVar)

	contribs := make(map[string]float64, n)
	weightMap := make(map[string]float64, n)
	for i, col := range cov.Columns {
		contribs[col] = w[i] * sw.AtVec(i) / portVol
		weightMap[col] = w[i]
	}

	return ContributionResult{
		PortfolioVol:  portVol,
		Contributions: contribs,
		Weights:       weightMap,
	}, nil
}

// VaRDeltaResult reports base portfolio VaR and the per-asset VaR changes
// from a weight perturbation (incremental) or removal (marginal). A NaN
// delta marks an undefined case such as removing the only asset.
type VaRDeltaResult struct {
	BaseVaR float64            `json:"base_var"`
	Deltas  map[string]float64 `json:"deltas"`
	Method  risk.Method        `json:"method"`
}

// MarshalJSON customizes JSON serialization to emit null for undefined
// deltas, which encoding/json would otherwise reject as NaN.
func (r VaRDeltaResult) MarshalJSON() ([]byte, error) {
	deltas := make(map[string]*float64, len(r.Deltas))
	for k, v := range r.Deltas {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			deltas[k] = nil
			continue
		}
		d := v
		deltas[k] = &d
	}
	return json.Marshal(struct {
		BaseVaR float64             `json:"base_var"`
		Deltas  map[string]*float64 `json:"deltas"`
		Method  risk.Method         `json:"method"`
	}{r.BaseVaR, deltas, r.Method})
}

// IncrementalVaR perturbs each asset's weight by +delta, renormalizes, and
// reports the change in portfolio VaR versus the base weights.
func IncrementalVaR(
	returns *timeseries.Frame,
	weights []float64,
	alpha float64,
	method risk.Method,
	set *risk.EstimatorSet,
	delta float64,
) (VaRDeltaResult, error) {
	if delta <= 0 {
		delta = DefaultIVaRDelta
	}

	base, baseVaR, err := portfolioVaR(returns, weights, alpha, method, set)
	if err != nil {
		return VaRDeltaResult{}, err
	}

	deltas := make(map[string]float64, len(returns.Columns))
	for i, col := range returns.Columns {
		perturbed := make([]float64, len(base))
		copy(perturbed, base)
		perturbed[i] += delta

		_, newVaR, err := portfolioVaR(returns, perturbed, alpha, method, set)
		if err != nil {
			return VaRDeltaResult{}, fmt.Errorf("incremental var for %s: %w", col, err)
		}
		deltas[col] = newVaR - baseVaR
	}

	return VaRDeltaResult{BaseVaR: baseVaR, Deltas: deltas, Method: method}, nil
}

// MarginalVaR removes each asset entirely, renormalizes the remaining
// weights and reports the change in portfolio VaR. For a single-asset
// portfolio the marginal VaR is NaN, since removal leaves nothing.
func MarginalVaR(
	returns *timeseries.Frame,
	weights []float64,
	alpha float64,
	method risk.Method,
	set *risk.EstimatorSet,
) (VaRDeltaResult, error) {
	_, baseVaR, err := portfolioVaR(returns, weights, alpha, method, set)
	if err != nil {
		return VaRDeltaResult{}, err
	}

	deltas := make(map[string]float64, len(returns.Columns))
	for i, col := range returns.Columns {
		if len(returns.Columns) == 1 {
			deltas[col] = math.NaN()
			continue
		}

		remainingCols := make([]string, 0, len(returns.Columns)-1)
		remainingWeights := make([]float64, 0, len(weights)-1)
		for j, other := range returns.Columns {
			if j == i {
				continue
			}
			remainingCols = append(remainingCols, other)
			remainingWeights = append(remainingWeights, weights[j])
		}

		sub := &timeseries.Frame{
			Dates:   returns.Dates,
			Columns: remainingCols,
			Data:    returns.Data,
		}

		_, newVaR, err := portfolioVaR(sub, remainingWeights, alpha, method, set)
		if err != nil {
			return VaRDeltaResult{}, fmt.Errorf("marginal var for %s: %w", col, err)
		}
		deltas[col] = newVaR - baseVaR
	}

	return VaRDeltaResult{BaseVaR: baseVaR, Deltas: deltas, Method: method}, nil
}

// RelativeVaR aligns the portfolio and benchmark series on common dates and
// computes the VaR of the difference (active return) series.
func RelativeVaR(
	portfolio, benchmark *timeseries.Series,
	alpha float64,
	method risk.Method,
	set *risk.EstimatorSet,
) (risk.Metric, error) {
	diff := timeseries.Sub(portfolio, benchmark)
	if diff.Len() == 0 {
		return risk.Metric{}, ErrNoOverlap
	}
	return risk.VaR(diff.Values, alpha, method, set)
}

// portfolioVaR normalizes weights, builds the masked portfolio return series
// and computes its VaR.
func portfolioVaR(
	returns *timeseries.Frame,
	weights []float64,
	alpha float64,
	method risk.Method,
	set *risk.EstimatorSet,
) ([]float64, float64, error) {
	normalized, err := formulas.NormalizeWeights(weights)
	if err != nil {
		return nil, 0, err
	}

	series, err := returns.PortfolioReturns(normalized)
	if err != nil {
		return nil, 0, err
	}

	metric, err := risk.VaR(series.ValidValues(), alpha, method, set)
	if err != nil {
		return nil, 0, err
	}

	return normalized, metric.Value, nil
}
