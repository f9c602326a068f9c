package backtest

import (
	"fmt"
	"math"

	"github.com/quantfolio/quantfolio/internal/timeseries"
	"github.com/quantfolio/quantfolio/pkg/formulas"
)

// StressResult is the outcome of applying a uniform shock to the latest
// observed returns.
type StressResult struct {
	Shock           float64                `json:"shock"`
	PortfolioReturn float64                `json:"portfolio_return"`
	ShockedReturn   float64                `json:"shocked_return"`
	Impact          float64                `json:"impact"`
	Assets          map[string]AssetStress `json:"assets"`
}

// AssetStress carries per-asset shock detail.
type AssetStress struct {
	Weight  float64 `json:"weight"`
	Latest  float64 `json:"latest_return"`
	Shocked float64 `json:"shocked_return"`
}

// Stress applies a uniform percentage shock to each asset's most recent
// observed return and reports the portfolio impact. Assets whose latest
// return is missing take their last valid observation; assets with no valid
// observation at all are an error.
func Stress(returns *timeseries.Frame, weights []float64, shock float64) (StressResult, error) {
	if len(returns.Columns) == 0 || len(returns.Dates) == 0 {
		return StressResult{}, fmt.Errorf("empty return frame")
	}

	w, err := formulas.NormalizeWeights(weights)
	if err != nil {
		return StressResult{}, err
	}
	if len(w) != len(returns.Columns) {
		return StressResult{}, fmt.Errorf("weights/columns length mismatch: %d vs %d", len(w), len(returns.Columns))
	}

	assets := make(map[string]AssetStress, len(returns.Columns))
	base := 0.0
	shocked := 0.0
	for i, col := range returns.Columns {
		latest, ok := lastValid(returns.Data[col])
		if !ok {
			return StressResult{}, fmt.Errorf("no observed returns for %s", col)
		}

		assets[col] = AssetStress{
			Weight:  w[i],
			Latest:  latest,
			Shocked: latest + shock,
		}
		base += w[i] * latest
		shocked += w[i] * (latest + shock)
	}

	return StressResult{
		Shock:           shock,
		PortfolioReturn: base,
		ShockedReturn:   shocked,
		Impact:          shocked - base,
		Assets:          assets,
	}, nil
}

func lastValid(values []float64) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return values[i], true
		}
	}
	return 0, false
}
