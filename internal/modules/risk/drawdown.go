package risk

import (
	"math"

	"github.com/quantfolio/quantfolio/internal/timeseries"
)

// DrawdownResult describes the deepest peak-to-trough decline of a return
// series.
type DrawdownResult struct {
	MaxDrawdown float64   `json:"max_drawdown"` // most negative drawdown, e.g. -0.23
	StartDate   string    `json:"start_date"`   // last date at the prior peak
	TroughDate  string    `json:"trough_date"`
	Series      []float64 `json:"series"` // drawdown at each date
	Dates       []string  `json:"dates"`
}

// peakTolerance treats a cumulative value within 0.01% of the running peak
// as being at the peak when scanning backward for the drawdown start.
const peakTolerance = 1e-4

// Drawdown compounds the return series, tracks the running maximum and
// reports the deepest drawdown with its start and trough dates.
func Drawdown(series *timeseries.Series) (DrawdownResult, error) {
	if series == nil || series.Len() == 0 {
		return DrawdownResult{}, ErrNoObservations
	}

	n := series.Len()
	cum := make([]float64, n)
	runMax := make([]float64, n)
	dd := make([]float64, n)

	value := 1.0
	peak := math.Inf(-1)
	for i := 0; i < n; i++ {
		r := series.Values[i]
		if !math.IsNaN(r) {
			value *= 1 + r
		}
		cum[i] = value
		if value > peak {
			peak = value
		}
		runMax[i] = peak
		dd[i] = value/peak - 1
	}

	troughIdx := 0
	for i := 1; i < n; i++ {
		if dd[i] < dd[troughIdx] {
			troughIdx = i
		}
	}

	startIdx := troughIdx
	for i := troughIdx; i >= 0; i-- {
		if cum[i] >= runMax[troughIdx]*(1-peakTolerance) {
			startIdx = i
			break
		}
	}

	return DrawdownResult{
		MaxDrawdown: dd[troughIdx],
		StartDate:   series.Dates[startIdx],
		TroughDate:  series.Dates[troughIdx],
		Series:      dd,
		Dates:       series.Dates,
	}, nil
}
