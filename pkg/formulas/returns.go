// Package formulas provides pure financial math helpers shared across modules.
package formulas

import "math"

// CalculateReturns converts a price series into simple percentage returns.
// The first observation is dropped (no prior price). A non-positive or NaN
// prior price yields a NaN return at that position.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && !math.IsNaN(prices[i]) && !math.IsNaN(prices[i-1]) {
			returns[i-1] = prices[i]/prices[i-1] - 1
		} else {
			returns[i-1] = math.NaN()
		}
	}
	return returns
}

// AnnualizedMean scales a mean daily return to an annual figure.
func AnnualizedMean(meanDaily float64, tradingDays int) float64 {
	return meanDaily * float64(tradingDays)
}

// AnnualizedVolatility scales a daily volatility to an annual figure.
func AnnualizedVolatility(sigmaDaily float64, tradingDays int) float64 {
	return sigmaDaily * math.Sqrt(float64(tradingDays))
}

// DropNaN returns a copy of values with NaN entries removed.
func DropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
