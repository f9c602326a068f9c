// Package technical computes moving-average indicators on price series.
package technical

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/quantfolio/quantfolio/internal/timeseries"
)

// Default indicator windows.
const (
	DefaultSMAWindow = 20
	DefaultEMAWindow = 20

	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

var ErrWindowTooLarge = errors.New("window exceeds series length")

// IndicatorSeries pairs indicator values with the dates of the input
// series. Warmup entries are NaN rather than zero so charts and JSON
// consumers can tell "not yet defined" from a legitimate zero.
type IndicatorSeries struct {
	Dates  []string  `json:"dates"`
	Values []float64 `json:"values"`
}

// MarshalJSON customizes JSON serialization to emit null for warmup NaN
// entries, which encoding/json rejects.
func (s IndicatorSeries) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Dates  []string   `json:"dates"`
		Values []*float64 `json:"values"`
	}{s.Dates, nullable(s.Values)})
}

// Last returns the most recent defined value, or NaN when none exists.
func (s IndicatorSeries) Last() float64 {
	for i := len(s.Values) - 1; i >= 0; i-- {
		if !math.IsNaN(s.Values[i]) {
			return s.Values[i]
		}
	}
	return math.NaN()
}

// SMA computes the simple moving average over the given window.
func SMA(prices *timeseries.Series, window int) (IndicatorSeries, error) {
	if window <= 0 {
		window = DefaultSMAWindow
	}
	if err := checkWindow(prices, window); err != nil {
		return IndicatorSeries{}, err
	}
	values := talib.Sma(prices.Values, window)
	maskWarmup(values, window-1)
	return IndicatorSeries{Dates: prices.Dates, Values: values}, nil
}

// EMA computes the exponential moving average with multiplier 2/(window+1).
func EMA(prices *timeseries.Series, window int) (IndicatorSeries, error) {
	if window <= 0 {
		window = DefaultEMAWindow
	}
	if err := checkWindow(prices, window); err != nil {
		return IndicatorSeries{}, err
	}
	values := talib.Ema(prices.Values, window)
	maskWarmup(values, window-1)
	return IndicatorSeries{Dates: prices.Dates, Values: values}, nil
}

// MACDResult carries the MACD line, its signal line and the histogram,
// all aligned with the input dates.
type MACDResult struct {
	Dates     []string  `json:"dates"`
	MACD      []float64 `json:"macd"`
	Signal    []float64 `json:"signal"`
	Histogram []float64 `json:"histogram"`
}

// MarshalJSON customizes JSON serialization to emit null for warmup NaN
// entries, which encoding/json rejects.
func (r MACDResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Dates     []string   `json:"dates"`
		MACD      []*float64 `json:"macd"`
		Signal    []*float64 `json:"signal"`
		Histogram []*float64 `json:"histogram"`
	}{r.Dates, nullable(r.MACD), nullable(r.Signal), nullable(r.Histogram)})
}

// MACD computes moving average convergence/divergence. Zero periods fall
// back to the 12/26/9 convention.
func MACD(prices *timeseries.Series, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 {
		fast = DefaultMACDFast
	}
	if slow <= 0 {
		slow = DefaultMACDSlow
	}
	if signal <= 0 {
		signal = DefaultMACDSignal
	}
	if fast >= slow {
		return MACDResult{}, fmt.Errorf("macd fast period %d must be below slow period %d", fast, slow)
	}
	if err := checkWindow(prices, slow+signal-1); err != nil {
		return MACDResult{}, err
	}

	macd, sig, hist := talib.Macd(prices.Values, fast, slow, signal)
	warmup := slow + signal - 2
	maskWarmup(macd, warmup)
	maskWarmup(sig, warmup)
	maskWarmup(hist, warmup)

	return MACDResult{Dates: prices.Dates, MACD: macd, Signal: sig, Histogram: hist}, nil
}

func checkWindow(prices *timeseries.Series, window int) error {
	if len(prices.Values) < window {
		return fmt.Errorf("%w: need %d observations, have %d", ErrWindowTooLarge, window, len(prices.Values))
	}
	return nil
}

func nullable(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		val := v
		out[i] = &val
	}
	return out
}

func maskWarmup(values []float64, n int) {
	if n > len(values) {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		values[i] = math.NaN()
	}
}
