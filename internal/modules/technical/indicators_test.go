package technical

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/timeseries"
)

func priceSeries(values []float64) *timeseries.Series {
	dates := make([]string, len(values))
	for i := range dates {
		dates[i] = fmt.Sprintf("2024-%03d", i+1)
	}
	return &timeseries.Series{Dates: dates, Values: values}
}

func constantSeries(n int, v float64) *timeseries.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return priceSeries(values)
}

func TestSMAKnownValues(t *testing.T) {
	prices := priceSeries([]float64{1, 2, 3, 4, 5, 6})

	res, err := SMA(prices, 3)
	require.NoError(t, err)
	require.Len(t, res.Values, 6)

	assert.True(t, math.IsNaN(res.Values[0]))
	assert.True(t, math.IsNaN(res.Values[1]))
	assert.InDelta(t, 2.0, res.Values[2], 1e-9)
	assert.InDelta(t, 3.0, res.Values[3], 1e-9)
	assert.InDelta(t, 5.0, res.Values[5], 1e-9)
	assert.InDelta(t, 5.0, res.Last(), 1e-9)
}

func TestSMAWindowTooLarge(t *testing.T) {
	_, err := SMA(priceSeries([]float64{1, 2}), 5)
	assert.ErrorIs(t, err, ErrWindowTooLarge)
}

// A constant price series keeps every indicator pinned at that price.
func TestEMAConstantSeries(t *testing.T) {
	res, err := EMA(constantSeries(50, 42.0), 10)
	require.NoError(t, err)

	for i := 9; i < 50; i++ {
		assert.InDelta(t, 42.0, res.Values[i], 1e-9)
	}
	assert.True(t, math.IsNaN(res.Values[8]))
}

func TestEMAReactsFasterThanSMA(t *testing.T) {
	// Flat then a step up; EMA should sit closer to the new level.
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100
		if i >= 50 {
			values[i] = 110
		}
	}
	prices := priceSeries(values)

	sma, err := SMA(prices, 20)
	require.NoError(t, err)
	ema, err := EMA(prices, 20)
	require.NoError(t, err)

	assert.Greater(t, ema.Last(), sma.Last())
}

func TestMACDConstantSeriesIsZero(t *testing.T) {
	res, err := MACD(constantSeries(80, 50.0), 0, 0, 0)
	require.NoError(t, err)

	last := len(res.MACD) - 1
	assert.InDelta(t, 0.0, res.MACD[last], 1e-9)
	assert.InDelta(t, 0.0, res.Signal[last], 1e-9)
	assert.InDelta(t, 0.0, res.Histogram[last], 1e-9)

	// 12/26/9 defaults leave the first 33 entries undefined.
	assert.True(t, math.IsNaN(res.MACD[32]))
	assert.False(t, math.IsNaN(res.MACD[33]))
}

func TestMACDUptrendPositive(t *testing.T) {
	values := make([]float64, 120)
	for i := range values {
		values[i] = 100 * math.Pow(1.005, float64(i))
	}
	res, err := MACD(priceSeries(values), 12, 26, 9)
	require.NoError(t, err)

	last := len(res.MACD) - 1
	assert.Greater(t, res.MACD[last], 0.0)
}

func TestMACDRejectsInvertedPeriods(t *testing.T) {
	_, err := MACD(constantSeries(80, 50.0), 26, 12, 9)
	assert.Error(t, err)
}

func TestMACDInsufficientData(t *testing.T) {
	_, err := MACD(constantSeries(20, 50.0), 12, 26, 9)
	assert.ErrorIs(t, err, ErrWindowTooLarge)
}

func TestIndicatorSeriesMarshalsWarmupAsNull(t *testing.T) {
	res, err := SMA(priceSeries([]float64{1, 2, 3, 4}), 3)
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "null")
	assert.NotContains(t, string(raw), "NaN")
}
