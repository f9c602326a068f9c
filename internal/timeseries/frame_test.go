package timeseries

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame() *Frame {
	return NewFrame([]string{"AAA", "BBB"}, map[string]map[string]float64{
		"AAA": {
			"2024-01-02": 100,
			"2024-01-03": 110,
			"2024-01-04": 99,
		},
		"BBB": {
			"2024-01-02": 50,
			"2024-01-03": 51,
			"2024-01-04": 52,
		},
	})
}

func TestNewFrameUnionOfDates(t *testing.T) {
	f := NewFrame([]string{"AAA", "BBB"}, map[string]map[string]float64{
		"AAA": {"2024-01-02": 100},
		"BBB": {"2024-01-03": 50},
	})

	require.Equal(t, []string{"2024-01-02", "2024-01-03"}, f.Dates)
	assert.True(t, math.IsNaN(f.Data["AAA"][1]))
	assert.True(t, math.IsNaN(f.Data["BBB"][0]))
}

func TestReturns(t *testing.T) {
	returns := testFrame().Returns()

	require.Equal(t, []string{"2024-01-03", "2024-01-04"}, returns.Dates)
	assert.InDelta(t, 0.10, returns.Data["AAA"][0], 1e-12)
	assert.InDelta(t, -0.10, returns.Data["AAA"][1], 1e-12)
	assert.InDelta(t, 0.02, returns.Data["BBB"][0], 1e-12)
}

func TestFillMissing(t *testing.T) {
	f := NewFrame([]string{"AAA"}, map[string]map[string]float64{
		"AAA": {
			"2024-01-02": 100,
			"2024-01-04": 104,
		},
	})
	f.Dates = []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	f.Data["AAA"] = []float64{100, math.NaN(), 104}

	filled := f.FillMissing()
	assert.Equal(t, []float64{100, 100, 104}, filled.Data["AAA"])
}

func TestResampleMonthEnd(t *testing.T) {
	f := NewFrame([]string{"AAA"}, map[string]map[string]float64{
		"AAA": {
			"2024-01-15": 100,
			"2024-01-31": 102,
			"2024-02-14": 105,
			"2024-02-29": 103,
			"2024-03-08": 110,
		},
	})

	monthly := f.ResampleMonthEnd()
	require.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-08"}, monthly.Dates)
	assert.Equal(t, []float64{102, 103, 110}, monthly.Data["AAA"])
}

// A portfolio fully weighted on one asset must reproduce that asset's own
// return series exactly.
func TestPortfolioReturnsSingleAssetRoundTrip(t *testing.T) {
	returns := testFrame().Returns()

	series, err := returns.PortfolioReturns([]float64{1, 0})
	require.NoError(t, err)

	aaa, err := returns.Column("AAA")
	require.NoError(t, err)
	assert.Equal(t, aaa.Values, series.Values)
}

// When an asset is missing on a day, the remaining weights are renormalized
// over the assets present that day rather than zero-filling.
func TestPortfolioReturnsMaskedRenormalization(t *testing.T) {
	f := &Frame{
		Dates:   []string{"2024-01-03", "2024-01-04"},
		Columns: []string{"AAA", "BBB"},
		Data: map[string][]float64{
			"AAA": {0.10, math.NaN()},
			"BBB": {0.02, 0.04},
		},
	}

	series, err := f.PortfolioReturns([]float64{0.5, 0.5})
	require.NoError(t, err)

	assert.InDelta(t, 0.06, series.Values[0], 1e-12)
	// AAA missing: BBB's weight rescales to 1, so the day is BBB's return.
	assert.InDelta(t, 0.04, series.Values[1], 1e-12)
}

func TestPortfolioReturnsWeightMismatch(t *testing.T) {
	_, err := testFrame().Returns().PortfolioReturns([]float64{1})
	assert.Error(t, err)
}

func TestAlignSeriesInnerJoin(t *testing.T) {
	a := &Series{Dates: []string{"2024-01-02", "2024-01-03"}, Values: []float64{0.01, 0.02}}
	b := &Series{Dates: []string{"2024-01-03", "2024-01-04"}, Values: []float64{0.05, 0.06}}

	aa, bb := AlignSeries(a, b)
	require.Equal(t, []string{"2024-01-03"}, aa.Dates)
	assert.Equal(t, []float64{0.02}, aa.Values)
	assert.Equal(t, []float64{0.05}, bb.Values)
}

func TestSub(t *testing.T) {
	a := &Series{Dates: []string{"2024-01-02", "2024-01-03"}, Values: []float64{0.03, 0.02}}
	b := &Series{Dates: []string{"2024-01-02", "2024-01-03"}, Values: []float64{0.01, 0.05}}

	diff := Sub(a, b)
	assert.InDelta(t, 0.02, diff.Values[0], 1e-12)
	assert.InDelta(t, -0.03, diff.Values[1], 1e-12)
}
