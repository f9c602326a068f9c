// Package timeseries provides date-indexed containers for price and return
// data. Dates are ISO "2006-01-02" strings sorted ascending; NaN marks a
// missing observation.
package timeseries

import (
	"fmt"
	"math"
	"sort"
)

// DateFormat is the canonical date layout used throughout the service.
const DateFormat = "2006-01-02"

// Series is a single date-indexed value series.
type Series struct {
	Dates  []string
	Values []float64
}

// NewSeries builds a series from parallel date/value slices, sorting by date.
func NewSeries(dates []string, values []float64) (*Series, error) {
	if len(dates) != len(values) {
		return nil, fmt.Errorf("dates/values length mismatch: %d vs %d", len(dates), len(values))
	}

	idx := make([]int, len(dates))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return dates[idx[a]] < dates[idx[b]] })

	s := &Series{
		Dates:  make([]string, len(dates)),
		Values: make([]float64, len(values)),
	}
	for i, j := range idx {
		s.Dates[i] = dates[j]
		s.Values[i] = values[j]
	}
	return s, nil
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.Dates)
}

// ValidValues returns the non-NaN values in order.
func (s *Series) ValidValues() []float64 {
	out := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// AlignSeries inner-joins two series on their common dates.
func AlignSeries(a, b *Series) (*Series, *Series) {
	dateIndex := make(map[string]int, len(b.Dates))
	for i, d := range b.Dates {
		dateIndex[d] = i
	}

	var dates []string
	var avals, bvals []float64
	for i, d := range a.Dates {
		j, ok := dateIndex[d]
		if !ok {
			continue
		}
		if math.IsNaN(a.Values[i]) || math.IsNaN(b.Values[j]) {
			continue
		}
		dates = append(dates, d)
		avals = append(avals, a.Values[i])
		bvals = append(bvals, b.Values[j])
	}

	return &Series{Dates: dates, Values: avals}, &Series{Dates: dates, Values: bvals}
}

// Sub returns a-b over their common dates.
func Sub(a, b *Series) *Series {
	aa, bb := AlignSeries(a, b)
	diff := make([]float64, len(aa.Values))
	for i := range aa.Values {
		diff[i] = aa.Values[i] - bb.Values[i]
	}
	return &Series{Dates: aa.Dates, Values: diff}
}
