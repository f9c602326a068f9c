package timeseries

import (
	"fmt"
	"math"
	"sort"
)

// Frame is a date-indexed table: one value column per asset, NaN for gaps.
// Columns preserves the caller's asset order, which also fixes matrix
// ordering downstream.
type Frame struct {
	Dates   []string
	Columns []string
	Data    map[string][]float64
}

// NewFrame builds a frame from per-column date->value maps. The union of all
// dates becomes the index; absent observations are NaN.
func NewFrame(columns []string, byColumn map[string]map[string]float64) *Frame {
	dateSet := make(map[string]bool)
	for _, col := range columns {
		for d := range byColumn[col] {
			dateSet[d] = true
		}
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	data := make(map[string][]float64, len(columns))
	for _, col := range columns {
		values := make([]float64, len(dates))
		for i, d := range dates {
			if v, ok := byColumn[col][d]; ok {
				values[i] = v
			} else {
				values[i] = math.NaN()
			}
		}
		data[col] = values
	}

	return &Frame{Dates: dates, Columns: append([]string(nil), columns...), Data: data}
}

// Column extracts a single column as a Series.
func (f *Frame) Column(name string) (*Series, error) {
	values, ok := f.Data[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	return &Series{Dates: f.Dates, Values: values}, nil
}

// FillMissing forward-fills then back-fills gaps in each column.
func (f *Frame) FillMissing() *Frame {
	filled := &Frame{
		Dates:   f.Dates,
		Columns: f.Columns,
		Data:    make(map[string][]float64, len(f.Data)),
	}

	for col, values := range f.Data {
		out := make([]float64, len(values))
		copy(out, values)

		var lastValid float64
		hasLastValid := false
		for i := 0; i < len(out); i++ {
			if math.IsNaN(out[i]) {
				if hasLastValid {
					out[i] = lastValid
				}
			} else {
				lastValid = out[i]
				hasLastValid = true
			}
		}

		var nextValid float64
		hasNextValid := false
		for i := len(out) - 1; i >= 0; i-- {
			if math.IsNaN(out[i]) {
				if hasNextValid {
					out[i] = nextValid
				}
			} else {
				nextValid = out[i]
				hasNextValid = true
			}
		}

		filled.Data[col] = out
	}

	return filled
}

// Returns converts a price frame to a simple-return frame. The first row is
// dropped; a return is NaN when either neighboring price is missing.
func (f *Frame) Returns() *Frame {
	if len(f.Dates) < 2 {
		return &Frame{Dates: []string{}, Columns: f.Columns, Data: map[string][]float64{}}
	}

	out := &Frame{
		Dates:   f.Dates[1:],
		Columns: f.Columns,
		Data:    make(map[string][]float64, len(f.Data)),
	}

	for col, prices := range f.Data {
		returns := make([]float64, len(prices)-1)
		for i := 1; i < len(prices); i++ {
			if prices[i-1] > 0 && !math.IsNaN(prices[i]) && !math.IsNaN(prices[i-1]) {
				returns[i-1] = prices[i]/prices[i-1] - 1
			} else {
				returns[i-1] = math.NaN()
			}
		}
		out.Data[col] = returns
	}

	return out
}

// ResampleMonthEnd keeps the last observation of each calendar month.
// Dates must be ISO formatted so the year-month is a string prefix.
func (f *Frame) ResampleMonthEnd() *Frame {
	if len(f.Dates) == 0 {
		return &Frame{Dates: []string{}, Columns: f.Columns, Data: map[string][]float64{}}
	}

	var keep []int
	for i := 0; i < len(f.Dates); i++ {
		if i == len(f.Dates)-1 || f.Dates[i][:7] != f.Dates[i+1][:7] {
			keep = append(keep, i)
		}
	}

	out := &Frame{
		Dates:   make([]string, len(keep)),
		Columns: f.Columns,
		Data:    make(map[string][]float64, len(f.Data)),
	}
	for i, j := range keep {
		out.Dates[i] = f.Dates[j]
	}
	for col, values := range f.Data {
		sampled := make([]float64, len(keep))
		for i, j := range keep {
			sampled[i] = values[j]
		}
		out.Data[col] = sampled
	}

	return out
}

// DropAllNaNRows removes rows where every column is NaN.
func (f *Frame) DropAllNaNRows() *Frame {
	var keep []int
	for i := range f.Dates {
		allNaN := true
		for _, col := range f.Columns {
			if !math.IsNaN(f.Data[col][i]) {
				allNaN = false
				break
			}
		}
		if !allNaN {
			keep = append(keep, i)
		}
	}

	out := &Frame{
		Dates:   make([]string, len(keep)),
		Columns: f.Columns,
		Data:    make(map[string][]float64, len(f.Data)),
	}
	for i, j := range keep {
		out.Dates[i] = f.Dates[j]
	}
	for col, values := range f.Data {
		kept := make([]float64, len(keep))
		for i, j := range keep {
			kept[i] = values[j]
		}
		out.Data[col] = kept
	}
	return out
}

// PortfolioReturns collapses a return frame into a weighted portfolio return
// series. weights must be ordered like f.Columns and already normalized.
//
// On days where some assets have no return, the weights of the assets that
// are present are renormalized to sum to 1 for that day. Days where no asset
// is present yield NaN.
func (f *Frame) PortfolioReturns(weights []float64) (*Series, error) {
	if len(weights) != len(f.Columns) {
		return nil, fmt.Errorf("weights/columns length mismatch: %d vs %d", len(weights), len(f.Columns))
	}

	values := make([]float64, len(f.Dates))
	for i := range f.Dates {
		weighted := 0.0
		present := 0.0
		for j, col := range f.Columns {
			v := f.Data[col][i]
			if math.IsNaN(v) {
				continue
			}
			weighted += weights[j] * v
			present += weights[j]
		}
		if present > 0 {
			values[i] = weighted / present
		} else {
			values[i] = math.NaN()
		}
	}

	return &Series{Dates: f.Dates, Values: values}, nil
}
