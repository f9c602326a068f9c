package formulas

import (
	"fmt"
	"math"
)

// NormalizeWeights validates a portfolio weight vector and rescales it to sum
// to 1. Negative weights and non-positive sums are rejected; NaN entries are
// treated as invalid.
func NormalizeWeights(weights []float64) ([]float64, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("empty weight vector")
	}

	sum := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight %d is not finite", i)
		}
		if w < 0 {
			return nil, fmt.Errorf("negative weight at index %d: %v", i, w)
		}
		sum += w
	}

	if sum <= 0 {
		return nil, fmt.Errorf("weights must sum to a positive number, got %v", sum)
	}

	normalized := make([]float64, len(weights))
	for i, w := range weights {
		normalized[i] = w / sum
	}
	return normalized, nil
}
