// Package attribution provides covariance estimation and portfolio risk
// decomposition: volatility contributions, incremental and marginal VaR and
// VaR relative to a benchmark.
package attribution

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// CovarianceResult holds a covariance matrix in the order of Columns.
// Shrinkage is the Ledoit-Wolf intensity actually applied; 0 signals that
// the estimator degraded to the plain sample covariance.
type CovarianceResult struct {
	Cov       [][]float64 `json:"cov"`
	Shrinkage float64     `json:"shrinkage"`
	Columns   []string    `json:"columns"`
}

// SampleCovariance computes the sample covariance matrix (N-1 denominator)
// of the return columns in the given order. All columns must have the same
// number of observations, at least two.
func SampleCovariance(returns map[string][]float64, columns []string) ([][]float64, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns provided")
	}

	length := -1
	for _, col := range columns {
		ret, ok := returns[col]
		if !ok {
			return nil, fmt.Errorf("missing returns for %s", col)
		}
		if length == -1 {
			length = len(ret)
		}
		if len(ret) != length {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for %s", length, len(ret), col)
		}
	}
	if length < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", length)
	}

	n := len(columns)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(returns[columns[i]], returns[columns[j]], nil)
			cov[i][j] = c
			cov[j][i] = c
		}
	}

	return cov, nil
}

// LedoitWolf computes the Ledoit-Wolf shrinkage estimator with a
// constant-correlation target. The optimal intensity is estimated from the
// data; when the estimate is degenerate (zero dispersion, too little data)
// the sample covariance is returned with Shrinkage 0.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "Honey, I shrunk the sample
// covariance matrix".
func LedoitWolf(returns map[string][]float64, columns []string) (CovarianceResult, error) {
	sample, err := SampleCovariance(returns, columns)
	if err != nil {
		return CovarianceResult{}, err
	}

	n := len(columns)
	t := len(returns[columns[0]])

	if n < 2 {
		return CovarianceResult{Cov: sample, Shrinkage: 0, Columns: columns}, nil
	}

	// Demeaned observation matrix, T x N.
	x := make([][]float64, t)
	for k := 0; k < t; k++ {
		x[k] = make([]float64, n)
	}
	for j, col := range columns {
		mean := stat.Mean(returns[col], nil)
		for k := 0; k < t; k++ {
			x[k][j] = returns[col][k] - mean
		}
	}

	// Biased (1/T) covariance used inside the intensity formulas.
	s := make([][]float64, n)
	for i := range s {
		s[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < t; k++ {
				sum += x[k][i] * x[k][j]
			}
			s[i][j] = sum / float64(t)
		}
	}

	// Average sample correlation and the constant-correlation target.
	rbar := 0.0
	count := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Sqrt(s[i][i] * s[j][j])
			if d > 0 {
				rbar += s[i][j] / d
				count++
			}
		}
	}
	if count == 0 {
		return CovarianceResult{Cov: sample, Shrinkage: 0, Columns: columns}, nil
	}
	rbar /= float64(count)

	target := make([][]float64, n)
	for i := range target {
		target[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				target[i][j] = s[i][i]
			} else {
				target[i][j] = rbar * math.Sqrt(s[i][i]*s[j][j])
			}
		}
	}

	// pi: sum of asymptotic variances of the sample covariance entries.
	piMat := make([][]float64, n)
	piHat := 0.0
	for i := range piMat {
		piMat[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < t; k++ {
				d := x[k][i]*x[k][j] - s[i][j]
				sum += d * d
			}
			piMat[i][j] = sum / float64(t)
			piHat += piMat[i][j]
		}
	}

	// rho: covariance between estimation errors of the sample matrix and
	// the target. Diagonal terms plus the constant-correlation correction.
	rhoHat := 0.0
	for i := 0; i < n; i++ {
		rhoHat += piMat[i][i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if s[i][i] <= 0 || s[j][j] <= 0 {
				continue
			}
			thetaII := 0.0
			thetaJJ := 0.0
			for k := 0; k < t; k++ {
				common := x[k][i]*x[k][j] - s[i][j]
				thetaII += (x[k][i]*x[k][i] - s[i][i]) * common
				thetaJJ += (x[k][j]*x[k][j] - s[j][j]) * common
			}
			thetaII /= float64(t)
			thetaJJ /= float64(t)
			rhoHat += rbar / 2 * (math.Sqrt(s[j][j]/s[i][i])*thetaII + math.Sqrt(s[i][i]/s[j][j])*thetaJJ)
		}
	}

	// gamma: squared Frobenius distance between sample and target.
	gammaHat := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := s[i][j] - target[i][j]
			gammaHat += d * d
		}
	}

	if gammaHat <= 0 || math.IsNaN(gammaHat) || math.IsNaN(piHat) || math.IsNaN(rhoHat) {
		return CovarianceResult{Cov: sample, Shrinkage: 0, Columns: columns}, nil
	}

	kappa := (piHat - rhoHat) / gammaHat
	shrinkage := kappa / float64(t)
	if shrinkage < 0 {
		shrinkage = 0
	}
	if shrinkage > 1 {
		shrinkage = 1
	}

	shrunk := make([][]float64, n)
	for i := range shrunk {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sample[i][j] + shrinkage*target[i][j]
		}
	}

	return CovarianceResult{Cov: shrunk, Shrinkage: shrinkage, Columns: columns}, nil
}
