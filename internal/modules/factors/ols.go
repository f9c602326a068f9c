package factors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// olsResult holds an intercept-first OLS fit with classical standard errors.
type olsResult struct {
	Coefficients []float64 // [const, beta_1, ..., beta_k]
	TStats       []float64
	PValues      []float64
	R2           float64
}

// olsFit regresses y on a constant plus the given regressor rows.
func olsFit(y []float64, rows [][]float64) (olsResult, error) {
	n := len(y)
	if n == 0 || len(rows) != n {
		return olsResult{}, fmt.Errorf("inconsistent regression inputs")
	}
	k := len(rows[0]) + 1
	if n <= k {
		return olsResult{}, fmt.Errorf("need more than %d observations for %d coefficients, got %d", k, k, n)
	}

	x := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for j, v := range rows[i] {
			x.Set(i, j+1, v)
		}
	}
	yVec := mat.NewVecDense(n, y)

	var qr mat.QR
	qr.Factorize(x)

	var betaVec mat.VecDense
	if err := qr.SolveVecTo(&betaVec, false, yVec); err != nil {
		return olsResult{}, fmt.Errorf("ols solve: %w", err)
	}

	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(x, &betaVec)

	rss := 0.0
	meanY := 0.0
	for i := 0; i < n; i++ {
		meanY += y[i]
	}
	meanY /= float64(n)

	tss := 0.0
	for i := 0; i < n; i++ {
		resid := y[i] - fitted.AtVec(i)
		rss += resid * resid
		dy := y[i] - meanY
		tss += dy * dy
	}

	dof := n - k
	sigma2 := rss / float64(dof)

	// (X'X)^-1 for classical standard errors.
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return olsResult{}, fmt.Errorf("singular regressor matrix: %w", err)
	}

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}

	coeffs := make([]float64, k)
	tStats := make([]float64, k)
	pValues := make([]float64, k)
	for j := 0; j < k; j++ {
		coeffs[j] = betaVec.AtVec(j)
		se := math.Sqrt(sigma2 * xtxInv.At(j, j))
		if se > 0 {
			tStats[j] = coeffs[j] / se
			pValues[j] = 2 * tDist.Survival(math.Abs(tStats[j]))
		} else {
			tStats[j] = math.NaN()
			pValues[j] = math.NaN()
		}
	}

	r2 := 0.0
	if tss > 0 {
		r2 = 1 - rss/tss
	}

	return olsResult{
		Coefficients: coeffs,
		TStats:       tStats,
		PValues:      pValues,
		R2:           r2,
	}, nil
}
