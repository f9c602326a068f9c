// Package backtest validates VaR models against realized returns and
// applies stress scenarios to portfolios.
package backtest

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantfolio/quantfolio/internal/modules/risk"
)

// MinObservations is the smallest return series a backtest accepts.
const MinObservations = 30

// MaxWindow caps the rolling estimation window.
const MaxWindow = 250

// Basel traffic-light thresholds on the exception rate. Fixed constants
// independent of the VaR alpha, matching the 99% regulatory convention.
const (
	greenZoneMax = 0.01
	amberZoneMax = 0.02
)

// ErrInsufficientData is returned when the series is too short to backtest.
var ErrInsufficientData = errors.New("insufficient data for backtest")

// ErrUnsupportedMethod is returned for methods the rolling backtest cannot
// re-estimate at every step (garch, evt).
var ErrUnsupportedMethod = errors.New("method not supported in backtest")

// Result summarizes a rolling-window VaR backtest.
type Result struct {
	Observations  int         `json:"observations"`
	Window        int         `json:"window"`
	Exceptions    int         `json:"exceptions"`
	ExceptionRate float64     `json:"exception_rate"`
	ExpectedRate  float64     `json:"expected_rate"`
	Kupiec        TestResult  `json:"kupiec"`
	Independence  TestResult  `json:"independence"`
	Conditional   TestResult  `json:"conditional_coverage"`
	Zone          string      `json:"zone"`
	Method        risk.Method `json:"method"`
	Alpha         float64     `json:"alpha"`
}

// TestResult is a likelihood-ratio statistic with its p-value. Degenerate
// cases (no exceptions, a single exception) report LR 0 and p-value 1.
type TestResult struct {
	LR         float64 `json:"lr"`
	PValue     float64 `json:"p_value"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// Run performs a rolling-window VaR backtest. At each step past the window
// the VaR estimate from the preceding window is compared against the
// realized loss; losses exceeding the estimate count as exceptions.
//
// Only historical, std and ewma methods are supported: garch and evt are too
// expensive or unstable to refit at every step.
func Run(returns []float64, alpha float64, method risk.Method, set *risk.EstimatorSet) (Result, error) {
	switch method {
	case risk.MethodHistorical, risk.MethodStd, risk.MethodEWMA:
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	n := len(returns)
	if n < MinObservations {
		return Result{}, fmt.Errorf("%w: need at least %d observations, got %d", ErrInsufficientData, MinObservations, n)
	}

	window := MaxWindow
	if n-1 < window {
		window = n - 1
	}

	exceptions := make([]bool, 0, n-window)
	for t := window; t < n; t++ {
		estimate, err := risk.VaR(returns[t-window:t], alpha, method, set)
		if err != nil {
			return Result{}, fmt.Errorf("var estimate at step %d: %w", t, err)
		}
		exceptions = append(exceptions, -returns[t] > estimate.Value)
	}

	count := 0
	for _, e := range exceptions {
		if e {
			count++
		}
	}

	nObs := len(exceptions)
	rate := 0.0
	if nObs > 0 {
		rate = float64(count) / float64(nObs)
	}

	kupiec := KupiecPOF(nObs, count, 1-alpha)
	independence := ChristoffersenIndependence(exceptions)

	conditional := TestResult{
		LR:         kupiec.LR + independence.LR,
		Degenerate: kupiec.Degenerate || independence.Degenerate,
	}
	conditional.PValue = chiSquaredSurvival(conditional.LR, 2)
	if conditional.Degenerate {
		conditional.PValue = 1
	}

	return Result{
		Observations:  nObs,
		Window:        window,
		Exceptions:    count,
		ExceptionRate: rate,
		ExpectedRate:  1 - alpha,
		Kupiec:        kupiec,
		Independence:  independence,
		Conditional:   conditional,
		Zone:          BaselZone(rate),
		Method:        method,
		Alpha:         alpha,
	}, nil
}

// KupiecPOF is the proportion-of-failures likelihood-ratio test comparing
// the observed exception rate against the nominal rate p. Asymptotically
// chi-squared with one degree of freedom.
func KupiecPOF(n, exceptions int, p float64) TestResult {
	if n == 0 || exceptions == 0 {
		return TestResult{LR: 0, PValue: 1, Degenerate: true}
	}
	if exceptions >= n {
		return TestResult{LR: math.Inf(1), PValue: 0, Degenerate: true}
	}

	pi := float64(exceptions) / float64(n)
	nf := float64(n)
	x := float64(exceptions)

	logNull := (nf-x)*math.Log(1-p) + x*math.Log(p)
	logAlt := (nf-x)*math.Log(1-pi) + x*math.Log(pi)
	lr := -2 * (logNull - logAlt)
	if lr < 0 {
		lr = 0
	}

	return TestResult{LR: lr, PValue: chiSquaredSurvival(lr, 1)}
}

// ChristoffersenIndependence tests whether exceptions cluster by measuring
// the lag-1 autocorrelation of the exception indicator: LR = n * rho^2,
// chi-squared with one degree of freedom. With one exception or fewer the
// autocorrelation is undefined and the test is degenerate.
func ChristoffersenIndependence(exceptions []bool) TestResult {
	n := len(exceptions)
	count := 0
	for _, e := range exceptions {
		if e {
			count++
		}
	}
	if n < 2 || count <= 1 {
		return TestResult{LR: 0, PValue: 1, Degenerate: true}
	}

	indicator := make([]float64, n)
	for i, e := range exceptions {
		if e {
			indicator[i] = 1
		}
	}

	rho := lag1Autocorrelation(indicator)
	if math.IsNaN(rho) {
		return TestResult{LR: 0, PValue: 1, Degenerate: true}
	}

	lr := float64(n) * rho * rho
	return TestResult{LR: lr, PValue: chiSquaredSurvival(lr, 1)}
}

// BaselZone maps an exception rate onto the Basel traffic-light zones.
// Boundaries are inclusive: exactly 1% is green, exactly 2% is amber.
func BaselZone(exceptionRate float64) string {
	switch {
	case exceptionRate <= greenZoneMax:
		return "green"
	case exceptionRate <= amberZoneMax:
		return "amber"
	default:
		return "red"
	}
}

func lag1Autocorrelation(values []float64) float64 {
	n := len(values)
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var num, denom float64
	for i := 0; i < n; i++ {
		d := values[i] - mean
		denom += d * d
		if i > 0 {
			num += d * (values[i-1] - mean)
		}
	}
	if denom == 0 {
		return math.NaN()
	}
	return num / denom
}

func chiSquaredSurvival(x float64, df float64) float64 {
	if x <= 0 {
		return 1
	}
	dist := distuv.ChiSquared{K: df}
	return dist.Survival(x)
}
