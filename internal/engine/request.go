package engine

import (
	"fmt"
	"time"

	"github.com/quantfolio/quantfolio/internal/modules/factors"
	"github.com/quantfolio/quantfolio/internal/modules/risk"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

// DefaultAlpha applies when a request omits the confidence level.
const DefaultAlpha = 0.95

// PortfolioRequest describes a portfolio over a date range. Empty
// Weights means equal weighting. Method defaults to historical.
type PortfolioRequest struct {
	Assets    []string  `json:"assets"`
	Weights   []float64 `json:"weights,omitempty"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Alpha     float64   `json:"alpha,omitempty"`
	Method    string    `json:"method,omitempty"`
}

// validated carries the parsed form of a PortfolioRequest.
type validated struct {
	assets  []string
	weights []float64
	start   time.Time
	end     time.Time
	alpha   float64
	method  risk.Method
}

func (r PortfolioRequest) validate() (validated, error) {
	v := validated{assets: r.Assets}

	if len(r.Assets) == 0 {
		return v, fmt.Errorf("%w: empty asset list", ErrValidation)
	}
	seen := make(map[string]bool, len(r.Assets))
	for _, a := range r.Assets {
		if a == "" {
			return v, fmt.Errorf("%w: empty asset symbol", ErrValidation)
		}
		if seen[a] {
			return v, fmt.Errorf("%w: duplicate asset %s", ErrValidation, a)
		}
		seen[a] = true
	}

	v.weights = r.Weights
	if len(v.weights) == 0 {
		v.weights = make([]float64, len(r.Assets))
		for i := range v.weights {
			v.weights[i] = 1.0 / float64(len(r.Assets))
		}
	}
	if len(v.weights) != len(r.Assets) {
		return v, fmt.Errorf("%w: %d weights for %d assets", ErrValidation, len(v.weights), len(r.Assets))
	}
	for _, w := range v.weights {
		if w < 0 {
			return v, fmt.Errorf("%w: negative weight %g", ErrValidation, w)
		}
	}

	var err error
	if v.start, v.end, err = parseRange(r.StartDate, r.EndDate); err != nil {
		return v, err
	}

	v.alpha = r.Alpha
	if v.alpha == 0 {
		v.alpha = DefaultAlpha
	}
	if v.alpha <= 0 || v.alpha >= 1 {
		return v, fmt.Errorf("%w: alpha %g outside (0, 1)", ErrValidation, r.Alpha)
	}

	method := r.Method
	if method == "" {
		method = string(risk.MethodHistorical)
	}
	if v.method, err = risk.ParseMethod(method); err != nil {
		return v, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return v, nil
}

func parseRange(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(timeseries.DateFormat, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad start_date %q", ErrValidation, startDate)
	}
	end, err := time.Parse(timeseries.DateFormat, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad end_date %q", ErrValidation, endDate)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date %s not before end_date %s", ErrValidation, startDate, endDate)
	}
	return start, end, nil
}

// FactorRequest describes a factor regression over a date range.
type FactorRequest struct {
	Assets    []string `json:"assets"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Model     string   `json:"model,omitempty"`
}

func (r FactorRequest) validate() (assets []string, start, end time.Time, model factors.Model, err error) {
	if len(r.Assets) == 0 {
		err = fmt.Errorf("%w: empty asset list", ErrValidation)
		return
	}
	if start, end, err = parseRange(r.StartDate, r.EndDate); err != nil {
		return
	}

	name := r.Model
	if name == "" {
		name = string(factors.FF3)
	}
	if model, err = factors.ParseModel(name); err != nil {
		err = fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return r.Assets, start, end, model, err
}

// SimulationRequest extends a portfolio request with simulation sizing.
type SimulationRequest struct {
	PortfolioRequest
	Paths int   `json:"paths,omitempty"`
	Days  int   `json:"days,omitempty"`
	Seed  int64 `json:"seed,omitempty"`
}

// StressRequest extends a portfolio request with a uniform shock, e.g.
// -0.05 for a 5% down move applied to every asset's latest return.
type StressRequest struct {
	PortfolioRequest
	Shock float64 `json:"shock"`
}

// IndicatorRequest asks for technical indicators on one symbol.
type IndicatorRequest struct {
	Symbol     string `json:"symbol"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Window     int    `json:"window,omitempty"`
	FastPeriod int    `json:"fast_period,omitempty"`
	SlowPeriod int    `json:"slow_period,omitempty"`
	Signal     int    `json:"signal_period,omitempty"`
}
