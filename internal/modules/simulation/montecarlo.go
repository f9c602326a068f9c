// Package simulation generates Geometric Brownian Motion price ensembles
// and extracts tail metrics from the terminal distribution.
package simulation

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/quantfolio/quantfolio/internal/modules/risk"
	"github.com/quantfolio/quantfolio/pkg/formulas"
)

const (
	DefaultPaths        = 10_000
	DefaultDays         = 252
	DefaultInitialValue = 100.0

	// MaxPaths caps a single run so one request cannot exhaust memory.
	MaxPaths = 100_000
	MaxDays  = 2520

	// sampleLimit bounds the number of full trajectories kept for charts.
	sampleLimit = 50
)

// ErrBadDimensions rejects path/day counts outside the supported range.
var ErrBadDimensions = errors.New("simulation dimensions out of range")

// Config parametrizes a single Monte Carlo run. Zero values for Paths,
// Days and InitialValue fall back to the package defaults.
type Config struct {
	Paths        int
	Days         int
	Alpha        float64
	Method       risk.Method
	Seed         int64
	InitialValue float64
	SamplePaths  int
}

func (c *Config) applyDefaults() {
	if c.Paths == 0 {
		c.Paths = DefaultPaths
	}
	if c.Days == 0 {
		c.Days = DefaultDays
	}
	if c.InitialValue == 0 {
		c.InitialValue = DefaultInitialValue
	}
	if c.SamplePaths == 0 {
		c.SamplePaths = 20
	}
	if c.SamplePaths > sampleLimit {
		c.SamplePaths = sampleLimit
	}
}

func (c Config) validate() error {
	if c.Paths < 1 || c.Paths > MaxPaths {
		return fmt.Errorf("%w: paths=%d (max %d)", ErrBadDimensions, c.Paths, MaxPaths)
	}
	if c.Days < 1 || c.Days > MaxDays {
		return fmt.Errorf("%w: days=%d (max %d)", ErrBadDimensions, c.Days, MaxDays)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("%w: alpha=%g", ErrBadDimensions, c.Alpha)
	}
	return nil
}

// Result holds the terminal-distribution summary plus a handful of full
// trajectories for chart rendering. TerminalReturns are simple returns
// over the whole horizon, one per path.
type Result struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`

	Paths        int     `json:"paths"`
	Days         int     `json:"days"`
	Seed         int64   `json:"seed"`
	InitialValue float64 `json:"initial_value"`

	TerminalMean   float64 `json:"terminal_mean"`
	TerminalMedian float64 `json:"terminal_median"`
	TerminalStd    float64 `json:"terminal_std"`
	TerminalMin    float64 `json:"terminal_min"`
	TerminalMax    float64 `json:"terminal_max"`

	VaR risk.Metric `json:"var"`
	ES  risk.Metric `json:"es"`

	TerminalValues  []float64   `json:"-"`
	TerminalReturns []float64   `json:"-"`
	SamplePaths     [][]float64 `json:"-"`
}

// Run estimates (mu, sigma) from the historical returns with the configured
// volatility method, simulates the GBM ensemble and derives terminal VaR/ES
// at the configured confidence level. Daily shocks are i.i.d. Normal(mu,
// sigma) simple returns compounded multiplicatively, so path values stay
// positive for shocks above -100%. The seed makes runs reproducible.
func Run(returns []float64, cfg Config, set *risk.EstimatorSet) (*Result, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(returns) < 2 {
		return nil, risk.ErrNoObservations
	}

	est, err := set.Get(cfg.Method)
	if err != nil {
		return nil, err
	}
	sigma, _, err := est.Sigma(returns)
	if err != nil {
		return nil, err
	}
	mu := formulas.Mean(returns)

	rng := rand.New(rand.NewSource(cfg.Seed))

	terminal := make([]float64, cfg.Paths)
	sampleEvery := cfg.Paths / cfg.SamplePaths
	if sampleEvery < 1 {
		sampleEvery = 1
	}
	samples := make([][]float64, 0, cfg.SamplePaths)

	for p := 0; p < cfg.Paths; p++ {
		keep := p%sampleEvery == 0 && len(samples) < cfg.SamplePaths
		var path []float64
		if keep {
			path = make([]float64, cfg.Days+1)
			path[0] = cfg.InitialValue
		}

		value := cfg.InitialValue
		for d := 1; d <= cfg.Days; d++ {
			shock := mu + sigma*rng.NormFloat64()
			value *= 1 + shock
			if keep {
				path[d] = value
			}
		}
		terminal[p] = value
		if keep {
			samples = append(samples, path)
		}
	}

	horizonReturns := make([]float64, cfg.Paths)
	for i, v := range terminal {
		horizonReturns[i] = v/cfg.InitialValue - 1
	}

	varMetric, err := risk.VaRHistorical(horizonReturns, cfg.Alpha)
	if err != nil {
		return nil, err
	}
	esMetric, err := risk.ESHistorical(horizonReturns, cfg.Alpha)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Mu:             mu,
		Sigma:          sigma,
		Paths:          cfg.Paths,
		Days:           cfg.Days,
		Seed:           cfg.Seed,
		InitialValue:   cfg.InitialValue,
		TerminalMean:   formulas.Mean(terminal),
		TerminalMedian: formulas.Quantile(terminal, 0.5),
		TerminalStd:    formulas.StdDev(terminal),
		TerminalMin:    minOf(terminal),
		TerminalMax:    maxOf(terminal),
		VaR:            varMetric,
		ES:             esMetric,

		TerminalValues:  terminal,
		TerminalReturns: horizonReturns,
		SamplePaths:     samples,
	}
	return res, nil
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
