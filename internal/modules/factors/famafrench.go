// Package factors fits Fama-French factor-model regressions to monthly
// asset returns.
package factors

import (
	"errors"
	"fmt"
	"math"

	"github.com/quantfolio/quantfolio/internal/timeseries"
)

// Model selects the factor set.
type Model string

const (
	FF3 Model = "ff3"
	FF5 Model = "ff5"
)

// Factor column names as delivered by the data provider.
const (
	FactorMktRF = "MKT_RF"
	FactorSMB   = "SMB"
	FactorHML   = "HML"
	FactorRMW   = "RMW"
	FactorCMA   = "CMA"
)

// MinObservations is the smallest aligned sample a single asset
// regression accepts for a model: intercept plus factors plus one residual
// degree of freedom. Assets under it are skipped without failing the whole
// request; feasible thin samples are fitted and flagged instead.
func MinObservations(m Model) int {
	return len(FactorNames(m)) + 2
}

// unstableNote flags regressions fitted on fewer than twelve months.
const unstableNote = "few observations, unstable estimates"

// ErrUnknownModel rejects model strings outside the closed set.
var ErrUnknownModel = errors.New("unknown factor model")

// ParseModel validates a model string.
func ParseModel(s string) (Model, error) {
	switch Model(s) {
	case FF3, FF5:
		return Model(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
}

// FactorNames returns the factor columns for a model in regression order.
func FactorNames(m Model) []string {
	switch m {
	case FF5:
		return []string{FactorMktRF, FactorSMB, FactorHML, FactorRMW, FactorCMA}
	default:
		return []string{FactorMktRF, FactorSMB, FactorHML}
	}
}

// AssetResult is a fitted per-asset factor regression.
type AssetResult struct {
	Alpha   float64            `json:"alpha"`
	Betas   map[string]float64 `json:"betas"`
	TStats  map[string]float64 `json:"t_stats"`
	PValues map[string]float64 `json:"p_values"`
	R2      float64            `json:"r2"`
	NObs    int                `json:"n_obs"`
	Note    string             `json:"note,omitempty"`
}

// RegressionResult maps each asset to its fitted regression. Assets whose
// aligned sample cannot support the regression are simply absent.
type RegressionResult struct {
	Model   Model                  `json:"model"`
	Results map[string]AssetResult `json:"results"`
}

// MonthlyReturns converts a daily price frame into month-end simple returns,
// dropping rows where every asset is missing.
func MonthlyReturns(prices *timeseries.Frame) *timeseries.Frame {
	return prices.ResampleMonthEnd().Returns().DropAllNaNRows()
}

// Fit joins monthly asset returns with the factor frame and risk-free
// series on intersecting dates, subtracts the risk-free rate and runs an
// OLS regression of each asset's excess return on the model's factors.
//
// Dates are matched by calendar month: provider month-end conventions
// differ (last trading day vs. last calendar day), so "2024-01-31" and
// "2024-01-30" are the same observation.
func Fit(assetReturns, factorReturns *timeseries.Frame, riskFree *timeseries.Series, model Model) (RegressionResult, error) {
	names := FactorNames(model)
	for _, name := range names {
		if _, ok := factorReturns.Data[name]; !ok {
			return RegressionResult{}, fmt.Errorf("factor frame missing column %s", name)
		}
	}

	factorByMonth := indexByMonth(factorReturns.Dates)
	rfByMonth := indexByMonth(riskFree.Dates)

	results := make(map[string]AssetResult, len(assetReturns.Columns))
	for _, asset := range assetReturns.Columns {
		var y []float64
		var rows [][]float64

		for i, date := range assetReturns.Dates {
			r := assetReturns.Data[asset][i]
			if math.IsNaN(r) {
				continue
			}

			month := monthKey(date)
			fi, ok := factorByMonth[month]
			if !ok {
				continue
			}
			ri, ok := rfByMonth[month]
			if !ok {
				continue
			}

			rf := riskFree.Values[ri]
			if math.IsNaN(rf) {
				continue
			}

			row := make([]float64, len(names))
			valid := true
			for j, name := range names {
				v := factorReturns.Data[name][fi]
				if math.IsNaN(v) {
					valid = false
					break
				}
				row[j] = v
			}
			if !valid {
				continue
			}

			y = append(y, r-rf)
			rows = append(rows, row)
		}

		if len(y) < MinObservations(model) {
			continue
		}

		fit, err := olsFit(y, rows)
		if err != nil {
			return RegressionResult{}, fmt.Errorf("regression for %s: %w", asset, err)
		}

		result := AssetResult{
			Alpha:   fit.Coefficients[0],
			Betas:   make(map[string]float64, len(names)),
			TStats:  make(map[string]float64, len(names)+1),
			PValues: make(map[string]float64, len(names)+1),
			R2:      fit.R2,
			NObs:    len(y),
		}
		result.TStats["alpha"] = fit.TStats[0]
		result.PValues["alpha"] = fit.PValues[0]
		for j, name := range names {
			result.Betas[name] = fit.Coefficients[j+1]
			result.TStats[name] = fit.TStats[j+1]
			result.PValues[name] = fit.PValues[j+1]
		}
		if len(y) < 12 {
			result.Note = unstableNote
		}

		results[asset] = result
	}

	return RegressionResult{Model: model, Results: results}, nil
}

func monthKey(date string) string {
	if len(date) >= 7 {
		return date[:7]
	}
	return date
}

func indexByMonth(dates []string) map[string]int {
	out := make(map[string]int, len(dates))
	for i, d := range dates {
		out[monthKey(d)] = i
	}
	return out
}
