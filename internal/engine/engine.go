// Package engine orchestrates the computation modules: it turns
// validated requests into portfolio return series and dispatches to the
// right metric, caching the expensive intermediate results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/marketdata"
	"github.com/quantfolio/quantfolio/internal/modules/attribution"
	"github.com/quantfolio/quantfolio/internal/modules/backtest"
	"github.com/quantfolio/quantfolio/internal/modules/calculations"
	"github.com/quantfolio/quantfolio/internal/modules/factors"
	"github.com/quantfolio/quantfolio/internal/modules/risk"
	"github.com/quantfolio/quantfolio/internal/modules/simulation"
	"github.com/quantfolio/quantfolio/internal/modules/technical"
	"github.com/quantfolio/quantfolio/internal/timeseries"
	"github.com/quantfolio/quantfolio/pkg/formulas"
)

// minFactorMonths is the request-level floor for factor regressions;
// assets whose aligned sample falls below factors.MinObservations for
// the requested model are still skipped individually.
const minFactorMonths = 6

// cacheTTL applies to cached covariance and regression results.
const cacheTTL = 24 * time.Hour

// Engine composes the data provider, the result cache and the
// computation modules. The cache is optional; a nil cache disables it.
type Engine struct {
	provider   marketdata.Provider
	cache      *calculations.Cache
	estimators *risk.EstimatorSet
	log        zerolog.Logger
}

func New(provider marketdata.Provider, cache *calculations.Cache, log zerolog.Logger) *Engine {
	return &Engine{
		provider:   provider,
		cache:      cache,
		estimators: risk.NewEstimatorSet(risk.DefaultEWMALambda),
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// Prices fetches the adjusted close frame for the assets. Exposed for
// the chart layer, which renders raw price lines.
func (e *Engine) Prices(ctx context.Context, assets []string, startDate, endDate string) (*timeseries.Frame, error) {
	start, end, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return e.fetchPrices(ctx, assets, start, end)
}

func (e *Engine) fetchPrices(ctx context.Context, assets []string, start, end time.Time) (*timeseries.Frame, error) {
	frame, err := e.provider.FetchPrices(ctx, assets, start, end)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoPrices) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientData, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return frame, nil
}

// returnsFrame fetches prices and converts to daily simple returns.
func (e *Engine) returnsFrame(ctx context.Context, v validated) (*timeseries.Frame, error) {
	prices, err := e.fetchPrices(ctx, v.assets, v.start, v.end)
	if err != nil {
		return nil, err
	}

	returns := prices.Returns()
	if len(returns.Dates) == 0 {
		return nil, fmt.Errorf("%w: fewer than two price observations", ErrInsufficientData)
	}
	return returns, nil
}

// portfolioReturns builds the weighted portfolio return series and
// drops NaN days.
func (e *Engine) portfolioReturns(ctx context.Context, v validated) ([]float64, *timeseries.Series, error) {
	returns, err := e.returnsFrame(ctx, v)
	if err != nil {
		return nil, nil, err
	}

	normalized, err := formulas.NormalizeWeights(v.weights)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	series, err := returns.PortfolioReturns(normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	values := series.ValidValues()
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("%w: no valid portfolio returns in range", ErrInsufficientData)
	}
	return values, series, nil
}

// PortfolioReturnSeries exposes the weighted daily return series, used
// by the chart layer for histograms.
func (e *Engine) PortfolioReturnSeries(ctx context.Context, req PortfolioRequest) (*timeseries.Series, error) {
	v, err := req.validate()
	if err != nil {
		return nil, err
	}
	_, series, err := e.portfolioReturns(ctx, v)
	return series, err
}

// VaR computes portfolio value at risk with the requested method.
func (e *Engine) VaR(ctx context.Context, req PortfolioRequest) (risk.Metric, error) {
	v, err := req.validate()
	if err != nil {
		return risk.Metric{}, err
	}
	values, _, err := e.portfolioReturns(ctx, v)
	if err != nil {
		return risk.Metric{}, err
	}

	metric, err := risk.VaR(values, v.alpha, v.method, e.estimators)
	if err != nil {
		return risk.Metric{}, e.wrapComputeError(err)
	}
	return metric, nil
}

// ES computes portfolio expected shortfall with the requested method.
func (e *Engine) ES(ctx context.Context, req PortfolioRequest) (risk.Metric, error) {
	v, err := req.validate()
	if err != nil {
		return risk.Metric{}, err
	}
	values, _, err := e.portfolioReturns(ctx, v)
	if err != nil {
		return risk.Metric{}, err
	}

	metric, err := risk.ES(values, v.alpha, v.method, e.estimators)
	if err != nil {
		return risk.Metric{}, e.wrapComputeError(err)
	}
	return metric, nil
}

// Drawdown computes the portfolio drawdown profile over the range.
func (e *Engine) Drawdown(ctx context.Context, req PortfolioRequest) (risk.DrawdownResult, error) {
	v, err := req.validate()
	if err != nil {
		return risk.DrawdownResult{}, err
	}
	_, series, err := e.portfolioReturns(ctx, v)
	if err != nil {
		return risk.DrawdownResult{}, err
	}

	result, err := risk.Drawdown(series)
	if err != nil {
		return risk.DrawdownResult{}, e.wrapComputeError(err)
	}
	return result, nil
}

// Covariance estimates the shrunk covariance matrix of the assets'
// daily returns. Results are cached by asset set and date range.
func (e *Engine) Covariance(ctx context.Context, req PortfolioRequest) (attribution.CovarianceResult, error) {
	v, err := req.validate()
	if err != nil {
		return attribution.CovarianceResult{}, err
	}

	key := calculations.Key("covariance", append(append([]string{}, v.assets...), req.StartDate, req.EndDate)...)
	var cached attribution.CovarianceResult
	if e.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	returns, err := e.returnsFrame(ctx, v)
	if err != nil {
		return attribution.CovarianceResult{}, err
	}
	aligned := returns.DropAllNaNRows().FillMissing()

	result, err := attribution.LedoitWolf(aligned.Data, aligned.Columns)
	if err != nil {
		return attribution.CovarianceResult{}, e.wrapComputeError(err)
	}

	e.cacheSet(ctx, key, result)
	return result, nil
}

// Contributions decomposes portfolio volatility into per-asset
// contributions using the shrunk covariance.
func (e *Engine) Contributions(ctx context.Context, req PortfolioRequest) (attribution.ContributionResult, error) {
	v, err := req.validate()
	if err != nil {
		return attribution.ContributionResult{}, err
	}

	cov, err := e.Covariance(ctx, req)
	if err != nil {
		return attribution.ContributionResult{}, err
	}

	normalized, err := formulas.NormalizeWeights(v.weights)
	if err != nil {
		return attribution.ContributionResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	result, err := attribution.Contributions(cov, normalized)
	if err != nil {
		return attribution.ContributionResult{}, e.wrapComputeError(err)
	}
	return result, nil
}

// IncrementalVaR reports per-asset VaR sensitivity to a small weight
// increase.
func (e *Engine) IncrementalVaR(ctx context.Context, req PortfolioRequest) (attribution.VaRDeltaResult, error) {
	v, err := req.validate()
	if err != nil {
		return attribution.VaRDeltaResult{}, err
	}
	returns, err := e.returnsFrame(ctx, v)
	if err != nil {
		return attribution.VaRDeltaResult{}, err
	}

	result, err := attribution.IncrementalVaR(returns, v.weights, v.alpha, v.method, e.estimators, attribution.DefaultIVaRDelta)
	if err != nil {
		return attribution.VaRDeltaResult{}, e.wrapComputeError(err)
	}
	return result, nil
}

// MarginalVaR reports per-asset VaR change from full removal.
func (e *Engine) MarginalVaR(ctx context.Context, req PortfolioRequest) (attribution.VaRDeltaResult, error) {
	v, err := req.validate()
	if err != nil {
		return attribution.VaRDeltaResult{}, err
	}
	returns, err := e.returnsFrame(ctx, v)
	if err != nil {
		return attribution.VaRDeltaResult{}, err
	}

	result, err := attribution.MarginalVaR(returns, v.weights, v.alpha, v.method, e.estimators)
	if err != nil {
		return attribution.VaRDeltaResult{}, e.wrapComputeError(err)
	}
	return result, nil
}

// RelativeVaR computes the VaR of the active return series against a
// benchmark symbol.
func (e *Engine) RelativeVaR(ctx context.Context, req PortfolioRequest, benchmark string) (risk.Metric, error) {
	v, err := req.validate()
	if err != nil {
		return risk.Metric{}, err
	}
	if benchmark == "" {
		return risk.Metric{}, fmt.Errorf("%w: empty benchmark symbol", ErrValidation)
	}

	_, portfolio, err := e.portfolioReturns(ctx, v)
	if err != nil {
		return risk.Metric{}, err
	}

	benchPrices, err := e.fetchPrices(ctx, []string{benchmark}, v.start, v.end)
	if err != nil {
		return risk.Metric{}, err
	}
	benchSeries, err := benchPrices.Returns().Column(benchmark)
	if err != nil {
		return risk.Metric{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}

	metric, err := attribution.RelativeVaR(portfolio, benchSeries, v.alpha, v.method, e.estimators)
	if err != nil {
		if errors.Is(err, attribution.ErrNoOverlap) {
			return risk.Metric{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
		}
		return risk.Metric{}, e.wrapComputeError(err)
	}
	return metric, nil
}

// Backtest runs the rolling-window VaR backtest with exception tests.
func (e *Engine) Backtest(ctx context.Context, req PortfolioRequest) (backtest.Result, error) {
	v, err := req.validate()
	if err != nil {
		return backtest.Result{}, err
	}
	values, _, err := e.portfolioReturns(ctx, v)
	if err != nil {
		return backtest.Result{}, err
	}

	result, err := backtest.Run(values, v.alpha, v.method, e.estimators)
	if err != nil {
		if errors.Is(err, backtest.ErrUnsupportedMethod) {
			return backtest.Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if errors.Is(err, backtest.ErrInsufficientData) {
			return backtest.Result{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
		}
		return backtest.Result{}, e.wrapComputeError(err)
	}
	return result, nil
}

// Stress applies a uniform shock to each asset's latest return.
func (e *Engine) Stress(ctx context.Context, req StressRequest) (backtest.StressResult, error) {
	v, err := req.PortfolioRequest.validate()
	if err != nil {
		return backtest.StressResult{}, err
	}
	returns, err := e.returnsFrame(ctx, v)
	if err != nil {
		return backtest.StressResult{}, err
	}

	normalized, err := formulas.NormalizeWeights(v.weights)
	if err != nil {
		return backtest.StressResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	result, err := backtest.Stress(returns, normalized, req.Shock)
	if err != nil {
		return backtest.StressResult{}, e.wrapComputeError(err)
	}
	return result, nil
}

// Factors runs the Fama-French regression for each asset. Results are
// cached by asset set, range and model.
func (e *Engine) Factors(ctx context.Context, req FactorRequest) (factors.RegressionResult, error) {
	assets, start, end, model, err := req.validate()
	if err != nil {
		return factors.RegressionResult{}, err
	}

	key := calculations.Key("regression", append(append([]string{}, assets...), req.StartDate, req.EndDate, string(model))...)
	var cached factors.RegressionResult
	if e.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	prices, err := e.fetchPrices(ctx, assets, start, end)
	if err != nil {
		return factors.RegressionResult{}, err
	}
	monthly := factors.MonthlyReturns(prices)
	if len(monthly.Dates) < minFactorMonths {
		return factors.RegressionResult{}, fmt.Errorf("%w: %d aligned months, need at least %d",
			ErrInsufficientData, len(monthly.Dates), minFactorMonths)
	}

	factorData, err := e.provider.FetchFactorData(ctx, model, start, end)
	if err != nil {
		return factors.RegressionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result, err := factors.Fit(monthly, factorData.Factors, factorData.RiskFree, model)
	if err != nil {
		return factors.RegressionResult{}, e.wrapComputeError(err)
	}
	if len(result.Results) == 0 {
		return factors.RegressionResult{}, fmt.Errorf("%w: no asset cleared %d aligned months",
			ErrInsufficientData, factors.MinObservations(model))
	}

	e.cacheSet(ctx, key, result)
	return result, nil
}

// Simulate runs the Monte Carlo ensemble on the portfolio return
// distribution.
func (e *Engine) Simulate(ctx context.Context, req SimulationRequest) (*simulation.Result, error) {
	v, err := req.PortfolioRequest.validate()
	if err != nil {
		return nil, err
	}
	if v.method == risk.MethodHistorical || v.method == risk.MethodEVT {
		return nil, fmt.Errorf("%w: simulation needs a volatility method (std, ewma, garch), got %s", ErrValidation, v.method)
	}
	values, _, err := e.portfolioReturns(ctx, v)
	if err != nil {
		return nil, err
	}

	result, err := simulation.Run(values, simulation.Config{
		Paths:  req.Paths,
		Days:   req.Days,
		Alpha:  v.alpha,
		Method: v.method,
		Seed:   req.Seed,
	}, e.estimators)
	if err != nil {
		if errors.Is(err, simulation.ErrBadDimensions) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, e.wrapComputeError(err)
	}
	return result, nil
}

// SMA computes the simple moving average for one symbol.
func (e *Engine) SMA(ctx context.Context, req IndicatorRequest) (technical.IndicatorSeries, error) {
	prices, err := e.indicatorSeries(ctx, req)
	if err != nil {
		return technical.IndicatorSeries{}, err
	}
	result, err := technical.SMA(prices, req.Window)
	if err != nil {
		return technical.IndicatorSeries{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return result, nil
}

// EMA computes the exponential moving average for one symbol.
func (e *Engine) EMA(ctx context.Context, req IndicatorRequest) (technical.IndicatorSeries, error) {
	prices, err := e.indicatorSeries(ctx, req)
	if err != nil {
		return technical.IndicatorSeries{}, err
	}
	result, err := technical.EMA(prices, req.Window)
	if err != nil {
		return technical.IndicatorSeries{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return result, nil
}

// MACD computes MACD lines for one symbol.
func (e *Engine) MACD(ctx context.Context, req IndicatorRequest) (technical.MACDResult, error) {
	prices, err := e.indicatorSeries(ctx, req)
	if err != nil {
		return technical.MACDResult{}, err
	}
	result, err := technical.MACD(prices, req.FastPeriod, req.SlowPeriod, req.Signal)
	if err != nil {
		return technical.MACDResult{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return result, nil
}

func (e *Engine) indicatorSeries(ctx context.Context, req IndicatorRequest) (*timeseries.Series, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	prices, err := e.fetchPrices(ctx, []string{req.Symbol}, start, end)
	if err != nil {
		return nil, err
	}
	series, err := prices.FillMissing().Column(req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return series, nil
}

// wrapComputeError classifies module errors that surface mid-compute.
func (e *Engine) wrapComputeError(err error) error {
	switch {
	case errors.Is(err, risk.ErrNoObservations):
		return fmt.Errorf("%w: %v", ErrInsufficientData, err)
	case errors.Is(err, risk.ErrEstimatorUnavailable):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return err
	}
}

func (e *Engine) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if e.cache == nil {
		return false
	}
	err := e.cache.Get(ctx, key, dest)
	if err == nil {
		e.log.Debug().Str("key", key).Msg("Cache hit")
		return true
	}
	if !errors.Is(err, calculations.ErrMiss) {
		e.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
	}
	return false
}

func (e *Engine) cacheSet(ctx context.Context, key string, value interface{}) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, value, cacheTTL); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
