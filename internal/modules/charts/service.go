// Package charts renders computation results as PNG images.
package charts

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	charts "github.com/vicanso/go-charts/v2"

	"github.com/quantfolio/quantfolio/internal/engine"
)

const histogramBins = 40

// Service renders charts from engine results.
type Service struct {
	engine *engine.Engine
	log    zerolog.Logger
}

func NewService(e *engine.Engine, log zerolog.Logger) *Service {
	return &Service{
		engine: e,
		log:    log.With().Str("service", "charts").Logger(),
	}
}

// PriceChart renders the adjusted close lines for the assets.
func (s *Service) PriceChart(ctx context.Context, assets []string, startDate, endDate string) ([]byte, error) {
	frame, err := s.engine.Prices(ctx, assets, startDate, endDate)
	if err != nil {
		return nil, err
	}
	filled := frame.FillMissing()

	series := make([][]float64, len(filled.Columns))
	for i, col := range filled.Columns {
		series[i] = filled.Data[col]
	}

	p, err := charts.LineRender(series,
		charts.TitleTextOptionFunc("Adjusted Close"),
		charts.LegendLabelsOptionFunc(filled.Columns),
		charts.XAxisDataOptionFunc(sparseLabels(filled.Dates, 8)),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(450),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render price chart: %w", err)
	}
	return p.Bytes()
}

// ReturnHistogram renders the portfolio daily return distribution with
// the requested VaR quantile marked in the title.
func (s *Service) ReturnHistogram(ctx context.Context, req engine.PortfolioRequest) ([]byte, error) {
	series, err := s.engine.PortfolioReturnSeries(ctx, req)
	if err != nil {
		return nil, err
	}
	varMetric, err := s.engine.VaR(ctx, req)
	if err != nil {
		return nil, err
	}

	labels, counts := histogram(series.ValidValues(), histogramBins)

	title := fmt.Sprintf("Daily Returns (VaR %.2f%%: %.4f)", alphaOf(req)*100, varMetric.Value)
	p, err := charts.BarRender([][]float64{counts},
		charts.TitleTextOptionFunc(title),
		charts.XAxisDataOptionFunc(labels),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(450),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render return histogram: %w", err)
	}
	return p.Bytes()
}

// DrawdownChart renders the portfolio drawdown curve.
func (s *Service) DrawdownChart(ctx context.Context, req engine.PortfolioRequest) ([]byte, error) {
	result, err := s.engine.Drawdown(ctx, req)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Drawdown (max %.2f%%, trough %s)", result.MaxDrawdown*100, result.TroughDate)
	p, err := charts.LineRender([][]float64{result.Series},
		charts.TitleTextOptionFunc(title),
		charts.XAxisDataOptionFunc(sparseLabels(result.Dates, 8)),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(450),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render drawdown chart: %w", err)
	}
	return p.Bytes()
}

// SimulationChart renders the sampled Monte Carlo trajectories.
func (s *Service) SimulationChart(ctx context.Context, req engine.SimulationRequest) ([]byte, error) {
	result, err := s.engine.Simulate(ctx, req)
	if err != nil {
		return nil, err
	}

	days := make([]string, result.Days+1)
	for i := range days {
		days[i] = fmt.Sprintf("%d", i)
	}

	title := fmt.Sprintf("Simulated Paths (%d paths, %d days, VaR %.4f)", result.Paths, result.Days, result.VaR.Value)
	p, err := charts.LineRender(result.SamplePaths,
		charts.TitleTextOptionFunc(title),
		charts.XAxisDataOptionFunc(sparseLabels(days, 10)),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(450),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render simulation chart: %w", err)
	}
	return p.Bytes()
}

// TerminalHistogram renders the Monte Carlo terminal value distribution.
func (s *Service) TerminalHistogram(ctx context.Context, req engine.SimulationRequest) ([]byte, error) {
	result, err := s.engine.Simulate(ctx, req)
	if err != nil {
		return nil, err
	}

	labels, counts := histogram(result.TerminalValues, histogramBins)

	title := fmt.Sprintf("Terminal Values (mean %.2f, ES %.4f)", result.TerminalMean, result.ES.Value)
	p, err := charts.BarRender([][]float64{counts},
		charts.TitleTextOptionFunc(title),
		charts.XAxisDataOptionFunc(labels),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(450),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render terminal histogram: %w", err)
	}
	return p.Bytes()
}

// histogram bins values into equal-width buckets. Labels carry the
// bucket midpoints.
func histogram(values []float64, bins int) ([]string, []float64) {
	if len(values) == 0 || bins < 1 {
		return nil, nil
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		return []string{fmt.Sprintf("%.4f", lo)}, []float64{float64(len(values))}
	}

	counts := make([]float64, bins)
	for _, v := range values {
		idx := int(math.Floor((v - lo) / width))
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}

	labels := make([]string, bins)
	for i := range labels {
		mid := lo + (float64(i)+0.5)*width
		labels[i] = fmt.Sprintf("%.4f", mid)
	}
	return labels, counts
}

// sparseLabels keeps roughly maxShown evenly spaced labels, blanking the
// rest so the axis stays readable.
func sparseLabels(dates []string, maxShown int) []string {
	if len(dates) <= maxShown {
		return dates
	}
	step := len(dates) / maxShown
	out := make([]string, len(dates))
	for i, d := range dates {
		if i%step == 0 {
			out[i] = d
		}
	}
	return out
}

func alphaOf(req engine.PortfolioRequest) float64 {
	if req.Alpha == 0 {
		return engine.DefaultAlpha
	}
	return req.Alpha
}
