// Package marketdata supplies historical prices and factor returns to
// the engine, backed by remote providers with a local SQLite cache.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/clients/french"
	"github.com/quantfolio/quantfolio/internal/clients/yahoo"
	"github.com/quantfolio/quantfolio/internal/modules/factors"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

// ErrNoPrices indicates the provider returned nothing for the range.
var ErrNoPrices = errors.New("no prices for requested range")

// Provider supplies the data series the engine consumes. Prices are
// daily adjusted closes, one column per symbol.
type Provider interface {
	FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*timeseries.Frame, error)
	FetchFactorData(ctx context.Context, model factors.Model, start, end time.Time) (*french.FactorData, error)
}

// RemoteProvider fetches from Yahoo Finance and the Ken French library.
type RemoteProvider struct {
	prices  *yahoo.Client
	factors *french.Client
	log     zerolog.Logger
}

func NewRemoteProvider(prices *yahoo.Client, factorClient *french.Client, log zerolog.Logger) *RemoteProvider {
	return &RemoteProvider{
		prices:  prices,
		factors: factorClient,
		log:     log.With().Str("component", "marketdata").Logger(),
	}
}

func (p *RemoteProvider) FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*timeseries.Frame, error) {
	bars, err := p.prices.GetDailyPricesBatch(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}

	// The batch may come back short; keep request order for the columns
	// that did resolve.
	fetched := make([]string, 0, len(symbols))
	byColumn := make(map[string]map[string]float64, len(bars))
	for _, symbol := range symbols {
		series, ok := bars[symbol]
		if !ok {
			continue
		}
		fetched = append(fetched, symbol)
		points := make(map[string]float64, len(series))
		for _, bar := range series {
			points[bar.Date.Format(timeseries.DateFormat)] = bar.AdjClose
		}
		byColumn[symbol] = points
	}

	frame := timeseries.NewFrame(fetched, byColumn)
	if len(frame.Dates) == 0 {
		return nil, ErrNoPrices
	}
	return frame, nil
}

func (p *RemoteProvider) FetchFactorData(ctx context.Context, model factors.Model, start, end time.Time) (*french.FactorData, error) {
	return p.factors.GetMonthlyFactors(ctx, model, start, end)
}
