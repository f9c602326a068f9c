package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/clients/french"
	"github.com/quantfolio/quantfolio/internal/modules/factors"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

// DefaultPriceTTL is how long a fetched price range is served from the
// store before it is refreshed.
const DefaultPriceTTL = 24 * time.Hour

// CachedProvider serves prices from the local store when the requested
// range is covered and fresh, falling back to the remote provider and
// persisting what it fetched. Factor data passes through uncached; the
// library updates monthly and the download is a single small file.
type CachedProvider struct {
	remote Provider
	store  *PriceStore
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCachedProvider(remote Provider, store *PriceStore, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &CachedProvider{
		remote: remote,
		store:  store,
		ttl:    ttl,
		log:    log.With().Str("component", "cached_provider").Logger(),
	}
}

func (p *CachedProvider) FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*timeseries.Frame, error) {
	allCovered := true
	for _, symbol := range symbols {
		covered, err := p.store.Covered(ctx, symbol, start, end, p.ttl)
		if err != nil {
			return nil, err
		}
		if !covered {
			allCovered = false
			break
		}
	}

	if allCovered {
		frame, err := p.store.LoadPrices(ctx, symbols, start, end)
		if err == nil {
			p.log.Debug().
				Strs("symbols", symbols).
				Int("days", len(frame.Dates)).
				Msg("Served prices from store")
			return frame, nil
		}
		p.log.Warn().Err(err).Msg("Covered range missing from store, refetching")
	}

	frame, err := p.remote.FetchPrices(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	if err := p.store.SavePrices(ctx, frame, start, end); err != nil {
		// A failed write degrades caching, not the response.
		p.log.Warn().Err(err).Msg("Failed to persist fetched prices")
	}
	return frame, nil
}

func (p *CachedProvider) FetchFactorData(ctx context.Context, model factors.Model, start, end time.Time) (*french.FactorData, error) {
	return p.remote.FetchFactorData(ctx, model, start, end)
}
