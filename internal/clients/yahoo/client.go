// Package yahoo fetches daily adjusted close prices from the Yahoo
// Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

	// maxConcurrentFetches bounds the fan-out when fetching many tickers.
	maxConcurrentFetches = 4
)

// ErrNoData indicates the provider answered but returned no usable bars.
var ErrNoData = errors.New("no price data returned")

// PriceBar is one daily observation. AdjClose falls back to Close when
// the provider omits the adjusted series.
type PriceBar struct {
	Date     time.Time
	Close    float64
	AdjClose float64
	Volume   int64
}

// Client is a Yahoo Finance chart API client with retry and a circuit
// breaker shared across tickers.
type Client struct {
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	log        zerolog.Logger
}

// NewClient creates a client with a 30s HTTP timeout and a breaker that
// trips after repeated failures so a provider outage fails fast instead
// of holding request handlers on retries.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "yahoo",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		}),
		maxRetries: 3,
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

// SetBaseURL overrides the API host, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetMaxRetries overrides the retry budget, used by tests.
func (c *Client) SetMaxRetries(n int) { c.maxRetries = n }

// GetDailyPrices fetches daily bars for one ticker over [start, end].
// Transient failures are retried with exponential backoff.
func (c *Client) GetDailyPrices(ctx context.Context, symbol string, start, end time.Time) ([]PriceBar, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Warn().Err(lastErr).
				Str("symbol", symbol).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Price fetch failed, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetchChart(ctx, symbol, start, end)
		})
		if err == nil {
			return result.([]PriceBar), nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// GetDailyPricesBatch fetches several tickers concurrently, capped at
// maxConcurrentFetches in flight. Tickers that fail are logged and
// dropped from the result; the batch errors only when no ticker
// returned data.
func (c *Client) GetDailyPricesBatch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]PriceBar, error) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)

	results := make([]([]PriceBar), len(symbols))
	errs := make([]error, len(symbols))
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i], errs[i] = c.GetDailyPrices(ctx, symbol, start, end)
			return nil
		})
	}
	// Workers never return an error through the group; failures land in errs.
	_ = g.Wait()

	out := make(map[string][]PriceBar, len(symbols))
	var firstErr error
	for i, symbol := range symbols {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", symbol, errs[i])
			}
			c.log.Warn().Err(errs[i]).
				Str("symbol", symbol).
				Msg("Dropping symbol from batch")
			continue
		}
		out[symbol] = results[i]
	}
	if len(out) == 0 && firstErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, firstErr)
	}
	return out, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetchChart(ctx context.Context, symbol string, start, end time.Time) ([]PriceBar, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("period1", fmt.Sprintf("%d", start.Unix()))
	params.Add("period2", fmt.Sprintf("%d", end.Unix()))
	params.Add("events", "div,splits")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("chart API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error %s: %s", result.Chart.Error.Code, result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	chart := result.Chart.Result[0]
	if len(chart.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	quote := chart.Indicators.Quote[0]

	var adjClose []float64
	if len(chart.Indicators.AdjClose) > 0 {
		adjClose = chart.Indicators.AdjClose[0].AdjClose
	}

	var bars []PriceBar
	for i, ts := range chart.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue
		}
		adj := quote.Close[i]
		if i < len(adjClose) && adjClose[i] != 0 {
			adj = adjClose[i]
		}
		volume := int64(0)
		if i < len(quote.Volume) {
			volume = quote.Volume[i]
		}
		bars = append(bars, PriceBar{
			Date:     time.Unix(ts, 0).UTC(),
			Close:    quote.Close[i],
			AdjClose: adj,
			Volume:   volume,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Int("count", len(bars)).
		Msg("Fetched daily prices")

	return bars, nil
}
