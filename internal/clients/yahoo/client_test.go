package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chartBody(symbol string) string {
	return fmt.Sprintf(`{
		"chart": {
			"result": [{
				"timestamp": [1704153600, 1704240000, 1704326400],
				"indicators": {
					"quote": [{
						"close": [100.0, 101.5, 0],
						"volume": [1000, 1100, 0]
					}],
					"adjclose": [{
						"adjclose": [99.0, 100.4, 0]
					}]
				}
			}],
			"error": null
		}
	}`)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(zerolog.Nop())
	c.SetBaseURL(srv.URL)
	return c
}

func TestGetDailyPrices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/AAPL")
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartBody("AAPL"))
	})

	bars, err := c.GetDailyPrices(context.Background(), "AAPL",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Zero-close bar is dropped.
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 99.0, bars[0].AdjClose)
	assert.Equal(t, int64(1000), bars[0].Volume)
	assert.Equal(t, "2024-01-02", bars[0].Date.Format("2006-01-02"))
}

func TestGetDailyPricesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	})
	c.maxRetries = 1

	_, err := c.GetDailyPrices(context.Background(), "NOPE", time.Now().AddDate(0, -1, 0), time.Now())
	assert.ErrorContains(t, err, "delisted")
}

func TestGetDailyPricesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, chartBody("AAPL"))
	})

	bars, err := c.GetDailyPrices(context.Background(), "AAPL", time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDailyPricesContextCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow upstream", http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetDailyPrices(ctx, "AAPL", time.Now().AddDate(0, -1, 0), time.Now())
	assert.Error(t, err)
}

func TestGetDailyPricesBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartBody("ANY"))
	})

	prices, err := c.GetDailyPricesBatch(context.Background(), []string{"AAA", "BBB", "CCC"},
		time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)

	require.Len(t, prices, 3)
	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		assert.Len(t, prices[symbol], 2, symbol)
	}
}

// A delisted or unknown ticker must not sink the batch; it is dropped
// and the remaining tickers come back.
func TestGetDailyPricesBatchDropsFailedSymbols(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v8/finance/chart/BAD" {
			fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
			return
		}
		fmt.Fprint(w, chartBody("ANY"))
	})
	c.maxRetries = 1

	prices, err := c.GetDailyPricesBatch(context.Background(), []string{"AAA", "BAD", "CCC"},
		time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)

	require.Len(t, prices, 2)
	assert.NotContains(t, prices, "BAD")
	assert.Len(t, prices["AAA"], 2)
	assert.Len(t, prices["CCC"], 2)
}

func TestGetDailyPricesBatchAllSymbolsFailed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
	})
	c.maxRetries = 1

	_, err := c.GetDailyPricesBatch(context.Background(), []string{"AAA", "BBB"},
		time.Now().AddDate(0, -1, 0), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoData)
}
