package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/clients/yahoo"
)

const testChartBody = `{
	"chart": {
		"result": [{
			"timestamp": [1704153600, 1704240000],
			"indicators": {
				"quote": [{"close": [100.0, 101.5], "volume": [1000, 1100]}],
				"adjclose": [{"adjclose": [99.0, 100.4]}]
			}
		}],
		"error": null
	}
}`

func newTestYahooClient(t *testing.T, handler http.HandlerFunc) *yahoo.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := yahoo.NewClient(zerolog.Nop())
	c.SetBaseURL(srv.URL)
	c.SetMaxRetries(1)
	return c
}

// Symbols the upstream cannot resolve are left out of the frame rather
// than appearing as empty columns or failing the fetch.
func TestFetchPricesDropsUnresolvedSymbols(t *testing.T) {
	yc := newTestYahooClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v8/finance/chart/GONE" {
			fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
			return
		}
		fmt.Fprint(w, testChartBody)
	})

	p := NewRemoteProvider(yc, nil, zerolog.Nop())
	frame, err := p.FetchPrices(context.Background(), []string{"AAA", "GONE", "BBB"},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAA", "BBB"}, frame.Columns)
	require.Len(t, frame.Dates, 2)
	assert.Equal(t, 99.0, frame.Data["AAA"][0])
}

func TestFetchPricesAllSymbolsUnresolved(t *testing.T) {
	yc := newTestYahooClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
	})

	p := NewRemoteProvider(yc, nil, zerolog.Nop())
	_, err := p.FetchPrices(context.Background(), []string{"AAA"},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
