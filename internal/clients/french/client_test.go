package french

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/modules/factors"
)

const ff3CSV = `This file was created by CMPT_ME_BEME_RETS using the 202406 CRSP database.
The 1-month TBill return is from Ibbotson and Associates Inc.

,Mkt-RF,SMB,HML,RF
202401,1.21,-3.17,-2.22,0.47
202402,5.05,-0.12,-0.33,0.42
202403,2.83,-99.99,4.34,0.43
202404,-4.67,-2.19,-0.14,0.44

 Annual Factors: January-December
,Mkt-RF,SMB,HML,RF
2023,21.74,-3.14,-13.57,4.93
`

func zipCSV(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestClient(t *testing.T, csv string) *Client {
	t.Helper()
	archive := zipCSV(t, "F-F_Research_Data_Factors.CSV", csv)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zerolog.Nop())
	c.SetBaseURL(srv.URL)
	return c
}

func TestGetMonthlyFactors(t *testing.T) {
	c := newTestClient(t, ff3CSV)

	data, err := c.GetMonthlyFactors(context.Background(), factors.FF3,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// March is dropped: SMB carries the -99.99 missing sentinel.
	require.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-04-30"}, data.Factors.Dates)

	assert.InDelta(t, 0.0121, data.Factors.Data[factors.FactorMktRF][0], 1e-9)
	assert.InDelta(t, -0.0317, data.Factors.Data[factors.FactorSMB][0], 1e-9)
	assert.InDelta(t, -0.0222, data.Factors.Data[factors.FactorHML][0], 1e-9)
	assert.InDelta(t, 0.0047, data.RiskFree.Values[0], 1e-9)

	// The annual table below the monthly block must not leak in.
	for _, d := range data.Factors.Dates {
		assert.Len(t, d, 10)
	}
}

func TestGetMonthlyFactorsDateFilter(t *testing.T) {
	c := newTestClient(t, ff3CSV)

	data, err := c.GetMonthlyFactors(context.Background(), factors.FF3,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, []string{"2024-02-29"}, data.Factors.Dates)
	assert.InDelta(t, 0.0505, data.Factors.Data[factors.FactorMktRF][0], 1e-9)
}

func TestGetMonthlyFactorsEmptyRange(t *testing.T) {
	c := newTestClient(t, ff3CSV)

	_, err := c.GetMonthlyFactors(context.Background(), factors.FF3,
		time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1990, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoFactorData)
}

func TestGetMonthlyFactorsMissingColumn(t *testing.T) {
	c := newTestClient(t, ff3CSV)

	// FF5 needs RMW/CMA which the FF3 file does not carry.
	_, err := c.GetMonthlyFactors(context.Background(), factors.FF5,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.ErrorContains(t, err, "missing column")
}

func TestMonthEndDate(t *testing.T) {
	d, err := monthEndDate("202402")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d)

	d, err = monthEndDate("202312")
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", d)

	_, err = monthEndDate("2024")
	assert.Error(t, err)
}
