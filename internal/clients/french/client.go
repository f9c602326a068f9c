// Package french downloads Fama-French factor returns from the Ken
// French data library. The library serves each dataset as a zipped CSV
// with a free-text preamble before the header row; values are monthly
// percent returns.
package french

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/modules/factors"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

const defaultBaseURL = "https://mba.tuck.dartmouth.edu/pages/faculty/ken.french/ftp"

// Dataset archive names in the library.
const (
	datasetFF3 = "F-F_Research_Data_Factors_CSV.zip"
	datasetFF5 = "F-F_Research_Data_5_Factors_2x3_CSV.zip"
)

var ErrNoFactorData = errors.New("no factor data in requested range")

// FactorData holds monthly factor returns plus the risk-free series,
// both as decimal returns keyed by month-end dates.
type FactorData struct {
	Factors  *timeseries.Frame
	RiskFree *timeseries.Series
}

type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With().Str("client", "french").Logger(),
	}
}

// SetBaseURL overrides the library host, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// GetMonthlyFactors downloads the monthly dataset for the model and
// returns rows inside [start, end]. Dates are normalized to the last
// calendar day of each month.
func (c *Client) GetMonthlyFactors(ctx context.Context, model factors.Model, start, end time.Time) (*FactorData, error) {
	dataset := datasetFF3
	if model == factors.FF5 {
		dataset = datasetFF5
	}

	raw, err := c.download(ctx, dataset)
	if err != nil {
		return nil, err
	}

	data, err := parseFactorCSV(raw, factors.FactorNames(model), start, end)
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Str("dataset", dataset).
		Int("months", len(data.Factors.Dates)).
		Msg("Fetched factor returns")

	return data, nil
}

func (c *Client) download(ctx context.Context, dataset string) ([]byte, error) {
	reqURL := c.baseURL + "/" + dataset

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", dataset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("factor library returned status %d for %s", resp.StatusCode, dataset)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("no CSV file inside %s", dataset)
}

// parseFactorCSV extracts the monthly block. Rows are "YYYYMM,v1,..."
// in percent; the monthly block ends at the first non-YYYYMM row (the
// library appends annual tables below it).
func parseFactorCSV(raw []byte, names []string, start, end time.Time) (*FactorData, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var header []string
	var rows [][]string
	inBlock := false
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		if !inBlock {
			if isHeaderRow(record) {
				header = record
				inBlock = true
			}
			continue
		}
		if !isMonthRow(record) {
			break
		}
		rows = append(rows, record)
	}
	if header == nil {
		return nil, errors.New("factor CSV header not found")
	}

	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[normalizeFactorName(h)] = i
	}
	for _, name := range names {
		if _, ok := colIndex[name]; !ok {
			return nil, fmt.Errorf("factor CSV missing column %s", name)
		}
	}
	rfIdx, ok := colIndex["RF"]
	if !ok {
		return nil, errors.New("factor CSV missing column RF")
	}

	var dates []string
	var rf []float64
	byFactor := make(map[string][]float64, len(names))

	for _, row := range rows {
		date, err := monthEndDate(row[0])
		if err != nil {
			return nil, err
		}
		t, _ := time.Parse(timeseries.DateFormat, date)
		if t.Before(start) || t.After(end) {
			continue
		}

		values := make([]float64, len(names))
		valid := true
		for i, name := range names {
			v, err := parsePercent(row[colIndex[name]])
			if err != nil {
				valid = false
				break
			}
			values[i] = v
		}
		rfValue, err := parsePercent(row[rfIdx])
		if err != nil || !valid {
			continue
		}

		dates = append(dates, date)
		rf = append(rf, rfValue)
		for i, name := range names {
			byFactor[name] = append(byFactor[name], values[i])
		}
	}
	if len(dates) == 0 {
		return nil, ErrNoFactorData
	}

	return &FactorData{
		Factors:  &timeseries.Frame{Dates: dates, Columns: names, Data: byFactor},
		RiskFree: &timeseries.Series{Dates: dates, Values: rf},
	}, nil
}

func isHeaderRow(record []string) bool {
	for _, field := range record {
		if normalizeFactorName(field) == factors.FactorMktRF {
			return true
		}
	}
	return false
}

func isMonthRow(record []string) bool {
	if len(record) < 2 {
		return false
	}
	key := strings.TrimSpace(record[0])
	if len(key) != 6 {
		return false
	}
	_, err := strconv.Atoi(key)
	return err == nil
}

// normalizeFactorName maps the library's spellings ("Mkt-RF") onto the
// internal factor constants.
func normalizeFactorName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}

func monthEndDate(yyyymm string) (string, error) {
	yyyymm = strings.TrimSpace(yyyymm)
	t, err := time.Parse("200601", yyyymm)
	if err != nil {
		return "", fmt.Errorf("bad month key %q: %w", yyyymm, err)
	}
	last := t.AddDate(0, 1, -1)
	return last.Format(timeseries.DateFormat), nil
}

// parsePercent converts a library percent value to a decimal return.
// The library encodes missing values as -99.99 or -999.
func parsePercent(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if v <= -99 {
		return 0, errors.New("missing value sentinel")
	}
	return v / 100, nil
}
