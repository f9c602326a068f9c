package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

const priceSchema = `
CREATE TABLE IF NOT EXISTS prices (
    symbol    TEXT NOT NULL,
    date      TEXT NOT NULL,
    adj_close REAL NOT NULL,
    PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS price_coverage (
    symbol     TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date   TEXT NOT NULL,
    fetched_at INTEGER NOT NULL,
    PRIMARY KEY (symbol, start_date, end_date)
);
`

// PriceStore persists daily adjusted closes per symbol, plus coverage
// spans so readers can tell a complete cached range from a partial one.
type PriceStore struct {
	db  *database.DB
	log zerolog.Logger
}

func NewPriceStore(db *database.DB, log zerolog.Logger) (*PriceStore, error) {
	if _, err := db.Exec(priceSchema); err != nil {
		return nil, fmt.Errorf("failed to create price schema: %w", err)
	}
	return &PriceStore{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}, nil
}

// SavePrices upserts every column of the frame and records the fetched
// range per symbol.
func (s *PriceStore) SavePrices(ctx context.Context, frame *timeseries.Frame, start, end time.Time) error {
	startDate := start.Format(timeseries.DateFormat)
	endDate := end.Format(timeseries.DateFormat)
	now := time.Now().Unix()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		insertPrice, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO prices (symbol, date, adj_close) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insertPrice.Close()

		for _, symbol := range frame.Columns {
			values := frame.Data[symbol]
			for i, date := range frame.Dates {
				if math.IsNaN(values[i]) {
					continue
				}
				if _, err := insertPrice.ExecContext(ctx, symbol, date, values[i]); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO price_coverage (symbol, start_date, end_date, fetched_at) VALUES (?, ?, ?, ?)`,
				symbol, startDate, endDate, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Covered reports whether the symbol has a coverage span containing
// [start, end] fetched within maxAge.
func (s *PriceStore) Covered(ctx context.Context, symbol string, start, end time.Time, maxAge time.Duration) (bool, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM price_coverage
		 WHERE symbol = ? AND start_date <= ? AND end_date >= ? AND fetched_at >= ?`,
		symbol, start.Format(timeseries.DateFormat), end.Format(timeseries.DateFormat), cutoff,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check coverage for %s: %w", symbol, err)
	}
	return count > 0, nil
}

// LoadPrices reads stored closes for the symbols over [start, end].
func (s *PriceStore) LoadPrices(ctx context.Context, symbols []string, start, end time.Time) (*timeseries.Frame, error) {
	byColumn := make(map[string]map[string]float64, len(symbols))

	for _, symbol := range symbols {
		rows, err := s.db.QueryContext(ctx,
			`SELECT date, adj_close FROM prices WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`,
			symbol, start.Format(timeseries.DateFormat), end.Format(timeseries.DateFormat))
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", symbol, err)
		}

		points := make(map[string]float64)
		for rows.Next() {
			var date string
			var price float64
			if err := rows.Scan(&date, &price); err != nil {
				rows.Close()
				return nil, err
			}
			points[date] = price
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		byColumn[symbol] = points
	}

	frame := timeseries.NewFrame(symbols, byColumn)
	if len(frame.Dates) == 0 {
		return nil, ErrNoPrices
	}
	return frame, nil
}

// Prune deletes price rows and coverage spans older than maxAge.
func (s *PriceStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM prices WHERE symbol IN
		   (SELECT symbol FROM price_coverage GROUP BY symbol HAVING MAX(fetched_at) < ?)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune prices: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM price_coverage WHERE fetched_at < ?`, cutoff); err != nil {
		return deleted, fmt.Errorf("failed to prune coverage: %w", err)
	}

	if deleted > 0 {
		s.log.Info().Int64("rows", deleted).Msg("Pruned stale prices")
	}
	return deleted, nil
}
