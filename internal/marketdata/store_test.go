package marketdata

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/clients/french"
	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/modules/factors"
	"github.com/quantfolio/quantfolio/internal/timeseries"
)

func newTestStore(t *testing.T) *PriceStore {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "prices.db"),
		Profile: database.ProfileCache,
		Name:    "prices-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPriceStore(db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func testFrame() *timeseries.Frame {
	return timeseries.NewFrame([]string{"AAA", "BBB"}, map[string]map[string]float64{
		"AAA": {"2024-01-02": 100, "2024-01-03": 101, "2024-01-04": 102},
		"BBB": {"2024-01-02": 50, "2024-01-04": 51},
	})
}

func rangeDates() (time.Time, time.Time) {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
}

func TestPriceStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start, end := rangeDates()

	require.NoError(t, store.SavePrices(ctx, testFrame(), start, end))

	frame, err := store.LoadPrices(ctx, []string{"AAA", "BBB"}, start, end)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, frame.Dates)
	assert.Equal(t, 100.0, frame.Data["AAA"][0])
	assert.Equal(t, 51.0, frame.Data["BBB"][2])
	// BBB has no bar on the 3rd; the gap survives the round trip.
	assert.True(t, math.IsNaN(frame.Data["BBB"][1]))
}

func TestPriceStoreCoverage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start, end := rangeDates()

	covered, err := store.Covered(ctx, "AAA", start, end, time.Hour)
	require.NoError(t, err)
	assert.False(t, covered)

	require.NoError(t, store.SavePrices(ctx, testFrame(), start, end))

	covered, err = store.Covered(ctx, "AAA", start, end, time.Hour)
	require.NoError(t, err)
	assert.True(t, covered)

	// A sub-range of the stored span is covered too.
	covered, err = store.Covered(ctx, "AAA",
		start.AddDate(0, 0, 1), end.AddDate(0, 0, -1), time.Hour)
	require.NoError(t, err)
	assert.True(t, covered)

	// A wider range is not.
	covered, err = store.Covered(ctx, "AAA", start, end.AddDate(0, 1, 0), time.Hour)
	require.NoError(t, err)
	assert.False(t, covered)

	// An expired span is not.
	covered, err = store.Covered(ctx, "AAA", start, end, -time.Hour)
	require.NoError(t, err)
	assert.False(t, covered)
}

func TestPriceStoreLoadEmpty(t *testing.T) {
	store := newTestStore(t)
	start, end := rangeDates()

	_, err := store.LoadPrices(context.Background(), []string{"NONE"}, start, end)
	assert.ErrorIs(t, err, ErrNoPrices)
}

// fakeProvider counts remote fetches so caching behavior is observable.
type fakeProvider struct {
	frame      *timeseries.Frame
	err        error
	priceCalls int
}

func (f *fakeProvider) FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*timeseries.Frame, error) {
	f.priceCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func (f *fakeProvider) FetchFactorData(ctx context.Context, model factors.Model, start, end time.Time) (*french.FactorData, error) {
	return nil, errors.New("not implemented")
}

func TestCachedProviderFetchesOnceWhileFresh(t *testing.T) {
	store := newTestStore(t)
	remote := &fakeProvider{frame: testFrame()}
	cached := NewCachedProvider(remote, store, time.Hour, zerolog.Nop())

	ctx := context.Background()
	start, end := rangeDates()
	symbols := []string{"AAA", "BBB"}

	first, err := cached.FetchPrices(ctx, symbols, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.priceCalls)

	second, err := cached.FetchPrices(ctx, symbols, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.priceCalls, "second fetch should come from the store")
	assert.Equal(t, first.Dates, second.Dates)
	assert.Equal(t, first.Data["AAA"], second.Data["AAA"])
}

func TestCachedProviderRefetchesWiderRange(t *testing.T) {
	store := newTestStore(t)
	remote := &fakeProvider{frame: testFrame()}
	cached := NewCachedProvider(remote, store, time.Hour, zerolog.Nop())

	ctx := context.Background()
	start, end := rangeDates()
	symbols := []string{"AAA", "BBB"}

	_, err := cached.FetchPrices(ctx, symbols, start, end)
	require.NoError(t, err)

	_, err = cached.FetchPrices(ctx, symbols, start.AddDate(0, -1, 0), end)
	require.NoError(t, err)
	assert.Equal(t, 2, remote.priceCalls)
}

func TestCachedProviderPropagatesRemoteError(t *testing.T) {
	store := newTestStore(t)
	remote := &fakeProvider{err: errors.New("provider down")}
	cached := NewCachedProvider(remote, store, time.Hour, zerolog.Nop())

	start, end := rangeDates()
	_, err := cached.FetchPrices(context.Background(), []string{"AAA"}, start, end)
	assert.ErrorContains(t, err, "provider down")
}

func TestPriceStorePrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start, end := rangeDates()

	require.NoError(t, store.SavePrices(ctx, testFrame(), start, end))

	// Nothing is older than an hour yet.
	deleted, err := store.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// A negative age makes everything stale.
	deleted, err = store.Prune(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Greater(t, deleted, int64(0))

	covered, err := store.Covered(ctx, "AAA", start, end, time.Hour)
	require.NoError(t, err)
	assert.False(t, covered)
}
