package calculations

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/database"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache, err := NewCache(db, zerolog.Nop())
	require.NoError(t, err)
	return cache
}

type covPayload struct {
	Columns   []string    `msgpack:"columns"`
	Matrix    [][]float64 `msgpack:"matrix"`
	Shrinkage float64     `msgpack:"shrinkage"`
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	stored := covPayload{
		Columns:   []string{"AAA", "BBB"},
		Matrix:    [][]float64{{0.04, 0.01}, {0.01, 0.09}},
		Shrinkage: 0.3,
	}
	key := Key("covariance", "AAA", "BBB", "2024-01-01", "2024-06-30")

	require.NoError(t, cache.Set(ctx, key, stored, time.Hour))

	var loaded covPayload
	require.NoError(t, cache.Get(ctx, key, &loaded))
	assert.Equal(t, stored, loaded)
}

func TestCacheMiss(t *testing.T) {
	cache := newTestCache(t)

	var out covPayload
	err := cache.Get(context.Background(), Key("covariance", "NONE"), &out)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheExpiry(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := Key("regression", "AAA")

	require.NoError(t, cache.Set(ctx, key, covPayload{Shrinkage: 1}, time.Second))

	var out covPayload
	require.NoError(t, cache.Get(ctx, key, &out))

	// Force expiry by rewriting with an already-elapsed deadline.
	_, err := cache.db.Exec(`UPDATE calculation_cache SET expires_at = ?`, time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)

	assert.ErrorIs(t, cache.Get(ctx, key, &out), ErrMiss)
}

func TestCacheEvictExpired(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, Key("covariance", "A"), covPayload{}, time.Hour))
	require.NoError(t, cache.Set(ctx, Key("regression", "B"), covPayload{}, time.Hour))

	evicted, err := cache.EvictExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)

	_, err = cache.db.Exec(`UPDATE calculation_cache SET expires_at = ? WHERE kind = 'covariance'`,
		time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)

	evicted, err = cache.EvictExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["regression"])
	assert.NotContains(t, stats, "covariance")
}

func TestCacheDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := Key("covariance", "A")

	require.NoError(t, cache.Set(ctx, key, covPayload{}, time.Hour))
	require.NoError(t, cache.Delete(ctx, key))

	var out covPayload
	assert.ErrorIs(t, cache.Get(ctx, key, &out), ErrMiss)

	// Deleting again is fine.
	require.NoError(t, cache.Delete(ctx, key))
}

func TestKeyStableAcrossParamOrder(t *testing.T) {
	a := Key("covariance", "AAA", "BBB", "2024-01-01")
	b := Key("covariance", "BBB", "2024-01-01", "AAA")
	c := Key("covariance", "AAA", "BBB", "2024-02-01")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "covariance:")
}
