// Package calculations caches expensive computation results (covariance
// matrices, factor regressions) in SQLite with per-entry TTLs. Payloads
// are msgpack-encoded by the caller's type.
package calculations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantfolio/quantfolio/internal/database"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS calculation_cache (
    key        TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    payload    BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires ON calculation_cache (expires_at);
`

// DefaultTTL applies when Set is called with a zero TTL.
const DefaultTTL = 24 * time.Hour

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a TTL result cache backed by SQLite.
type Cache struct {
	db  *database.DB
	log zerolog.Logger
}

func NewCache(db *database.DB, log zerolog.Logger) (*Cache, error) {
	if _, err := db.Exec(cacheSchema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &Cache{
		db:  db,
		log: log.With().Str("component", "calc_cache").Logger(),
	}, nil
}

// Key derives a stable cache key from a computation kind and its
// parameters. Parameter order does not matter.
func Key(kind string, params ...string) string {
	sorted := make([]string, len(params))
	copy(sorted, params)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(kind + "|" + strings.Join(sorted, "|")))
	return kind + ":" + hex.EncodeToString(h[:16])
}

// Set stores value under key with the given TTL, replacing any previous
// entry. The kind prefix of the key doubles as the stored kind label.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	kind := key
	if i := strings.IndexByte(key, ':'); i > 0 {
		kind = key[:i]
	}
	now := time.Now()

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO calculation_cache (key, kind, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, kind, payload, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Get loads the entry for key into dest. Expired entries are misses;
// they stay on disk until EvictExpired runs.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var payload []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM calculation_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMiss
		}
		return fmt.Errorf("failed to read cache entry: %w", err)
	}

	if time.Now().Unix() >= expiresAt {
		return ErrMiss
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

// Delete removes an entry. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM calculation_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// EvictExpired removes every expired entry and returns the count.
// Intended to run on a schedule.
func (c *Cache) EvictExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM calculation_cache WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to evict expired entries: %w", err)
	}

	evicted, _ := res.RowsAffected()
	if evicted > 0 {
		c.log.Info().Int64("entries", evicted).Msg("Evicted expired cache entries")
	}
	return evicted, nil
}

// Stats reports entry counts by kind.
func (c *Cache) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM calculation_cache GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		stats[kind] = count
	}
	return stats, rows.Err()
}
