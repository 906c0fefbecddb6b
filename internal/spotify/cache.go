package spotify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lasthop/lasthop/internal/metrics"
)

// ErrCacheMiss reports an absent search-cache entry.
var ErrCacheMiss = errors.New("spotify: search cache miss")

// SearchCache stores raw search-result payloads keyed by query hash.
type SearchCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// cachedSearch is the payload persisted per query. Query and market travel
// with the result so a read can verify the entry belongs to the key it was
// looked up under.
type cachedSearch struct {
	Query    string    `json:"query"`
	Market   string    `json:"market"`
	CachedAt time.Time `json:"cached_at"`
	Tracks   []Track   `json:"tracks"`
}

// Track is one search candidate, in the order the catalog ranked it.
type Track struct {
	Name    string   `json:"name"`
	Artists []string `json:"artists"`
	URI     string   `json:"uri"`
}

func cacheKey(market, query string) string {
	sum := md5.Sum([]byte(market + "-" + query))
	return "search:" + hex.EncodeToString(sum[:])
}

// cachedCandidates returns servable candidates for the query, or false on
// any kind of miss. Entries past their age limit, missing a cached-at
// stamp, or recording a different query/market than requested are all
// misses; the last case is a cache-integrity anomaly and is logged.
func (c *Client) cachedCandidates(ctx context.Context, query, market string) ([]Track, bool) {
	if c.cache == nil {
		return nil, false
	}
	payload, err := c.cache.Get(ctx, cacheKey(market, query))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn().Err(err).Msg("search cache read failed")
		}
		metrics.SearchCache.WithLabelValues("miss").Inc()
		return nil, false
	}

	var entry cachedSearch
	if err := json.Unmarshal(payload, &entry); err != nil {
		c.log.Warn().Err(err).Msg("search cache entry undecodable")
		metrics.SearchCache.WithLabelValues("miss").Inc()
		return nil, false
	}

	switch {
	case entry.CachedAt.IsZero():
		metrics.SearchCache.WithLabelValues("no_date").Inc()
		return nil, false
	case c.now().Sub(entry.CachedAt) > c.maxAge:
		metrics.SearchCache.WithLabelValues("expired").Inc()
		return nil, false
	case entry.Query != query || entry.Market != market:
		c.log.Warn().
			Str("want_query", query).Str("got_query", entry.Query).
			Str("want_market", market).Str("got_market", entry.Market).
			Msg("search cache entry does not match its key")
		metrics.SearchCache.WithLabelValues("integrity_error").Inc()
		return nil, false
	}

	metrics.SearchCache.WithLabelValues("hit").Inc()
	return entry.Tracks, true
}

func (c *Client) storeCandidates(ctx context.Context, query, market string, tracks []Track) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(cachedSearch{
		Query:    query,
		Market:   market,
		CachedAt: c.now().UTC(),
		Tracks:   tracks,
	})
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(market, query), payload, c.maxAge); err != nil {
		c.log.Warn().Err(err).Msg("search cache write failed")
	}
}

// RedisCache backs the search cache with Redis, leaning on server-side TTL
// for eviction.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return payload, err
}

func (r *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, payload, ttl).Err()
}

// MemoryCache is the in-process fallback used when no Redis address is
// configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return entry.payload, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{payload: payload, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}
