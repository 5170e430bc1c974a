package cache

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ai-novine/portal/internal/model"
	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope wraps every stored payload with its write time, so callers can
// compute cache age without a second key.
type envelope struct {
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Options configures the connection to the primary backend.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	HitRate     float64 `json:"hit_rate"`
	BackendKind string  `json:"backend"`
}

// Cache is the TTL key/value store shared by the scheduler (writer) and the
// web routes (readers). It prefixes every key, serializes values to JSON,
// and counts hits and misses. The backend is chosen once at connect time;
// Reconnect may force re-evaluation.
type Cache struct {
	mu      sync.RWMutex // guards backend
	backend Backend
	prefix  string
	opts    Options

	statsMu sync.Mutex
	hits    int64
	misses  int64
	sets    int64
	deletes int64
}

// Connect builds a Cache against Redis, degrading to the in-process backend
// when Redis is unreachable. Degradation is a warning, not an error; the
// portal stays usable without Redis.
func Connect(ctx context.Context, opts Options) *Cache {
	c := &Cache{prefix: opts.KeyPrefix, opts: opts}
	backend, err := NewRedisBackend(ctx, opts.Addr, opts.Password, opts.DB)
	if err != nil {
		log.Printf("WARN: cache: redis unavailable, falling back to memory: %v", err)
		backend = NewMemoryBackend()
	} else {
		log.Printf("cache: connected to redis at %s", opts.Addr)
	}
	c.backend = backend
	return c
}

// NewWithBackend builds a Cache over an explicit backend.
func NewWithBackend(backend Backend, keyPrefix string) *Cache {
	return &Cache{backend: backend, prefix: keyPrefix}
}

func (c *Cache) currentBackend() Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

func (c *Cache) key(name string) string {
	return c.prefix + name
}

// Set stores value under key for ttl. It returns false only when
// serialization or the backend write fails; a non-positive ttl succeeds but
// leaves the entry expired on the next read.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	data, err := codec.Marshal(value)
	if err != nil {
		log.Printf("cache: marshal %s: %v", key, err)
		return false
	}
	payload, err := codec.Marshal(envelope{CreatedAt: time.Now(), Data: data})
	if err != nil {
		log.Printf("cache: marshal envelope %s: %v", key, err)
		return false
	}
	if err := c.currentBackend().Put(ctx, c.key(key), payload, ttl); err != nil {
		log.Printf("cache: set %s: %v", key, err)
		return false
	}
	c.statsMu.Lock()
	c.sets++
	c.statsMu.Unlock()
	return true
}

// Get loads the value stored under key into dest. It returns false on
// absence, expiry, or a decode failure, counting each as a miss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	payload, found, err := c.currentBackend().Fetch(ctx, c.key(key))
	if err != nil {
		log.Printf("cache: get %s: %v", key, err)
	}
	if err != nil || !found {
		c.recordMiss()
		return false
	}
	var env envelope
	if err := codec.Unmarshal(payload, &env); err != nil {
		log.Printf("cache: decode %s: %v", key, err)
		c.recordMiss()
		return false
	}
	if err := codec.Unmarshal(env.Data, dest); err != nil {
		log.Printf("cache: decode %s: %v", key, err)
		c.recordMiss()
		return false
	}
	c.recordHit()
	return true
}

// Timestamp returns when key was last written. It does not count toward
// hit/miss statistics.
func (c *Cache) Timestamp(ctx context.Context, key string) (time.Time, bool) {
	payload, found, err := c.currentBackend().Fetch(ctx, c.key(key))
	if err != nil || !found {
		return time.Time{}, false
	}
	var env envelope
	if err := codec.Unmarshal(payload, &env); err != nil {
		return time.Time{}, false
	}
	return env.CreatedAt, true
}

// Delete removes key regardless of expiry state and reports presence.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	present, err := c.currentBackend().Remove(ctx, c.key(key))
	if err != nil {
		log.Printf("cache: delete %s: %v", key, err)
		return false
	}
	if present {
		c.statsMu.Lock()
		c.deletes++
		c.statsMu.Unlock()
	}
	return present
}

// ClearPattern removes every key containing substr within this cache's
// prefix namespace, returning the number removed.
func (c *Cache) ClearPattern(ctx context.Context, substr string) int {
	n, err := c.currentBackend().RemoveMatching(ctx, c.prefix, substr)
	if err != nil {
		log.Printf("cache: clear pattern %q: %v", substr, err)
		return 0
	}
	return n
}

// Stats computes the current counters and hit rate. The rate is derived
// fresh on every call.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Sets:        c.sets,
		Deletes:     c.deletes,
		HitRate:     rate,
		BackendKind: c.currentBackend().Kind(),
	}
}

// Kind reports the active backend identity.
func (c *Cache) Kind() string {
	return c.currentBackend().Kind()
}

// Ping checks the active backend's reachability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.currentBackend().Ping(ctx)
}

// Reconnect re-evaluates backend availability. When running on the memory
// fallback it retries Redis and swaps over on success; hit/miss counters
// survive the swap.
func (c *Cache) Reconnect(ctx context.Context) error {
	if c.Kind() == "redis" {
		return c.Ping(ctx)
	}
	backend, err := NewRedisBackend(ctx, c.opts.Addr, c.opts.Password, c.opts.DB)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.backend
	c.backend = backend
	c.mu.Unlock()
	old.Close()
	log.Printf("cache: reconnected to redis at %s", c.opts.Addr)
	return nil
}

// Close releases the active backend.
func (c *Cache) Close() error {
	return c.currentBackend().Close()
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

// --- News Helpers ---

// NewsKey derives the cache key for a category's article list.
func NewsKey(category string) string {
	return "news:" + strings.ToLower(category)
}

// SetArticles caches a category's article list under its news key.
func (c *Cache) SetArticles(ctx context.Context, category string, articles []model.Article, ttl time.Duration) bool {
	return c.Set(ctx, NewsKey(category), articles, ttl)
}

// Articles returns the cached article list for a category.
func (c *Cache) Articles(ctx context.Context, category string) ([]model.Article, bool) {
	var articles []model.Article
	if !c.Get(ctx, NewsKey(category), &articles) {
		return nil, false
	}
	return articles, true
}

// NewsTimestamp returns when a category's articles were cached.
func (c *Cache) NewsTimestamp(ctx context.Context, category string) (time.Time, bool) {
	return c.Timestamp(ctx, NewsKey(category))
}
