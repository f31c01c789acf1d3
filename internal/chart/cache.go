package chart

import (
	"context"
	"sync"
	"time"
)

// Loader reads a token's points from the ledger in ledger order
type Loader func(ctx context.Context, tokenID int64) ([]Point, error)

type entry struct {
	points   []Point
	loadedAt time.Time
}

// Cache holds per-token point series loaded from the ledger. A new trade
// either extends the cached series or drops it. A load that overlaps a
// RecordPoint for the same token is returned to its caller but not installed.
type Cache struct {
	load Loader
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	entries  map[int64]*entry
	versions map[int64]uint64
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithTTL makes entries older than ttl reload. Zero disables expiry.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithCacheClock overrides the time source used for expiry
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache backed by load
func NewCache(load Loader, opts ...CacheOption) *Cache {
	c := &Cache{
		load:     load,
		now:      time.Now,
		entries:  make(map[int64]*entry),
		versions: make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Points returns the token's series, loading it if needed. The loader runs
// without the cache lock held.
func (c *Cache) Points(ctx context.Context, tokenID int64) ([]Point, error) {
	c.mu.Lock()
	if e, ok := c.entries[tokenID]; ok && !c.expired(e) {
		points := clonePoints(e.points)
		c.mu.Unlock()
		return points, nil
	}
	version := c.versions[tokenID]
	c.mu.Unlock()

	points, err := c.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.versions[tokenID] == version {
		c.entries[tokenID] = &entry{points: clonePoints(points), loadedAt: c.now()}
	}
	c.mu.Unlock()

	return points, nil
}

// RecordPoint registers a newly appended trade. It must be called after the
// append is committed.
func (c *Cache) RecordPoint(tokenID int64, p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.versions[tokenID]++

	e, ok := c.entries[tokenID]
	if !ok {
		return
	}
	if n := len(e.points); n > 0 && !p.after(e.points[n-1]) {
		// out of order or already loaded, let the next read replay the ledger
		delete(c.entries, tokenID)
		return
	}
	e.points = append(e.points, p)
}

// Invalidate drops the token's series
func (c *Cache) Invalidate(tokenID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.versions[tokenID]++
	delete(c.entries, tokenID)
}

func (c *Cache) expired(e *entry) bool {
	return c.ttl > 0 && c.now().Sub(e.loadedAt) > c.ttl
}

func clonePoints(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	return out
}
