// Package urlcache caches resolved direct media URLs per source reference.
//
// Direct URLs issued by upstream platforms are signed and expire, so
// entries carry a TTL that is deliberately shorter than typical upstream
// validity. Expiry here does not mean the upstream URL stopped working,
// only that it is no longer trusted enough to hand out.
package urlcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached direct URL.
type Entry struct {
	URL         string
	ExtractedAt time.Time
	ExpiresAt   time.Time
}

// ResolveFunc resolves a source reference to a direct URL.
type ResolveFunc func(ctx context.Context, sourceRef string) (string, error)

// Cache is a TTL cache of direct URLs keyed by source reference.
type Cache struct {
	ttl    time.Duration
	logger *slog.Logger

	// now is replaceable for tests.
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry

	group singleflight.Group
}

// New creates a Cache with the given entry TTL.
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "urlcache")),
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Get returns the cached URL for sourceRef. An expired entry is evicted
// and reported as a miss.
func (c *Cache) Get(sourceRef string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[sourceRef]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.now().After(e.ExpiresAt) {
		c.mu.Lock()
		// Recheck under the write lock in case a concurrent Put refreshed it.
		if cur, ok := c.entries[sourceRef]; ok && cur.ExpiresAt.Equal(e.ExpiresAt) {
			delete(c.entries, sourceRef)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Put stores url for sourceRef, overwriting any existing entry.
func (c *Cache) Put(sourceRef, url string) Entry {
	now := c.now()
	e := Entry{
		URL:         url,
		ExtractedAt: now,
		ExpiresAt:   now.Add(c.ttl),
	}
	c.mu.Lock()
	c.entries[sourceRef] = e
	c.mu.Unlock()
	return e
}

// GetOrResolve returns the cached URL for sourceRef, resolving and caching
// it on a miss. Concurrent misses for the same source share one resolve.
func (c *Cache) GetOrResolve(ctx context.Context, sourceRef string, resolve ResolveFunc) (Entry, error) {
	if e, ok := c.Get(sourceRef); ok {
		return e, nil
	}

	v, err, _ := c.group.Do(sourceRef, func() (any, error) {
		if e, ok := c.Get(sourceRef); ok {
			return e, nil
		}
		url, err := resolve(ctx, sourceRef)
		if err != nil {
			return Entry{}, err
		}
		e := c.Put(sourceRef, url)
		c.logger.Debug("cached direct URL",
			slog.String("source", sourceRef),
			slog.Time("expires_at", e.ExpiresAt),
		)
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for ref, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, ref)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
