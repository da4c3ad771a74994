package urlcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := newFakeClock()
	c := New(ttl, nil)
	c.now = clock.Now
	return c, clock
}

func TestCachePutGet(t *testing.T) {
	c, _ := newTestCache(2 * time.Hour)

	_, ok := c.Get("src")
	assert.False(t, ok, "empty cache should miss")

	put := c.Put("src", "https://cdn.example/v.mp4?sig=abc")
	got, ok := c.Get("src")
	require.True(t, ok)
	assert.Equal(t, put, got)
	assert.Equal(t, "https://cdn.example/v.mp4?sig=abc", got.URL)
	assert.Equal(t, got.ExtractedAt.Add(2*time.Hour), got.ExpiresAt)
}

func TestCacheExpiryEvictsOnGet(t *testing.T) {
	c, clock := newTestCache(2 * time.Hour)
	c.Put("src", "https://cdn.example/v.mp4")

	clock.Advance(2*time.Hour - time.Second)
	_, ok := c.Get("src")
	assert.True(t, ok, "entry should be live just under the TTL")

	clock.Advance(2 * time.Second)
	_, ok = c.Get("src")
	assert.False(t, ok, "entry should expire past the TTL")
	assert.Equal(t, 0, c.Len(), "expired entry should be evicted")
}

func TestCachePutOverwrites(t *testing.T) {
	c, clock := newTestCache(time.Hour)
	c.Put("src", "https://cdn.example/old")
	clock.Advance(30 * time.Minute)
	c.Put("src", "https://cdn.example/new")

	got, ok := c.Get("src")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/new", got.URL)
	assert.Equal(t, clock.Now().Add(time.Hour), got.ExpiresAt, "overwrite should reset the TTL")
	assert.Equal(t, 1, c.Len())
}

func TestGetOrResolveCachesResult(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	var calls atomic.Int32
	resolve := func(ctx context.Context, ref string) (string, error) {
		calls.Add(1)
		return "https://cdn.example/" + ref, nil
	}

	e, err := c.GetOrResolve(context.Background(), "src", resolve)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/src", e.URL)

	_, err = c.GetOrResolve(context.Background(), "src", resolve)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second call should hit the cache")
}

func TestGetOrResolveErrorNotCached(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	boom := errors.New("extraction failed")

	var calls atomic.Int32
	_, err := c.GetOrResolve(context.Background(), "src", func(ctx context.Context, ref string) (string, error) {
		calls.Add(1)
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len(), "failures must not be cached")

	_, err = c.GetOrResolve(context.Background(), "src", func(ctx context.Context, ref string) (string, error) {
		calls.Add(1)
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), calls.Load(), "failed resolve should be retried")
}

func TestGetOrResolveCollapsesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	resolve := func(ctx context.Context, ref string) (string, error) {
		calls.Add(1)
		<-release
		return "https://cdn.example/shared", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrResolve(context.Background(), "src", resolve)
		}(i)
	}

	// Give every caller a chance to reach the resolve path before
	// releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), calls.Load(), "concurrent misses should share one resolve")
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(time.Hour)
	c.Put("a", "https://cdn.example/a")
	c.Put("b", "https://cdn.example/b")
	clock.Advance(45 * time.Minute)
	c.Put("c", "https://cdn.example/c")
	clock.Advance(30 * time.Minute)

	removed := c.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("c")
	assert.True(t, ok, "unexpired entry should survive the sweep")
}
