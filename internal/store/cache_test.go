package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memory-map/internal/entry"
)

// countingBackend 统计 List 调用次数
type countingBackend struct {
	*MemoryBackend
	lists int
}

func (c *countingBackend) List(ctx context.Context) ([]entry.Entry, error) {
	c.lists++
	return c.MemoryBackend.List(ctx)
}

func newCached(t *testing.T) (*CachedBackend, *countingBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	inner := &countingBackend{MemoryBackend: NewMemoryBackend()}
	return NewCached(inner, rc, time.Minute), inner, mr
}

func TestCachedListHitsCache(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)
	require.NoError(t, c.Insert(ctx, sample("a")))

	first, err := c.List(ctx)
	require.NoError(t, err)
	second, err := c.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.lists)
	assert.True(t, mr.Exists(CacheKey))
	assert.Equal(t, time.Minute, mr.TTL(CacheKey))
}

func TestCachedInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)
	require.NoError(t, c.Insert(ctx, sample("a")))
	_, err := c.List(ctx)
	require.NoError(t, err)

	ok, err := c.Increment(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, mr.Exists(CacheKey))

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list[0].NumVisits)
	assert.Equal(t, 2, inner.lists)

	require.NoError(t, c.Insert(ctx, sample("b")))
	assert.False(t, mr.Exists(CacheKey))
}

func TestCachedRedisDownFallsThrough(t *testing.T) {
	ctx := context.Background()
	c, inner, mr := newCached(t)
	require.NoError(t, c.Insert(ctx, sample("a")))
	mr.Close()

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, inner.lists)
}

func TestCachedNilClientPassThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingBackend{MemoryBackend: NewMemoryBackend()}
	c := NewCached(inner, nil, 0)
	require.NoError(t, c.Insert(ctx, sample("a")))
	_, _ = c.List(ctx)
	_, _ = c.List(ctx)
	assert.Equal(t, 2, inner.lists)

	tot, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tot.Total)
}

// pausedList：第一次 List 读完后暂停，直到 release 关闭
type pausedList struct {
	*MemoryBackend
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausedList) List(ctx context.Context) ([]entry.Entry, error) {
	list, err := p.MemoryBackend.List(ctx)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.read)
		<-p.release
	}
	return list, err
}

func TestCachedStaleFillAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	inner := &pausedList{MemoryBackend: NewMemoryBackend(), read: make(chan struct{}), release: make(chan struct{})}
	c := NewCached(inner, rc, time.Minute)

	done := make(chan []entry.Entry, 1)
	go func() {
		list, _ := c.List(ctx)
		done <- list
	}()
	<-inner.read
	require.NoError(t, c.Insert(ctx, sample("e")))
	close(inner.release)
	stale := <-done
	assert.Empty(t, stale)
	assert.False(t, mr.Exists(CacheKey), "list read before the insert must not be cached")

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e", list[0].ID)
	assert.True(t, mr.Exists(CacheKey))
}

func TestCachedInvalidateBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	c, _, mr := newCached(t)
	require.NoError(t, c.Insert(ctx, sample("a")))
	require.NoError(t, c.Insert(ctx, sample("b")))
	gen, err := mr.Get(GenKey)
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
}
