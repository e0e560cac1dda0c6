package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	c := New(64, time.Minute, 4)
	c.Put(SongKey("a"), "value-a")

	v, ok := c.Get(SongKey("a"))
	require.True(t, ok)
	require.Equal(t, "value-a", v)

	_, ok = c.Get(SongKey("b"))
	require.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(64, 20*time.Millisecond, 2)
	c.Put("k", 1)

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	c := New(64, time.Minute, 4)
	c.Put(SongKey("x"), 1)
	c.Invalidate(SongKey("x"))

	_, ok := c.Get(SongKey("x"))
	require.False(t, ok)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := New(256, time.Minute, 8)
	for i := 0; i < 20; i++ {
		c.Put(fmt.Sprintf("%sq%d", SearchPrefix, i), i)
	}
	c.Put(SongKey("keep"), "keep")

	c.InvalidatePrefix(SearchPrefix)

	for i := 0; i < 20; i++ {
		_, ok := c.Get(fmt.Sprintf("%sq%d", SearchPrefix, i))
		require.False(t, ok)
	}
	_, ok := c.Get(SongKey("keep"))
	require.True(t, ok)
}

func TestCacheEmbSongPrefix(t *testing.T) {
	c := New(64, time.Minute, 4)
	c.Put(EmbKey("s1", "model-a"), 1)
	c.Put(EmbKey("s1", "model-b"), 2)
	c.Put(EmbKey("s2", "model-a"), 3)

	c.InvalidatePrefix(EmbSongPrefix("s1"))

	_, ok := c.Get(EmbKey("s1", "model-a"))
	require.False(t, ok)
	_, ok = c.Get(EmbKey("s1", "model-b"))
	require.False(t, ok)
	_, ok = c.Get(EmbKey("s2", "model-a"))
	require.True(t, ok)
}

func TestCacheBounded(t *testing.T) {
	c := New(16, time.Minute, 4)
	for i := 0; i < 1000; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	require.LessOrEqual(t, c.Len(), 16)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(1024, time.Minute, 16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d/k%d", g, i)
				c.Put(key, i)
				c.Get(key)
				if i%10 == 0 {
					c.InvalidatePrefix(fmt.Sprintf("g%d/", g))
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestCachePurge(t *testing.T) {
	c := New(64, time.Minute, 4)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Purge()
	require.Equal(t, 0, c.Len())
}
