package embedding

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEvictsInInsertionOrder(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Set("a", InputQuery, []float32{1})
	c.Set("b", InputQuery, []float32{2})

	// Reading does not refresh position.
	_, ok := c.Get("a", InputQuery)
	require.True(t, ok)

	c.Set("c", InputQuery, []float32{3})

	_, ok = c.Get("a", InputQuery)
	assert.False(t, ok, "oldest insertion should be evicted")
	v, ok := c.Get("b", InputQuery)
	require.True(t, ok)
	assert.Equal(t, []float32{2}, v)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCacheResetKeepsPosition(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Set("a", InputPassage, []float32{1})
	c.Set("b", InputPassage, []float32{2})
	c.Set("a", InputPassage, []float32{9})
	c.Set("c", InputPassage, []float32{3})

	_, ok := c.Get("a", InputPassage)
	assert.False(t, ok)
	_, ok = c.Get("b", InputPassage)
	assert.True(t, ok)
}

func TestCacheTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache(10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("x", InputQuery, []float32{1})
	_, ok := c.Get("x", InputQuery)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("x", InputQuery)
	assert.False(t, ok, "expired entry must miss")
	assert.Equal(t, 0, c.Stats().Size, "expired entry is dropped on read")
}

func TestCacheKeysIncludeInputType(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Set("same", InputQuery, []float32{1})
	_, ok := c.Get("same", InputPassage)
	assert.False(t, ok)
}

func TestCacheStatsAndCopies(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Set("x", InputQuery, []float32{1, 2})

	v, _ := c.Get("x", InputQuery)
	v[0] = 42
	again, _ := c.Get("x", InputQuery)
	assert.Equal(t, float32(1), again[0], "callers must not mutate cached vectors")

	c.Get("missing", InputQuery)
	st := c.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 2.0/3.0, st.HitRate, 1e-9)
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0, time.Hour)
	c.Set("x", InputQuery, []float32{1})
	_, ok := c.Get("x", InputQuery)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(50, time.Hour)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%120)
				c.Set(key, InputQuery, []float32{float32(i)})
				c.Get(key, InputQuery)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Size, 50)
}
