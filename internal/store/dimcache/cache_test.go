package dimcache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollyscale/core/internal/store/fingerprint"
)

func TestGetPutRoundTrip(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	fp := fingerprint.ID{Hi: 1, Lo: 2}
	_, ok := c.Get(fp)
	assert.False(t, ok)

	c.Put(fp, 42)
	id, ok := c.Get(fp)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c, err := NewSharded(1, 2)
	require.NoError(t, err)

	c.Put(fingerprint.ID{Hi: 1}, 1)
	c.Put(fingerprint.ID{Hi: 2}, 2)
	c.Put(fingerprint.ID{Hi: 3}, 3)

	assert.LessOrEqual(t, c.Len(), 2)
}

func TestConcurrentAccessAcrossShards(t *testing.T) {
	c, err := New(64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp := fingerprint.ID{Hi: uint64(i), Lo: uint64(i * 2)}
			c.Put(fp, int64(i))
			id, ok := c.Get(fp)
			assert.True(t, ok)
			assert.Equal(t, int64(i), id)
		}(i)
	}
	wg.Wait()
}

func TestPurge(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)
	c.Put(fingerprint.ID{Hi: 1}, 1)
	require.Equal(t, 1, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
