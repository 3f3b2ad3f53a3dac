package credentials

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolDedupsAndExcludes(t *testing.T) {
	bad := map[string]bool{"key-b": true}
	pool := NewPool([]string{"key-a", "key-b", "key-a", "", "key-c"}, func(k string) bool { return bad[k] })

	snap := pool.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "key-a", snap[0].Key)
	assert.Equal(t, "key-c", snap[1].Key)
	assert.False(t, pool.Has("key-b"))
}

func TestNextPicksLeastUsedInPoolOrder(t *testing.T) {
	pool := NewPool([]string{"a", "b", "c"}, nil)

	var got []string
	for i := 0; i < 6; i++ {
		k, err := pool.Next()
		require.NoError(t, err)
		got = append(got, k)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestNextBalancesUsage(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	for n := 1; n <= len(keys); n++ {
		pool := NewPool(keys, nil)
		for i := 0; i < n; i++ {
			_, err := pool.Next()
			require.NoError(t, err)
		}
		var lo, hi uint64 = ^uint64(0), 0
		for _, u := range pool.Snapshot() {
			lo = min(lo, u.Count)
			hi = max(hi, u.Count)
		}
		assert.LessOrEqual(t, hi-lo, uint64(1), "n=%d", n)
	}
}

func TestNextEmptyPool(t *testing.T) {
	pool := NewPool(nil, nil)
	_, err := pool.Next()
	assert.ErrorIs(t, err, ErrNoCredentials)
	_, err = pool.NextUnused(map[string]struct{}{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestNextUnusedSkipsTriedCredentials(t *testing.T) {
	pool := NewPool([]string{"a", "b", "c"}, nil)
	tried := map[string]struct{}{"a": {}, "b": {}}

	k, err := pool.NextUnused(tried)
	require.NoError(t, err)
	assert.Equal(t, "c", k)
	// a and b were picked and skipped on the way to c.
	for _, u := range pool.Snapshot() {
		assert.Equal(t, uint64(1), u.Count, u.Key)
	}
}

func TestNextUnusedClearsWhenPoolCovered(t *testing.T) {
	pool := NewPool([]string{"a", "b"}, nil)
	tried := map[string]struct{}{"a": {}, "b": {}}

	k, err := pool.NextUnused(tried)
	require.NoError(t, err)
	assert.Equal(t, "a", k)
	assert.Empty(t, tried)
}

func TestNextUnusedIgnoresRemovedCredentialsInTried(t *testing.T) {
	pool := NewPool([]string{"a", "b"}, nil)
	require.True(t, pool.Remove("a"))
	tried := map[string]struct{}{"a": {}}

	k, err := pool.NextUnused(tried)
	require.NoError(t, err)
	assert.Equal(t, "b", k)
}

func TestRemoveDropsUsageAndNotifies(t *testing.T) {
	pool := NewPool([]string{"a", "b"}, nil)
	var sizes []int
	pool.OnSizeChange(func(n int) { sizes = append(sizes, n) })

	_, _ = pool.Next()
	assert.True(t, pool.Remove("a"))
	assert.False(t, pool.Remove("a"))
	assert.False(t, pool.Has("a"))
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, []int{2, 1}, sizes)

	for i := 0; i < 3; i++ {
		k, err := pool.Next()
		require.NoError(t, err)
		assert.Equal(t, "b", k)
	}
}

func TestPoolConcurrentNext(t *testing.T) {
	pool := NewPool([]string{"a", "b", "c", "d"}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Next()
		}()
	}
	wg.Wait()

	for _, u := range pool.Snapshot() {
		assert.Equal(t, uint64(100), u.Count, u.Key)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask("short"))
	assert.Equal(t, "AIza...wxyz", Mask("AIzaSyABCDEFGHwxyz"))
}
