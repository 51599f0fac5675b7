package manifest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/loamfs/cachelock"
	"github.com/rpcpool/loamfs/itemcache"
	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/manifest"
	"github.com/rpcpool/loamfs/segment"
)

func tk(n uint64) key.Key {
	return key.New(0, 0, n)
}

func buildSegment(t *testing.T, items map[uint64]string, tombstones ...uint64) *segment.Segment {
	t.Helper()
	s := segment.New(0)
	keys := []uint64{}
	for n := range items {
		keys = append(keys, n)
	}
	for _, n := range tombstones {
		keys = append(keys, n)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	isTombstone := func(n uint64) bool {
		for _, d := range tombstones {
			if d == n {
				return true
			}
		}
		return false
	}
	for _, n := range keys {
		if isTombstone(n) {
			require.True(t, s.Append(tk(n), nil, true))
		} else {
			require.True(t, s.Append(tk(n), []byte(items[n]), false))
		}
	}
	return s
}

func lookupStr(t *testing.T, c *itemcache.Cache, lck *cachelock.Lock, n uint64) (string, error) {
	t.Helper()
	buf := make([]byte, 64)
	got, err := c.Lookup(context.Background(), lck, tk(n), buf)
	if err != nil {
		return "", err
	}
	return string(buf[:got]), nil
}

// newPair wires a cache and manifest together the way a mount does:
// the manifest resolves the cache's misses, the cache sinks the
// manifest's batches.
func newPair(t *testing.T) (*itemcache.Cache, *manifest.Manifest) {
	t.Helper()
	m := manifest.New(nil)
	c := itemcache.New(itemcache.WithReader(m))
	m.SetSink(c)
	t.Cleanup(c.Close)
	return c, m
}

// TestReadThrough wires cache and manifest together: a cold lookup
// faults the lock window in from segments and later lookups in the
// window stay in memory.
func TestReadThrough(t *testing.T) {
	c, m := newPair(t)
	m.AddSegment(buildSegment(t, map[uint64]string{2: "B", 4: "D"}))

	lck := cachelock.New(cachelock.Read, tk(0), tk(9))
	v, err := lookupStr(t, c, lck, 2)
	require.NoError(t, err)
	require.Equal(t, "B", v)

	// Absent but covered after the read.
	_, err = lookupStr(t, c, lck, 3)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestNewerSegmentWins(t *testing.T) {
	c, m := newPair(t)

	m.AddSegment(buildSegment(t, map[uint64]string{5: "old", 7: "keep"}))
	m.AddSegment(buildSegment(t, map[uint64]string{5: "new"}))

	lck := cachelock.New(cachelock.Read, tk(0), tk(9))
	v, err := lookupStr(t, c, lck, 5)
	require.NoError(t, err)
	require.Equal(t, "new", v)

	v, err = lookupStr(t, c, lck, 7)
	require.NoError(t, err)
	require.Equal(t, "keep", v)
}

func TestTombstoneShadowsOlderValue(t *testing.T) {
	c, m := newPair(t)

	m.AddSegment(buildSegment(t, map[uint64]string{5: "old"}))
	m.AddSegment(buildSegment(t, nil, 5))

	lck := cachelock.New(cachelock.Read, tk(0), tk(9))
	_, err := lookupStr(t, c, lck, 5)
	require.ErrorIs(t, err, types.ErrNotFound)
}

// TestCommitCycle drives the full loop: mutate through the cache,
// commit to a segment, register it, drop the cache, and read it all
// back through a fresh cache.
func TestCommitCycle(t *testing.T) {
	m := manifest.New(nil)
	c := itemcache.New(itemcache.WithReader(m))
	m.SetSink(c)

	ctx := context.Background()
	wlck := cachelock.New(cachelock.Write, tk(0), tk(99))

	require.NoError(t, c.Create(ctx, wlck, tk(10), []byte("ten")))
	require.NoError(t, c.Create(ctx, wlck, tk(20), []byte("twenty")))

	seg := segment.New(0)
	require.NoError(t, c.DirtySeg(seg))
	m.AddSegment(seg)
	c.Close()

	// A fresh cache sees the committed state.
	m2 := manifest.New(nil)
	c2 := itemcache.New(itemcache.WithReader(m2))
	m2.SetSink(c2)
	m2.AddSegment(seg)
	t.Cleanup(c2.Close)

	rlck := cachelock.New(cachelock.Read, tk(0), tk(99))
	v, err := lookupStr(t, c2, rlck, 10)
	require.NoError(t, err)
	require.Equal(t, "ten", v)
	v, err = lookupStr(t, c2, rlck, 20)
	require.NoError(t, err)
	require.Equal(t, "twenty", v)
	_, err = lookupStr(t, c2, rlck, 15)
	require.ErrorIs(t, err, types.ErrNotFound)
}
