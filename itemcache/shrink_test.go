package itemcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestShrinkSplitsRange is the literal shrink scenario: evicting the
// item at 7 out of [0,20] with retained neighbors at 5 and 9 splits
// the range around the evicted key, reusing the evicted item's record.
func TestShrinkSplitsRange(t *testing.T) {
	c, _ := newTestCache(t, nil)

	b := NewBatch()
	b.Add(tk(5), []byte("e"))
	b.Add(tk(7), []byte("g"))
	b.Add(tk(9), []byte("i"))
	require.NoError(t, c.InsertBatch(b, tk(0), tk(20)))

	// The LRU is insertion-ordered; 5 is oldest. Touch 5 and 9 so the
	// target lands at the front.
	lck := rl(0, 20)
	_, err := lookupStr(t, c, lck, 5)
	require.NoError(t, err)
	_, err = lookupStr(t, c, lck, 9)
	require.NoError(t, err)

	freed := c.Shrink(1)
	require.Equal(t, 1, freed)

	c.mu.Lock()
	got := rangesOf(c)
	it5, _, _ := c.walk(tk(5))
	it7, _, _ := c.walk(tk(7))
	it9, _, _ := c.walk(tk(9))
	// The right-half record is the evicted item's embedded one.
	var right *KeyRange
	c.ranges.AscendGreaterOrEqual(&KeyRange{Start: tk(8)}, func(r *KeyRange) bool {
		right = r
		return false
	})
	c.mu.Unlock()

	require.Equal(t, [][2]uint64{{0, 6}, {8, 20}}, got)
	require.NotNil(t, it5)
	require.Nil(t, it7)
	require.NotNil(t, it9)
	require.NotNil(t, right)

	// Evicted keys must not be covered (P8); retained ones must be.
	c.mu.Lock()
	require.Nil(t, c.coverage(tk(7)))
	require.NotNil(t, c.coverage(tk(5)))
	require.NotNil(t, c.coverage(tk(9)))
	c.mu.Unlock()
}

func TestShrinkUncoveredItem(t *testing.T) {
	c, _ := newTestCache(t, nil)

	// An item outside any range needs no coverage repair.
	c.mu.Lock()
	it := newItem(tk(3), newValue([]byte("x")))
	c.insertItem(it)
	c.lruAdd(it)
	c.mu.Unlock()

	require.Equal(t, 1, c.Shrink(1))
	require.Zero(t, c.NrItems())
}

func TestShrinkWholeRange(t *testing.T) {
	c, _ := newTestCache(t, nil)

	b := NewBatch()
	b.Add(tk(7), []byte("g"))
	require.NoError(t, c.InsertBatch(b, tk(0), tk(20)))

	// Lone item: the window is the whole range, so both go.
	require.Equal(t, 1, c.Shrink(1))

	c.mu.Lock()
	require.Equal(t, 0, c.ranges.Len())
	c.mu.Unlock()
	require.Zero(t, c.NrItems())
}

// TestShrinkNeverEvictsDirty drives P8's other half: dirty items stay,
// and a clean item wedged between dirty consecutive-key neighbors is
// rotated rather than evicted.
func TestShrinkNeverEvictsDirty(t *testing.T) {
	c, _ := newTestCache(t, nil)
	lck := wl(0, 20)
	ctx := context.Background()

	b := NewBatch()
	b.Add(tk(1), []byte("a"))
	b.Add(tk(2), []byte("b"))
	b.Add(tk(3), []byte("c"))
	require.NoError(t, c.InsertBatch(b, tk(0), tk(20)))

	// Dirty the neighbors on both sides of 2. Their keys touch 2's, so
	// there is no sound split point and 2 cannot be evicted.
	require.NoError(t, c.Dirty(ctx, lck, tk(1)))
	require.NoError(t, c.Dirty(ctx, lck, tk(3)))

	require.Zero(t, c.Shrink(10))
	require.Equal(t, 3, c.NrItems())

	nr, _ := c.NrDirty()
	require.Equal(t, int64(2), nr)
}

func TestShrinkSweepsEmptyRanges(t *testing.T) {
	c, _ := newTestCache(t, nil)

	// Pure negative coverage with no items at all.
	require.NoError(t, c.InsertBatch(NewBatch(), tk(0), tk(9)))

	c.mu.Lock()
	require.Equal(t, 1, c.ranges.Len())
	c.mu.Unlock()

	c.Shrink(1)

	c.mu.Lock()
	require.Equal(t, 0, c.ranges.Len())
	c.mu.Unlock()
}

func TestShrinkHonorsTarget(t *testing.T) {
	c, _ := newTestCache(t, nil)

	b := NewBatch()
	for n := uint64(0); n < 20; n++ {
		b.Add(tk(n*10), []byte("v"))
	}
	require.NoError(t, c.InsertBatch(b, tk(0), tk(200)))

	freed := c.Shrink(3)
	require.GreaterOrEqual(t, freed, 3)
	require.Less(t, freed, 20)
	require.Equal(t, 20-freed, c.NrItems())

	// Every surviving item is still covered.
	c.mu.Lock()
	for it := subtreeMin(c.root); it != nil; it = it.next() {
		require.NotNil(t, c.coverage(it.key))
	}
	c.mu.Unlock()
}
