package itemcache

import (
	"github.com/google/btree"

	"github.com/rpcpool/loamfs/key"
)

// KeyRange says that every key in [Start, End] has a definitive
// verdict: either an item is cached at it, or it is known absent from
// segments. The set of cached ranges is kept maximal: pairwise
// disjoint and never adjacent, so a merge always happens instead.
type KeyRange struct {
	Start key.Key
	End   key.Key
}

func rangeLess(a, b *KeyRange) bool {
	return key.Less(a.Start, b.Start)
}

func newRangeTree() *btree.BTreeG[*KeyRange] {
	return btree.NewG(8, rangeLess)
}

// coverage returns the cached range containing k, or nil.
func (c *Cache) coverage(k key.Key) *KeyRange {
	var found *KeyRange
	c.ranges.DescendLessOrEqual(&KeyRange{Start: k}, func(r *KeyRange) bool {
		if key.Compare(r.End, k) >= 0 {
			found = r
		}
		return false
	})
	return found
}

// insertRange adds r's coverage, merging any overlapping or adjacent
// ranges into r. If r is contained in an existing range the existing
// coverage simply absorbs it.
func (c *Cache) insertRange(r *KeyRange) {
	start := r.Start
	end := r.End

	var doomed []*KeyRange
	// Only the nearest range starting at or before us can reach us.
	c.ranges.DescendLessOrEqual(&KeyRange{Start: start}, func(o *KeyRange) bool {
		// overlapping, or ending immediately before our start
		if key.Compare(o.End, start) >= 0 ||
			(!start.IsZero() && key.Compare(o.End, key.Dec(start)) == 0) {
			doomed = append(doomed, o)
		}
		return false
	})
	// Ranges starting inside us or immediately after our end.
	lim := end
	if !end.IsMax() {
		lim = key.Inc(end)
	}
	c.ranges.AscendGreaterOrEqual(&KeyRange{Start: start}, func(o *KeyRange) bool {
		if key.Compare(o.Start, lim) > 0 {
			return false
		}
		if len(doomed) == 0 || doomed[len(doomed)-1] != o {
			doomed = append(doomed, o)
		}
		return true
	})

	for _, o := range doomed {
		if key.Less(o.Start, start) {
			start = o.Start
		}
		if key.Less(end, o.End) {
			end = o.End
		}
		c.ranges.Delete(o)
	}
	r.Start = start
	r.End = end
	c.ranges.ReplaceOrInsert(r)
}

// removeRange withdraws coverage of [start, end]. Overlapping ranges
// are shrunk to the surviving keys; a range strictly containing the
// removed span is split, with spare (if non-nil) reused as the right
// half's record.
func (c *Cache) removeRange(start, end key.Key, spare *KeyRange) {
	var hits []*KeyRange
	c.ranges.DescendLessOrEqual(&KeyRange{Start: start}, func(o *KeyRange) bool {
		if key.Compare(o.End, start) >= 0 {
			hits = append(hits, o)
		}
		return false
	})
	c.ranges.AscendGreaterOrEqual(&KeyRange{Start: start}, func(o *KeyRange) bool {
		if key.Compare(o.Start, end) > 0 {
			return false
		}
		if len(hits) == 0 || hits[len(hits)-1] != o {
			hits = append(hits, o)
		}
		return true
	})

	for _, o := range hits {
		keepLeft := key.Less(o.Start, start)
		keepRight := key.Less(end, o.End)
		switch {
		case keepLeft && keepRight:
			right := spare
			if right == nil {
				right = &KeyRange{}
			}
			right.Start = key.Inc(end)
			right.End = o.End
			// Start is the ordering key, so End can shrink in place.
			o.End = key.Dec(start)
			c.ranges.ReplaceOrInsert(right)
		case keepLeft:
			o.End = key.Dec(start)
		case keepRight:
			c.ranges.Delete(o)
			o.Start = key.Inc(end)
			c.ranges.ReplaceOrInsert(o)
		default:
			c.ranges.Delete(o)
		}
	}
}

// KeysSince fills out with the endpoint pairs of cached ranges,
// starting from the first range containing or following k, up to out's
// capacity. Returns the number of keys written, always even.
func (c *Cache) KeysSince(k key.Key, out []key.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := len(out) &^ 1
	n := 0
	if r := c.coverage(k); r != nil && n+2 <= limit {
		out[n] = r.Start
		out[n+1] = r.End
		n += 2
	}
	c.ranges.AscendGreaterOrEqual(&KeyRange{Start: k}, func(o *KeyRange) bool {
		if n > 0 && out[n-2] == o.Start {
			return true
		}
		if n+2 > limit {
			return false
		}
		out[n] = o.Start
		out[n+1] = o.End
		n += 2
		return true
	})
	return n
}
