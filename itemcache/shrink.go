package itemcache

import (
	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/metrics"
)

// Shrink reclaims clean items, oldest first, until at least nr are gone
// or no further item can be evicted. Each eviction erases a whole
// window, so more than nr items may be reclaimed. Evicting an item
// inside a cached range must not leave the range claiming the evicted
// key is known-absent, so the shrinker erases a contiguous window of
// clean items and shrinks or splits the range around it. The split's
// right-half record is the evicted item's embedded range record, so
// the pass allocates nothing for range bookkeeping.
//
// Returns the number of items reclaimed.
func (c *Cache) Shrink(nr int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	freed := 0
	var firstRotated *item

	for nr > 0 {
		ent := c.lru.Front()
		if ent == nil {
			break
		}
		it := ent.Value.(*item)
		if it == firstRotated {
			// Wrapped around to an item we already failed on.
			break
		}

		rng := c.coverage(it.key)
		if rng == nil {
			// Outside any range: no coverage to repair.
			c.eraseFree(it)
			metrics.ItemShrink.Inc()
			freed++
			nr--
			continue
		}

		win, ok := c.shrinkWindow(it, rng)
		if !ok {
			c.lru.MoveToBack(ent)
			if firstRotated == nil {
				firstRotated = it
			}
			metrics.ItemShrinkSkipped.Inc()
			continue
		}

		c.shrinkRange(it, rng, win)

		// Erase the window. All of it is clean by construction.
		for doomed := win.first; doomed != nil; {
			var next *item
			if doomed != win.last {
				next = doomed.next()
			}
			c.eraseFree(doomed)
			metrics.ItemShrink.Inc()
			freed++
			nr--
			doomed = next
		}
	}

	c.sweepEmptyRanges()
	return freed
}

// window is the contiguous run of items the shrinker will evict.
// hasLeft and hasRight say whether a retained item remains between the
// window and the respective range endpoint.
type window struct {
	first, last *item
	hasLeft     bool
	hasRight    bool
}

// shrinkWindow walks outward from it in each direction looking for a
// boundary where splitting the range is sound: a spot with free key
// space between the boundary item and its retained neighbor, so the
// decremented or incremented key does not land on the neighbor. The
// walk stops at the range endpoint, at a dirty neighbor, at the scan
// cap, or once a sound boundary is in hand and the minimum scan is
// done. Hitting the range endpoint without a sound boundary means the
// window runs to the endpoint and that side keeps no neighbor.
// Hitting a dirty neighbor without one means the item cannot be
// evicted this pass.
func (c *Cache) shrinkWindow(it *item, rng *KeyRange) (window, bool) {
	if it.isDirty() {
		// Dirty items are never on the LRU; seeing one here means the
		// linkage is off. Leave it alone.
		log.Errorw("dirty item on lru", "key", it.key)
		return window{}, false
	}

	var win window

	cur := it
	var soundFirst *item
	for steps := 0; ; steps++ {
		p := cur.prev()
		if p == nil || key.Compare(p.key, rng.Start) < 0 {
			// cur is the leftmost item in the range.
			if soundFirst == nil {
				win.first = cur
			}
			break
		}
		if key.Compare(key.Dec(cur.key), p.key) > 0 {
			soundFirst = cur
		}
		if p.isDirty() {
			if soundFirst == nil {
				return window{}, false
			}
			break
		}
		if steps >= c.boundaryMax ||
			(soundFirst != nil && steps >= c.boundaryMin) {
			if soundFirst == nil {
				return window{}, false
			}
			break
		}
		cur = p
	}
	if soundFirst != nil {
		win.first = soundFirst
		win.hasLeft = true
	}

	cur = it
	var soundLast *item
	for steps := 0; ; steps++ {
		n := cur.next()
		if n == nil || key.Compare(n.key, rng.End) > 0 {
			if soundLast == nil {
				win.last = cur
			}
			break
		}
		if key.Compare(key.Inc(cur.key), n.key) < 0 {
			soundLast = cur
		}
		if n.isDirty() {
			if soundLast == nil {
				return window{}, false
			}
			break
		}
		if steps >= c.boundaryMax ||
			(soundLast != nil && steps >= c.boundaryMin) {
			if soundLast == nil {
				return window{}, false
			}
			break
		}
		cur = n
	}
	if soundLast != nil {
		win.last = soundLast
		win.hasRight = true
	}

	return win, true
}

// shrinkRange repairs rng so it no longer covers the window. The
// donated item's embedded record backs the right half of a split.
func (c *Cache) shrinkRange(donor *item, rng *KeyRange, win window) {
	switch {
	case !win.hasLeft && !win.hasRight:
		// The window is the range's entire item subset.
		c.ranges.Delete(rng)
	case win.hasLeft && !win.hasRight:
		rng.End = key.Dec(win.first.key)
	case !win.hasLeft && win.hasRight:
		c.ranges.Delete(rng)
		rng.Start = key.Inc(win.last.key)
		c.ranges.ReplaceOrInsert(rng)
	default:
		right := &donor.rangeRec
		right.Start = key.Inc(win.last.key)
		right.End = rng.End
		rng.End = key.Dec(win.first.key)
		c.ranges.ReplaceOrInsert(right)
		metrics.ItemShrinkRangeSplit.Inc()
	}
}

// sweepEmptyRanges drops every range that holds no cached item,
// whether it emptied out during the walk or was bare before. A bare range is pure negative coverage; under memory
// pressure it is not worth keeping.
func (c *Cache) sweepEmptyRanges() {
	var doomed []*KeyRange
	c.ranges.Ascend(func(r *KeyRange) bool {
		it, _, succ := c.walk(r.Start)
		if it == nil {
			it = succ
		}
		if it == nil || key.Compare(it.key, r.End) > 0 {
			doomed = append(doomed, r)
		}
		return true
	})
	for _, r := range doomed {
		c.ranges.Delete(r)
	}
}
