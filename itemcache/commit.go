package itemcache

import (
	"context"

	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/metrics"
)

// HasDirty returns true if any item must be written at the next
// commit.
func (c *Cache) HasDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return subtreeDirty(c.root)
}

// NrDirty returns the dirty item count and their total value bytes.
func (c *Cache) NrDirty() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nrDirty, c.dirtyValBytes
}

// DirtyFitsSingle returns true if the current dirty set, plus the
// given headroom, would fit in a single empty segment. Commit callers
// check this before DirtySeg so an append never fails mid-segment.
func (c *Cache) DirtyFitsSingle(seg Segment, nrExtra, bytesExtra int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seg.FitsSingle(int(c.nrDirty)+nrExtra, int(c.dirtyValBytes)+bytesExtra)
}

// DirtySeg appends every dirty item to seg in ascending key order.
// Written items become clean and persistent; written tombstones are
// erased. If an append does not fit the commit aborts with
// types.ErrSegmentFull and the remaining items stay dirty.
func (c *Cache) DirtySeg(seg Segment) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	for it := c.firstDirty(); it != nil; {
		var val []byte
		if it.val != nil {
			val = it.val.B
		}
		if !seg.Append(it.key, val, it.deletion) {
			log.Errorw("dirty item did not fit segment",
				"key", it.key, "nr_dirty", c.nrDirty)
			return types.ErrSegmentFull
		}

		// Fetch the successor before this item's bits change.
		next := nextDirty(it)

		if it.deletion {
			metrics.ItemTombstoneWrite.Inc()
		} else {
			metrics.ItemDirtyWrite.Inc()
		}

		c.clearDirty(it)
		it.persistent = true
		if it.deletion {
			// The tombstone has done its job once written.
			c.eraseFree(it)
		}
		it = next
	}
	return nil
}

// RangeCached reports whether any item — any dirty item, if dirtyOnly
// — is cached in [start, end].
func (c *Cache) RangeCached(start, end key.Key, dirtyOnly bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dirtyOnly {
		return c.dirtyInRange(start, end)
	}
	it, _, succ := c.walk(start)
	if it == nil {
		it = succ
	}
	return it != nil && key.Compare(it.key, end) <= 0
}

func (c *Cache) dirtyInRange(start, end key.Key) bool {
	for it := c.firstDirty(); it != nil; it = nextDirty(it) {
		if key.Compare(it.key, end) > 0 {
			return false
		}
		if key.Compare(it.key, start) >= 0 {
			return true
		}
	}
	return false
}

// Writeback syncs the enclosing transaction if [start, end] holds
// dirty items. It takes the commit gate so it cannot interleave with
// an in-flight DirtySeg.
func (c *Cache) Writeback(ctx context.Context, start, end key.Key) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	dirty := c.dirtyInRange(start, end)
	c.mu.Unlock()

	if !dirty {
		return nil
	}
	if c.tracker == nil {
		log.Errorw("writeback with no tracker configured",
			"start", start, "end", end)
		return types.ErrIO
	}
	return c.tracker.Sync(ctx, true)
}

// Invalidate erases every item in [start, end] and withdraws the
// range's coverage. No item in the range may be dirty.
func (c *Cache) Invalidate(start, end key.Key) error {
	if key.Compare(start, end) > 0 {
		return types.ErrInvalidArg
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dirtyInRange(start, end) {
		log.Errorw("invalidate over dirty items", "start", start, "end", end)
		return types.ErrInvalidArg
	}

	it, _, succ := c.walk(start)
	if it == nil {
		it = succ
	}
	for it != nil && key.Compare(it.key, end) <= 0 {
		next := it.next()
		c.eraseFree(it)
		metrics.ItemInvalidate.Inc()
		it = next
	}

	c.removeRange(start, end, nil)
	return nil
}
