package itemcache

import (
	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/metrics"
)

// Batch is an ordered list of items read from segments, owned by the
// reader until InsertBatch transfers them into the cache.
type Batch struct {
	items []*item
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Add appends an item read from a segment. Keys must be added in
// ascending order.
func (b *Batch) Add(k key.Key, val []byte) {
	b.items = append(b.items, newItem(k, newValue(val)))
}

// Len returns the number of items in the batch.
func (b *Batch) Len() int {
	return len(b.items)
}

// InsertBatch records that [start, end] has been read from segments
// and populates the batch's items. An item already cached at a batch
// key wins: it may be a newer logical write that landed while the read
// ran unlocked, so the batch copy is discarded.
func (c *Cache) InsertBatch(b *Batch, start, end key.Key) error {
	if key.Compare(start, end) > 0 {
		return types.ErrInvalidArg
	}
	for i, it := range b.items {
		if key.Compare(it.key, start) < 0 || key.Compare(it.key, end) > 0 {
			return types.ErrInvalidArg
		}
		if i > 0 && key.Compare(b.items[i-1].key, it.key) >= 0 {
			return types.ErrInvalidArg
		}
	}

	rng := &KeyRange{Start: start, End: end}

	c.mu.Lock()
	c.insertRange(rng)
	for _, it := range b.items {
		if old, _, _ := c.walk(it.key); old != nil {
			metrics.ItemBatchDuplicate.Inc()
			freeValue(it.val)
			it.val = nil
			continue
		}
		it.persistent = true
		c.insertItem(it)
		c.lruAdd(it)
		metrics.ItemBatchInsert.Inc()
	}
	c.mu.Unlock()

	b.items = b.items[:0]
	return nil
}
