package itemcache

import (
	"container/list"

	"github.com/valyala/bytebufferpool"

	"github.com/rpcpool/loamfs/key"
)

// valPool recycles value buffers. Buffers are taken outside the cache
// lock and handed over under it.
var valPool bytebufferpool.Pool

// item is the in-memory record for one logical key. It embeds its tree
// linkage, its LRU linkage (present only while clean), and a spare
// range record that the shrinker reuses when it has to split a cached
// range without allocating.
type item struct {
	parent, left, right *item
	red                 bool

	key key.Key
	// val is nil for valueless items and for deletion items.
	val *bytebufferpool.ByteBuffer

	// deletion marks a tombstone: a logical delete of a persistent key
	// that has not been committed yet.
	deletion bool
	// persistent means the key exists (or existed) in segments, so a
	// delete must be flushed as a tombstone.
	persistent bool

	dirty uint8

	// lruEnt is non-nil iff the item is clean and linked on the LRU.
	lruEnt *list.Element

	// rangeRec is donated to the range map when the shrinker splits a
	// range around this item's eviction window.
	rangeRec KeyRange
}

func newValue(v []byte) *bytebufferpool.ByteBuffer {
	if v == nil {
		return nil
	}
	b := valPool.Get()
	b.Set(v)
	return b
}

func freeValue(b *bytebufferpool.ByteBuffer) {
	if b != nil {
		valPool.Put(b)
	}
}

func newItem(k key.Key, val *bytebufferpool.ByteBuffer) *item {
	return &item{key: k, val: val}
}

func (it *item) valLen() int {
	if it.val == nil {
		return 0
	}
	return it.val.Len()
}

// copyValue copies the item's value into buf, truncating to buf's
// length, and returns the number of bytes copied.
func (it *item) copyValue(buf []byte) int {
	if it.val == nil {
		return 0
	}
	return copy(buf, it.val.B)
}

func (it *item) isDirty() bool {
	return it.dirty&dirtySelf != 0
}

func (c *Cache) trackItem(deltaItems, deltaBytes int64) {
	if c.tracker != nil && (deltaItems != 0 || deltaBytes != 0) {
		c.tracker.TrackItem(deltaItems, deltaBytes)
	}
}

func (c *Cache) lruAdd(it *item) {
	if it.lruEnt == nil {
		it.lruEnt = c.lru.PushBack(it)
	}
}

func (c *Cache) lruRemove(it *item) {
	if it.lruEnt != nil {
		c.lru.Remove(it.lruEnt)
		it.lruEnt = nil
	}
}

func (c *Cache) lruTouch(it *item) {
	if it.lruEnt != nil {
		c.lru.MoveToBack(it.lruEnt)
	}
}

// markDirty sets the item's self bit, pulls it off the LRU, and
// accounts it against the next commit.
func (c *Cache) markDirty(it *item) {
	if it.isDirty() {
		return
	}
	it.dirty |= dirtySelf
	propagateDirty(it.parent)
	c.lruRemove(it)
	c.nrDirty++
	c.dirtyValBytes += int64(it.valLen())
	c.trackItem(1, int64(it.valLen()))
}

// clearDirty clears the self bit and puts the item back on the LRU.
func (c *Cache) clearDirty(it *item) {
	if !it.isDirty() {
		return
	}
	it.dirty &^= dirtySelf
	propagateDirty(it.parent)
	c.lruAdd(it)
	c.nrDirty--
	c.dirtyValBytes -= int64(it.valLen())
	c.trackItem(-1, -int64(it.valLen()))
}

// swapValue replaces the item's value buffer, keeping the dirty byte
// accounting straight if the item is dirty.
func (c *Cache) swapValue(it *item, val *bytebufferpool.ByteBuffer) {
	oldLen := int64(it.valLen())
	freeValue(it.val)
	it.val = val
	if it.isDirty() {
		delta := int64(it.valLen()) - oldLen
		c.dirtyValBytes += delta
		c.trackItem(0, delta)
	}
}

// eraseFree removes the item from every structure and recycles its
// value buffer.
func (c *Cache) eraseFree(it *item) {
	if it.isDirty() {
		c.nrDirty--
		c.dirtyValBytes -= int64(it.valLen())
		c.trackItem(-1, -int64(it.valLen()))
	}
	c.lruRemove(it)
	c.eraseItem(it)
	freeValue(it.val)
	it.val = nil
}

// unlinkSave removes the item from the tree and LRU without freeing
// it, unwinding dirty accounting. The item keeps its self bit so a
// later restore can re-account it.
func (c *Cache) unlinkSave(it *item) {
	if it.isDirty() {
		c.nrDirty--
		c.dirtyValBytes -= int64(it.valLen())
		c.trackItem(-1, -int64(it.valLen()))
	}
	c.lruRemove(it)
	c.eraseItem(it)
	// Strip subtree bits that described its old position.
	it.dirty &= dirtySelf
}

// relink inserts a previously saved item and re-accounts it.
func (c *Cache) relink(it *item) {
	c.insertItem(it)
	if it.isDirty() {
		c.nrDirty++
		c.dirtyValBytes += int64(it.valLen())
		c.trackItem(1, int64(it.valLen()))
	} else {
		c.lruAdd(it)
	}
}
