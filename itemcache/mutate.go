package itemcache

import (
	"context"

	"github.com/valyala/bytebufferpool"

	"github.com/rpcpool/loamfs/cachelock"
	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
)

func (c *Cache) checkValue(val []byte) error {
	if len(val) > c.maxValSize {
		return types.ErrInvalidArg
	}
	return nil
}

// Create inserts a new dirty item at k. Fails with types.ErrKeyExists
// if a live item is already there. A deletion item at k is replaced in
// place and the new item inherits its persistence, so a later delete
// still flushes a tombstone.
func (c *Cache) Create(ctx context.Context, lck *cachelock.Lock, k key.Key, val []byte) error {
	if err := c.checkValue(val); err != nil {
		return err
	}
	if err := checkLock(lck, cachelock.Write, k, k); err != nil {
		return err
	}

	// Allocate before taking the cache lock; hand over under it.
	v := newValue(val)

	for {
		c.mu.Lock()
		err := c.createLocked(k, v, false)
		c.mu.Unlock()
		if err != errNeedsRead {
			if err != nil {
				freeValue(v)
			}
			return err
		}
		if err := c.readItems(ctx, lck, k); err != nil {
			freeValue(v)
			return err
		}
	}
}

// createLocked installs v at k once the key's state is decisive.
// force skips coverage and marks the item persistent.
func (c *Cache) createLocked(k key.Key, v *bytebufferpool.ByteBuffer, force bool) error {
	it, _, _ := c.walk(k)
	if it != nil {
		if !it.deletion {
			if force {
				// A write-only lock means no one else can have this
				// key live; finding one is corruption.
				log.Errorw("create_force found live item", "key", k)
				return types.ErrCorruption
			}
			return types.ErrKeyExists
		}
		// Replace the tombstone in place. It stays dirty; persistence
		// carries over so deletion still emits a tombstone later.
		it.deletion = false
		c.swapValue(it, v)
		c.markDirty(it)
		return nil
	}

	if !force && c.coverage(k) == nil {
		return errNeedsRead
	}

	it = newItem(k, v)
	it.persistent = force
	c.insertItem(it)
	c.markDirty(it)
	return nil
}

// CreateForce installs an item at k without consulting coverage,
// under a write-only lock. The item is persistent: the key may exist
// in segments and this write shadows it.
func (c *Cache) CreateForce(lck *cachelock.Lock, k key.Key, val []byte) error {
	if err := c.checkValue(val); err != nil {
		return err
	}
	if err := checkLock(lck, cachelock.WriteOnly, k, k); err != nil {
		return err
	}

	v := newValue(val)

	c.mu.Lock()
	err := c.createLocked(k, v, true)
	c.mu.Unlock()
	if err != nil {
		freeValue(v)
	}
	return err
}

// Update replaces the value of the item at k and marks it dirty.
// Returns types.ErrNotFound when coverage says the key is absent.
func (c *Cache) Update(ctx context.Context, lck *cachelock.Lock, k key.Key, val []byte) error {
	if err := c.checkValue(val); err != nil {
		return err
	}
	if err := checkLock(lck, cachelock.Write, k, k); err != nil {
		return err
	}

	v := newValue(val)

	for {
		c.mu.Lock()
		err := c.updateLocked(k, v)
		c.mu.Unlock()
		if err != errNeedsRead {
			if err != nil {
				freeValue(v)
			}
			return err
		}
		if err := c.readItems(ctx, lck, k); err != nil {
			freeValue(v)
			return err
		}
	}
}

func (c *Cache) updateLocked(k key.Key, v *bytebufferpool.ByteBuffer) error {
	it, _, _ := c.walk(k)
	if it != nil {
		if it.deletion {
			return types.ErrNotFound
		}
		c.swapValue(it, v)
		c.markDirty(it)
		return nil
	}
	if c.coverage(k) != nil {
		return types.ErrNotFound
	}
	return errNeedsRead
}

// Delete removes the item at k. A non-persistent item vanishes
// outright; a persistent one collapses to a dirty deletion item that
// commits as a tombstone.
func (c *Cache) Delete(ctx context.Context, lck *cachelock.Lock, k key.Key) error {
	if err := checkLock(lck, cachelock.Write, k, k); err != nil {
		return err
	}

	for {
		c.mu.Lock()
		err := c.deleteLocked(k)
		c.mu.Unlock()
		if err != errNeedsRead {
			return err
		}
		if err := c.readItems(ctx, lck, k); err != nil {
			return err
		}
	}
}

func (c *Cache) deleteLocked(k key.Key) error {
	it, _, _ := c.walk(k)
	if it == nil {
		if c.coverage(k) != nil {
			return types.ErrNotFound
		}
		return errNeedsRead
	}
	if it.deletion {
		return types.ErrNotFound
	}

	if !it.persistent {
		// Never hit a segment; nothing to flush.
		c.eraseFree(it)
		return nil
	}

	c.makeTombstone(it)
	return nil
}

// makeTombstone collapses a live persistent item into a dirty deletion
// item, dropping its value.
func (c *Cache) makeTombstone(it *item) {
	c.swapValue(it, nil)
	it.deletion = true
	c.markDirty(it)
}

// DeleteForce installs a tombstone at k without reading the item
// first, under a write-only lock.
func (c *Cache) DeleteForce(lck *cachelock.Lock, k key.Key) error {
	if err := checkLock(lck, cachelock.WriteOnly, k, k); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	it, _, _ := c.walk(k)
	if it == nil {
		it = newItem(k, nil)
		it.persistent = true
		it.deletion = true
		c.insertItem(it)
		c.markDirty(it)
		return nil
	}
	it.persistent = true
	if !it.deletion {
		c.makeTombstone(it)
	}
	return nil
}

// Dirty marks the existing item at k dirty so it is written at the
// next commit, without changing its value.
func (c *Cache) Dirty(ctx context.Context, lck *cachelock.Lock, k key.Key) error {
	if err := checkLock(lck, cachelock.Write, k, k); err != nil {
		return err
	}

	for {
		c.mu.Lock()
		err := c.dirtyLocked(k)
		c.mu.Unlock()
		if err != errNeedsRead {
			return err
		}
		if err := c.readItems(ctx, lck, k); err != nil {
			return err
		}
	}
}

func (c *Cache) dirtyLocked(k key.Key) error {
	it, _, _ := c.walk(k)
	if it != nil {
		if it.deletion {
			return types.ErrNotFound
		}
		c.markDirty(it)
		return nil
	}
	if c.coverage(k) != nil {
		return types.ErrNotFound
	}
	return errNeedsRead
}

// SavedList carries items between DeleteSave and Restore. The list
// owns its items until restored.
type SavedList struct {
	items []*item
}

// NewSavedList returns an empty saved-item list.
func NewSavedList() *SavedList {
	return &SavedList{}
}

// Len returns the number of saved items.
func (l *SavedList) Len() int {
	return len(l.items)
}

// DeleteSave unlinks the item at k onto list, keeping its dirty
// status, and installs a persistent tombstone in its place. Restore
// undoes it.
func (c *Cache) DeleteSave(ctx context.Context, lck *cachelock.Lock, k key.Key, list *SavedList) error {
	if err := checkLock(lck, cachelock.Write, k, k); err != nil {
		return err
	}

	for {
		c.mu.Lock()
		err := c.deleteSaveLocked(k, list)
		c.mu.Unlock()
		if err != errNeedsRead {
			return err
		}
		if err := c.readItems(ctx, lck, k); err != nil {
			return err
		}
	}
}

func (c *Cache) deleteSaveLocked(k key.Key, list *SavedList) error {
	it, _, _ := c.walk(k)
	if it == nil {
		if c.coverage(k) != nil {
			return types.ErrNotFound
		}
		return errNeedsRead
	}
	if it.deletion {
		return types.ErrNotFound
	}

	c.unlinkSave(it)
	list.items = append(list.items, it)

	ts := newItem(k, nil)
	ts.persistent = true
	ts.deletion = true
	c.insertItem(ts)
	c.markDirty(ts)
	return nil
}

// Restore atomically reinserts saved items, displacing the tombstones
// DeleteSave left behind. Every key must still be covered by the lock.
func (c *Cache) Restore(lck *cachelock.Lock, list *SavedList) error {
	for _, it := range list.items {
		if err := checkLock(lck, cachelock.Write, it.key, it.key); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range list.items {
		if old, _, _ := c.walk(it.key); old != nil {
			c.eraseFree(old)
		}
		c.relink(it)
	}
	list.items = list.items[:0]
	return nil
}
