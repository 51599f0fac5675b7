// Package itemcache is the in-memory item cache that sits between
// filesystem callers and the segment store. It mediates reads, absorbs
// writes, tracks known-absent keys as cached ranges, and assembles
// dirty items into segments at transaction commit.
//
// Every operation runs under a lease from the cluster lock manager
// (cachelock.Lock) whose mode and key range gate the operation. When
// neither an item nor range coverage can answer a key, the cache drops
// its lock, asks the manifest reader to populate the surrounding
// window, and retries.
package itemcache

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/btree"
	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/loamfs/cachelock"
	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/metrics"
)

var log = logging.Logger("loamfs/itemcache")

// errNeedsRead drives the internal miss loop. It never escapes to
// callers.
const errNeedsRead = needsRead("needs read")

type needsRead string

func (e needsRead) Error() string { return string(e) }

// ItemReader populates the cache on a coverage miss. ReadItems must,
// on success, have called InsertBatch with a window around k that it
// could determine, clamped to [start, end].
type ItemReader interface {
	ReadItems(ctx context.Context, k, start, end key.Key) error
}

// Tracker receives dirty accounting deltas and syncs the enclosing
// transaction on demand.
type Tracker interface {
	TrackItem(deltaItems, deltaBytes int64)
	Sync(ctx context.Context, wait bool) error
}

// Segment receives dirty items at commit. Append returns false when
// the item does not fit; FitsSingle reports whether a load of the
// given shape would fit in one empty segment.
type Segment interface {
	Append(k key.Key, val []byte, deletion bool) bool
	FitsSingle(nrItems int, valBytes int) bool
}

const (
	defaultMaxValSize = 4096

	// Shrink boundary scan limits: how far the shrinker walks outward
	// from an LRU item looking for its eviction window.
	shrinkBoundaryMin = 32
	shrinkBoundaryMax = 300
)

type config struct {
	maxValSize  int
	boundaryMin int
	boundaryMax int
	reader      ItemReader
	tracker     Tracker
}

type Option func(*config)

func (c *config) apply(options []Option) {
	for _, o := range options {
		o(c)
	}
}

// WithReader sets the manifest reader used to resolve coverage misses.
func WithReader(r ItemReader) Option {
	return func(c *config) { c.reader = r }
}

// WithTracker sets the transaction tracker that receives dirty deltas.
func WithTracker(t Tracker) Option {
	return func(c *config) { c.tracker = t }
}

// WithMaxValueSize overrides the largest accepted item value.
func WithMaxValueSize(n int) Option {
	return func(c *config) { c.maxValSize = n }
}

// WithShrinkBoundaries overrides the shrinker's outward scan limits.
func WithShrinkBoundaries(min, max int) Option {
	return func(c *config) {
		c.boundaryMin = min
		c.boundaryMax = max
	}
}

// Cache is a single per-mount instance. All state is guarded by mu;
// the lock is never held across a manifest read or a transaction sync.
type Cache struct {
	reader      ItemReader
	tracker     Tracker
	maxValSize  int
	boundaryMin int
	boundaryMax int

	mu            sync.Mutex
	root          *item
	nrItems       int
	ranges        *btree.BTreeG[*KeyRange]
	lru           *list.List
	nrDirty       int64
	dirtyValBytes int64

	// commitMu serializes DirtySeg against Writeback so a writeback
	// never observes a half-committed dirty set.
	commitMu sync.Mutex
}

// New creates an empty cache.
func New(options ...Option) *Cache {
	c := config{
		maxValSize:  defaultMaxValSize,
		boundaryMin: shrinkBoundaryMin,
		boundaryMax: shrinkBoundaryMax,
	}
	c.apply(options)

	return &Cache{
		reader:      c.reader,
		tracker:     c.tracker,
		maxValSize:  c.maxValSize,
		boundaryMin: c.boundaryMin,
		boundaryMax: c.boundaryMax,
		ranges:      newRangeTree(),
		lru:         list.New(),
	}
}

// Close frees all items and ranges in one post-order sweep; nothing
// queries the tree afterwards, so no rebalancing or bit upkeep runs.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	freeSubtree(c.root)
	c.root = nil
	c.nrItems = 0
	c.ranges.Clear(false)
	c.lru.Init()
	c.nrDirty = 0
	c.dirtyValBytes = 0
}

func freeSubtree(it *item) {
	if it == nil {
		return
	}
	freeSubtree(it.left)
	freeSubtree(it.right)
	freeValue(it.val)
	it.val = nil
}

// NrItems returns the number of cached items.
func (c *Cache) NrItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nrItems
}

func checkLock(lck *cachelock.Lock, mode cachelock.Mode, start, end key.Key) error {
	if lck == nil || !lck.Covers(mode, start, end) {
		return types.ErrInvalidArg
	}
	return nil
}

// readItems drops out to the manifest to populate coverage around k.
// The cache lock is not held; the caller retries the whole operation
// afterwards because concurrent mutation may have occurred.
func (c *Cache) readItems(ctx context.Context, lck *cachelock.Lock, k key.Key) error {
	if c.reader == nil {
		log.Errorw("coverage miss with no reader configured", "key", k)
		return types.ErrIO
	}
	if err := c.reader.ReadItems(ctx, k, lck.Start, lck.End); err != nil {
		return err
	}
	metrics.ItemReadRetry.Inc()
	return nil
}

// Lookup copies the value of the item at k into buf, truncating to
// len(buf), and returns the number of bytes copied. Returns
// types.ErrNotFound if a deletion item sits at k or k is covered and
// absent.
func (c *Cache) Lookup(ctx context.Context, lck *cachelock.Lock, k key.Key, buf []byte) (int, error) {
	if err := checkLock(lck, cachelock.Read, k, k); err != nil {
		return 0, err
	}

	for {
		c.mu.Lock()
		n, err := c.lookupLocked(k, buf)
		c.mu.Unlock()
		if err != errNeedsRead {
			return n, err
		}
		if err := c.readItems(ctx, lck, k); err != nil {
			return 0, err
		}
	}
}

func (c *Cache) lookupLocked(k key.Key, buf []byte) (int, error) {
	it, _, _ := c.walk(k)
	if it != nil {
		if it.deletion {
			metrics.ItemLookupMiss.Inc()
			return 0, types.ErrNotFound
		}
		c.lruTouch(it)
		metrics.ItemLookupHit.Inc()
		return it.copyValue(buf), nil
	}
	if c.coverage(k) != nil {
		metrics.ItemRangeHit.Inc()
		return 0, types.ErrNotFound
	}
	metrics.ItemRangeMiss.Inc()
	return 0, errNeedsRead
}

// Next returns the smallest item with key in (k, last] — or at k
// itself — copying its value into buf. Deletion items are skipped.
// The effective bound is narrowed to the lock's end key.
func (c *Cache) Next(ctx context.Context, lck *cachelock.Lock, k, last key.Key, buf []byte) (key.Key, int, error) {
	if err := checkLock(lck, cachelock.Read, k, k); err != nil {
		return key.Key{}, 0, err
	}
	last = lck.ClampEnd(last)

	pos := k
	for {
		c.mu.Lock()
		found, n, readPos, err := c.nextLocked(pos, last, buf)
		c.mu.Unlock()
		if err != errNeedsRead {
			return found, n, err
		}
		pos = readPos
		if err := c.readItems(ctx, lck, pos); err != nil {
			return key.Key{}, 0, err
		}
	}
}

// nextLocked resolves what it can from cached state. On a coverage gap
// it returns errNeedsRead along with the position to read from.
func (c *Cache) nextLocked(pos, last key.Key, buf []byte) (key.Key, int, key.Key, error) {
	for {
		if key.Compare(pos, last) > 0 {
			return key.Key{}, 0, pos, types.ErrNotFound
		}

		rng := c.coverage(pos)
		if rng == nil {
			metrics.ItemRangeMiss.Inc()
			return key.Key{}, 0, pos, errNeedsRead
		}

		stop := rng.End
		if key.Compare(last, stop) < 0 {
			stop = last
		}

		it, _, succ := c.walk(pos)
		if it == nil {
			it = succ
		}
		for it != nil && key.Compare(it.key, stop) <= 0 {
			if !it.deletion {
				c.lruTouch(it)
				metrics.ItemLookupHit.Inc()
				return it.key, it.copyValue(buf), pos, nil
			}
			it = it.next()
		}

		if key.Compare(stop, last) >= 0 {
			metrics.ItemRangeHit.Inc()
			return key.Key{}, 0, pos, types.ErrNotFound
		}
		// Coverage stops short of last: hop past the range end and
		// re-check. Ranges are never adjacent, so the next iteration
		// either misses coverage or terminates.
		pos = key.Inc(rng.End)
	}
}

// Prev is the mirror of Next: the largest item with key in [first, k],
// skipping deletion items, narrowed to the lock's start key.
func (c *Cache) Prev(ctx context.Context, lck *cachelock.Lock, k, first key.Key, buf []byte) (key.Key, int, error) {
	if err := checkLock(lck, cachelock.Read, k, k); err != nil {
		return key.Key{}, 0, err
	}
	first = lck.ClampStart(first)

	pos := k
	for {
		c.mu.Lock()
		found, n, readPos, err := c.prevLocked(pos, first, buf)
		c.mu.Unlock()
		if err != errNeedsRead {
			return found, n, err
		}
		pos = readPos
		if err := c.readItems(ctx, lck, pos); err != nil {
			return key.Key{}, 0, err
		}
	}
}

func (c *Cache) prevLocked(pos, first key.Key, buf []byte) (key.Key, int, key.Key, error) {
	for {
		if key.Compare(pos, first) < 0 {
			return key.Key{}, 0, pos, types.ErrNotFound
		}

		rng := c.coverage(pos)
		if rng == nil {
			metrics.ItemRangeMiss.Inc()
			return key.Key{}, 0, pos, errNeedsRead
		}

		stop := rng.Start
		if key.Compare(first, stop) > 0 {
			stop = first
		}

		it, pred, _ := c.walk(pos)
		if it == nil {
			it = pred
		}
		for it != nil && key.Compare(it.key, stop) >= 0 {
			if !it.deletion {
				c.lruTouch(it)
				metrics.ItemLookupHit.Inc()
				return it.key, it.copyValue(buf), pos, nil
			}
			it = it.prev()
		}

		if key.Compare(stop, first) <= 0 {
			metrics.ItemRangeHit.Inc()
			return key.Key{}, 0, pos, types.ErrNotFound
		}
		pos = key.Dec(rng.Start)
	}
}
