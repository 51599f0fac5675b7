// Package metrics carries the closed enumeration of item cache event
// counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ItemLookupHit = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_lookup_hit",
		Help: "Lookups answered by a cached item",
	},
)

var ItemLookupMiss = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_lookup_miss",
		Help: "Lookups that found a deletion item at the key",
	},
)

var ItemRangeHit = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_range_hit",
		Help: "Lookups answered negatively by range coverage",
	},
)

var ItemRangeMiss = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_range_miss",
		Help: "Lookups outside any cached range",
	},
)

var ItemReadRetry = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_read_retry",
		Help: "Operations retried after a manifest read",
	},
)

var ItemBatchInsert = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_batch_insert",
		Help: "Items inserted from manifest read batches",
	},
)

var ItemBatchDuplicate = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_batch_duplicate",
		Help: "Batch items discarded because a cached item won",
	},
)

var ItemDirtyWrite = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_dirty_write",
		Help: "Dirty items appended to a segment at commit",
	},
)

var ItemTombstoneWrite = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_tombstone_write",
		Help: "Deletion items appended to a segment at commit",
	},
)

var ItemInvalidate = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_invalidate",
		Help: "Items erased by range invalidation",
	},
)

var ItemShrink = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_shrink",
		Help: "Items reclaimed by the shrinker",
	},
)

var ItemShrinkRangeSplit = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_shrink_range_split",
		Help: "Cached ranges split by the shrinker",
	},
)

var ItemShrinkSkipped = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "item_shrink_skipped",
		Help: "LRU items the shrinker rotated past without evicting",
	},
)
