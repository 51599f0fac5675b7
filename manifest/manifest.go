// Package manifest tracks the set of immutable segments and serves
// the cache's read-through path: on a coverage miss it merges every
// segment overlapping the missed window and hands the surviving items
// to the cache as one batch.
package manifest

import (
	"context"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/loamfs/itemcache"
	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/segment"
)

var log = logging.Logger("loamfs/manifest")

// BatchSink receives the items a read resolved. The item cache
// implements it.
type BatchSink interface {
	InsertBatch(b *itemcache.Batch, start, end key.Key) error
}

// Manifest is an ordered collection of segments. Later additions
// shadow earlier ones: commits append, so the newest segment holds the
// newest version of a key.
type Manifest struct {
	sink BatchSink

	mu       sync.RWMutex
	segments []*segment.Segment
}

// New returns an empty manifest feeding batches to sink. The sink may
// be nil at construction and installed with SetSink once the cache
// exists; the cache and manifest reference each other.
func New(sink BatchSink) *Manifest {
	return &Manifest{sink: sink}
}

// SetSink installs the batch sink. Must be called before the first
// ReadItems.
func (m *Manifest) SetSink(sink BatchSink) {
	m.sink = sink
}

// AddSegment registers a committed segment. Empty segments are
// dropped.
func (m *Manifest) AddSegment(seg *segment.Segment) {
	if seg.Len() == 0 {
		return
	}
	m.mu.Lock()
	m.segments = append(m.segments, seg)
	m.mu.Unlock()
	log.Debugw("segment added",
		"first", seg.FirstKey(), "last", seg.LastKey(), "items", seg.Len())
}

// NrSegments returns the number of registered segments.
func (m *Manifest) NrSegments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}

// ReadItems resolves [start, end] from segments and inserts the result
// into the sink, satisfying the cache's ItemReader contract. The whole
// window is decisive after scanning every overlapping segment, so the
// inserted range is the full window.
func (m *Manifest) ReadItems(ctx context.Context, k, start, end key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key.Compare(start, end) > 0 {
		return types.ErrInvalidArg
	}

	// Newest version of each key in the window wins; a winning
	// tombstone erases the key from the result.
	type verdict struct {
		val      []byte
		deletion bool
	}
	merged := make(map[key.Key]verdict)

	m.mu.RLock()
	for i := len(m.segments) - 1; i >= 0; i-- {
		seg := m.segments[i]
		if key.Compare(seg.LastKey(), start) < 0 || key.Compare(seg.FirstKey(), end) > 0 {
			continue
		}
		for _, it := range seg.Items() {
			if key.Compare(it.Key, start) < 0 || key.Compare(it.Key, end) > 0 {
				continue
			}
			if _, seen := merged[it.Key]; seen {
				continue
			}
			merged[it.Key] = verdict{val: it.Val, deletion: it.Deletion}
		}
	}
	m.mu.RUnlock()

	keys := make([]key.Key, 0, len(merged))
	for mk := range merged {
		keys = append(keys, mk)
	}
	sort.Slice(keys, func(i, j int) bool { return key.Less(keys[i], keys[j]) })

	batch := itemcache.NewBatch()
	for _, mk := range keys {
		v := merged[mk]
		if v.deletion {
			continue
		}
		batch.Add(mk, v.val)
	}

	log.Debugw("read items", "key", k, "start", start, "end", end,
		"items", batch.Len())
	return m.sink.InsertBatch(batch, start, end)
}
