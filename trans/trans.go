// Package trans is the dirty-accounting side of the transaction
// layer. The cache publishes item and byte deltas as items dirty and
// clean; the commit driver reads them to decide when the open
// transaction must roll over, and Sync drives a commit on demand.
package trans

import (
	"context"
	"sync"
	"sync/atomic"
)

// CommitFunc writes the current dirty set out. The commit driver
// installs it; Sync calls it at most once at a time.
type CommitFunc func(ctx context.Context) error

// Tracker accumulates dirty accounting and serializes commit requests.
type Tracker struct {
	items int64
	bytes int64

	mu     sync.Mutex
	commit CommitFunc
}

// New returns a tracker driving commits through fn. fn may be nil, in
// which case Sync only settles accounting.
func New(fn CommitFunc) *Tracker {
	return &Tracker{commit: fn}
}

// TrackItem applies a dirty accounting delta.
func (t *Tracker) TrackItem(deltaItems, deltaBytes int64) {
	atomic.AddInt64(&t.items, deltaItems)
	atomic.AddInt64(&t.bytes, deltaBytes)
}

// Dirty returns the tracked dirty item count and byte total.
func (t *Tracker) Dirty() (int64, int64) {
	return atomic.LoadInt64(&t.items), atomic.LoadInt64(&t.bytes)
}

// Sync drives a commit of the open transaction. With wait set it
// blocks until the commit completes; otherwise it returns after
// checking there is work, leaving the commit to the driver's next
// pass.
func (t *Tracker) Sync(ctx context.Context, wait bool) error {
	if items, _ := t.Dirty(); items == 0 {
		return nil
	}
	if !wait || t.commit == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commit(ctx)
}
