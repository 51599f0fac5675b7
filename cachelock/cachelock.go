// Package cachelock describes the lease a caller holds from the
// cluster lock manager while operating on the item cache. The lock
// manager itself lives elsewhere; the cache only ever inspects the
// granted mode and the covered key range.
package cachelock

import (
	"fmt"

	"github.com/rpcpool/loamfs/key"
)

// Mode is the granted access mode of a lock.
type Mode uint8

const (
	// Read grants read access to the covered range.
	Read Mode = iota
	// Write grants read and write access to the covered range.
	Write
	// WriteOnly grants blind writes: the holder may overwrite keys in
	// the covered range without ever reading them. It does not imply
	// Read.
	WriteOnly
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case WriteOnly:
		return "write-only"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Lock is a granted lease: a mode and the key range it covers.
type Lock struct {
	Mode  Mode
	Start key.Key
	End   key.Key
}

// New returns a lock covering [start, end] in the given mode.
func New(mode Mode, start, end key.Key) *Lock {
	return &Lock{Mode: mode, Start: start, End: end}
}

// grants returns true if a lock in mode m satisfies an operation that
// needs mode need. Write subsumes Read. WriteOnly is its own class.
func (m Mode) grants(need Mode) bool {
	if m == need {
		return true
	}
	return m == Write && need == Read
}

// Covers returns true if the lock grants mode need over every key in
// [start, end].
func (l *Lock) Covers(need Mode, start, end key.Key) bool {
	if l == nil || !l.Mode.grants(need) {
		return false
	}
	return key.Compare(l.Start, start) <= 0 && key.Compare(end, l.End) <= 0
}

// CoversKey returns true if the lock grants mode need over k.
func (l *Lock) CoversKey(need Mode, k key.Key) bool {
	return l.Covers(need, k, k)
}

// ClampEnd returns the smaller of k and the lock's end key.
func (l *Lock) ClampEnd(k key.Key) key.Key {
	if key.Compare(k, l.End) > 0 {
		return l.End
	}
	return k
}

// ClampStart returns the larger of k and the lock's start key.
func (l *Lock) ClampStart(k key.Key) key.Key {
	if key.Compare(k, l.Start) < 0 {
		return l.Start
	}
	return k
}
