// Package types holds the closed error taxonomy shared by the item
// cache and its collaborators.
package types

type errorType string

func (e errorType) Error() string {
	return string(e)
}

// ErrInvalidArg indicates a malformed argument: an oversized value, a
// lock that does not cover the operation, or a batch window with
// start after end.
const ErrInvalidArg = errorType("invalid argument")

// ErrNoMem indicates an allocation limit was hit while building an
// item or value buffer.
const ErrNoMem = errorType("out of memory")

// ErrNotFound is the normal negative result: coverage says the key is
// absent, or a deletion item sits at the key.
const ErrNotFound = errorType("item not found")

// ErrKeyExists indicates a create found a live item already at the key.
const ErrKeyExists = errorType("key exists")

// ErrIO is propagated verbatim from the manifest or segment layer.
const ErrIO = errorType("io error")

// ErrCorruption indicates an invariant violation in cached state. The
// cache is not usable after observing it.
const ErrCorruption = errorType("cache corruption")

// ErrSegmentFull indicates an append did not fit in the segment. The
// commit caller must pre-check capacity.
const ErrSegmentFull = errorType("segment full")
