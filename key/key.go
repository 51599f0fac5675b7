// Package key defines the fixed-structure keys that identify logical
// filesystem items: inode index entries, directory entries, extended
// attributes. Keys sort by zone, then type, then the three 64-bit
// components. They are small values and are always copied, never
// shared.
package key

import (
	"fmt"
	"math"
)

type Key struct {
	Zone   uint8
	Type   uint8
	First  uint64
	Second uint64
	Third  uint64
}

// New returns a key with the given zone, type, and primary component.
func New(zone, typ uint8, first uint64) Key {
	return Key{Zone: zone, Type: typ, First: first}
}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
func Compare(a, b Key) int {
	if c := cmpU64(uint64(a.Zone), uint64(b.Zone)); c != 0 {
		return c
	}
	if c := cmpU64(uint64(a.Type), uint64(b.Type)); c != 0 {
		return c
	}
	if c := cmpU64(a.First, b.First); c != 0 {
		return c
	}
	if c := cmpU64(a.Second, b.Second); c != 0 {
		return c
	}
	return cmpU64(a.Third, b.Third)
}

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Less returns true if a sorts before b.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}

// Inc returns the successor of k in the total key order, carrying
// through the components. The successor of the maximum key wraps to
// the zero key.
func Inc(k Key) Key {
	k.Third++
	if k.Third != 0 {
		return k
	}
	k.Second++
	if k.Second != 0 {
		return k
	}
	k.First++
	if k.First != 0 {
		return k
	}
	k.Type++
	if k.Type != 0 {
		return k
	}
	k.Zone++
	return k
}

// Dec returns the predecessor of k in the total key order. The
// predecessor of the zero key wraps to the maximum key.
func Dec(k Key) Key {
	k.Third--
	if k.Third != math.MaxUint64 {
		return k
	}
	k.Second--
	if k.Second != math.MaxUint64 {
		return k
	}
	k.First--
	if k.First != math.MaxUint64 {
		return k
	}
	k.Type--
	if k.Type != math.MaxUint8 {
		return k
	}
	k.Zone--
	return k
}

// Zero returns the smallest key.
func Zero() Key {
	return Key{}
}

// Max returns the largest key.
func Max() Key {
	return Key{
		Zone:   math.MaxUint8,
		Type:   math.MaxUint8,
		First:  math.MaxUint64,
		Second: math.MaxUint64,
		Third:  math.MaxUint64,
	}
}

// IsZero returns true if k is the smallest key.
func (k Key) IsZero() bool {
	return k == Key{}
}

// IsMax returns true if k is the largest key.
func (k Key) IsMax() bool {
	return k == Max()
}

func (k Key) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d", k.Zone, k.Type, k.First, k.Second, k.Third)
}
