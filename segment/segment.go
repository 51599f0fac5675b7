// Package segment implements the immutable sorted item container that
// commits write. A segment is built in memory by appending items in
// ascending key order against a fixed byte budget, then serialized as
// a little-endian stream behind a magic/version header.
package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rpcpool/loamfs/itemcache/types"
	"github.com/rpcpool/loamfs/key"
)

var (
	_MAGIC   = [...]byte{'l', 'o', 'a', 'm', 's', 'e', 'g', 't'}
	_Version = uint64(1)
)

const (
	// DefaultSize is the byte budget of one segment.
	DefaultSize = 1 << 20

	// keyBytes is the encoded size of a key: zone, type, and three
	// 64-bit components.
	keyBytes = 1 + 1 + 8 + 8 + 8
	// itemHeaderBytes is the per-item overhead: key, flags, value
	// length.
	itemHeaderBytes = keyBytes + 1 + 4

	flagDeletion = uint8(1 << 0)
)

// Item is one entry of a segment.
type Item struct {
	Key      key.Key
	Val      []byte
	Deletion bool
}

// Segment accumulates items in ascending key order up to a byte
// budget.
type Segment struct {
	size  int
	used  int
	items []Item
}

// New returns an empty segment with the given byte budget. A
// non-positive size gets the default.
func New(size int) *Segment {
	if size <= 0 {
		size = DefaultSize
	}
	return &Segment{size: size}
}

// fits returns true if adding nrItems with valBytes total value bytes
// to a segment of the given budget leaves it within budget.
func fits(size, used, nrItems, valBytes int) bool {
	return used+nrItems*itemHeaderBytes+valBytes <= size
}

// FitsSingle reports whether a load of nrItems totalling valBytes of
// values fits in one empty segment of this segment's budget.
func (s *Segment) FitsSingle(nrItems, valBytes int) bool {
	return fits(s.size, 0, nrItems, valBytes)
}

// Append adds an item. Returns false, leaving the segment unchanged,
// when the item does not fit. Keys must arrive in ascending order;
// out-of-order appends are refused.
func (s *Segment) Append(k key.Key, val []byte, deletion bool) bool {
	if n := len(s.items); n > 0 && key.Compare(s.items[n-1].Key, k) >= 0 {
		return false
	}
	if !fits(s.size, s.used, 1, len(val)) {
		return false
	}
	v := make([]byte, len(val))
	copy(v, val)
	s.items = append(s.items, Item{Key: k, Val: v, Deletion: deletion})
	s.used += itemHeaderBytes + len(val)
	return true
}

// Len returns the number of appended items.
func (s *Segment) Len() int {
	return len(s.items)
}

// Items returns the appended items in key order. The slice is owned by
// the segment.
func (s *Segment) Items() []Item {
	return s.items
}

// FirstKey returns the smallest appended key. Only valid when Len > 0.
func (s *Segment) FirstKey() key.Key {
	return s.items[0].Key
}

// LastKey returns the largest appended key. Only valid when Len > 0.
func (s *Segment) LastKey() key.Key {
	return s.items[len(s.items)-1].Key
}

func writeKey(w io.Writer, k key.Key) error {
	var buf [keyBytes]byte
	buf[0] = k.Zone
	buf[1] = k.Type
	binary.LittleEndian.PutUint64(buf[2:], k.First)
	binary.LittleEndian.PutUint64(buf[10:], k.Second)
	binary.LittleEndian.PutUint64(buf[18:], k.Third)
	_, err := w.Write(buf[:])
	return err
}

func readKey(r io.Reader) (key.Key, error) {
	var buf [keyBytes]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return key.Key{}, err
	}
	return key.Key{
		Zone:   buf[0],
		Type:   buf[1],
		First:  binary.LittleEndian.Uint64(buf[2:]),
		Second: binary.LittleEndian.Uint64(buf[10:]),
		Third:  binary.LittleEndian.Uint64(buf[18:]),
	}, nil
}

// WriteTo serializes the segment.
func (s *Segment) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(_MAGIC[:]); err != nil {
		return 0, err
	}
	if err := binary.Write(bw, binary.LittleEndian, _Version); err != nil {
		return 0, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.items))); err != nil {
		return 0, err
	}
	n := int64(len(_MAGIC)) + 8 + 4
	for _, it := range s.items {
		if err := writeKey(bw, it.Key); err != nil {
			return n, err
		}
		var flags uint8
		if it.Deletion {
			flags |= flagDeletion
		}
		if err := bw.WriteByte(flags); err != nil {
			return n, err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(it.Val))); err != nil {
			return n, err
		}
		if _, err := bw.Write(it.Val); err != nil {
			return n, err
		}
		n += itemHeaderBytes + int64(len(it.Val))
	}
	return n, bw.Flush()
}

// Read deserializes a segment stream written by WriteTo.
func Read(r io.Reader) (*Segment, error) {
	br := bufio.NewReader(r)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("reading segment magic: %w", err)
	}
	if magic != _MAGIC {
		return nil, fmt.Errorf("%w: not a segment stream", types.ErrCorruption)
	}
	var version uint64
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != _Version {
		return nil, fmt.Errorf("%w: unsupported segment version %d", types.ErrCorruption, version)
	}
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	s := New(0)
	for i := uint32(0); i < count; i++ {
		k, err := readKey(br)
		if err != nil {
			return nil, fmt.Errorf("reading item %d key: %w", i, err)
		}
		flags, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		var vlen uint32
		if err := binary.Read(br, binary.LittleEndian, &vlen); err != nil {
			return nil, err
		}
		val := make([]byte, vlen)
		if _, err := io.ReadFull(br, val); err != nil {
			return nil, fmt.Errorf("reading item %d value: %w", i, err)
		}
		if n := len(s.items); n > 0 && key.Compare(s.items[n-1].Key, k) >= 0 {
			return nil, fmt.Errorf("%w: segment stream not in key order", types.ErrCorruption)
		}
		s.items = append(s.items, Item{Key: k, Val: val, Deletion: flags&flagDeletion != 0})
		s.used += itemHeaderBytes + len(val)
	}
	return s, nil
}
