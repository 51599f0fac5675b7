package itemcache

import (
	"github.com/rpcpool/loamfs/key"
)

// The item map is a red-black tree with parent pointers. Every node
// carries three dirty bits: self, left, and right. The left and right
// bits summarize whether the respective subtree contains a self-dirty
// item, which lets commit walk only dirty items in key order without
// visiting clean subtrees.
const (
	dirtySelf uint8 = 1 << iota
	dirtyLeft
	dirtyRight
)

func isRed(it *item) bool {
	return it != nil && it.red
}

func subtreeMin(it *item) *item {
	for it.left != nil {
		it = it.left
	}
	return it
}

func subtreeMax(it *item) *item {
	for it.right != nil {
		it = it.right
	}
	return it
}

// next returns the item with the smallest key greater than it's.
func (it *item) next() *item {
	if it.right != nil {
		return subtreeMin(it.right)
	}
	p := it.parent
	for p != nil && it == p.right {
		it = p
		p = p.parent
	}
	return p
}

// prev returns the item with the largest key smaller than it's.
func (it *item) prev() *item {
	if it.left != nil {
		return subtreeMax(it.left)
	}
	p := it.parent
	for p != nil && it == p.left {
		it = p
		p = p.parent
	}
	return p
}

func subtreeDirty(it *item) bool {
	return it != nil && it.dirty != 0
}

// updateDirtyBits recomputes it's left and right bits from its
// children. Returns true if either bit changed. The aggregate is not
// a symmetric OR: it records which child subtree holds dirty items, so
// it must be rebuilt from the actual children after the tree changes
// shape.
func updateDirtyBits(it *item) bool {
	want := it.dirty & dirtySelf
	if subtreeDirty(it.left) {
		want |= dirtyLeft
	}
	if subtreeDirty(it.right) {
		want |= dirtyRight
	}
	if want == it.dirty {
		return false
	}
	it.dirty = want
	return true
}

// propagateDirty walks up from it rebuilding aggregates until a node's
// bits do not change. Valid only when every node's stored bits were
// correct for its children before the triggering change.
func propagateDirty(it *item) {
	for it != nil && updateDirtyBits(it) {
		it = it.parent
	}
}

// recomputeDirtyToRoot unconditionally rebuilds aggregates from it up
// to the root. Used after erase, where the spliced-in successor's
// stored bits describe its old position.
func recomputeDirtyToRoot(it *item) {
	for it != nil {
		updateDirtyBits(it)
		it = it.parent
	}
}

// walk descends once from the root and returns the item at k, if any,
// along with its neighbors: the largest item below k and the smallest
// item above k.
func (c *Cache) walk(k key.Key) (found, pred, succ *item) {
	n := c.root
	for n != nil {
		cmp := key.Compare(k, n.key)
		if cmp == 0 {
			found = n
			break
		}
		if cmp < 0 {
			succ = n
			n = n.left
		} else {
			pred = n
			n = n.right
		}
	}
	if found != nil {
		if found.left != nil {
			pred = subtreeMax(found.left)
		}
		if found.right != nil {
			succ = subtreeMin(found.right)
		}
	}
	return found, pred, succ
}

func (c *Cache) rotateLeft(x *item) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		c.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
	// Both pivots rebuild their aggregate from their new children. The
	// subtree rooted at y holds the same items x's did, so ancestors
	// keep correct bits.
	updateDirtyBits(x)
	updateDirtyBits(y)
}

func (c *Cache) rotateRight(x *item) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		c.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}
	y.right = x
	x.parent = y
	updateDirtyBits(x)
	updateDirtyBits(y)
}

// insertItem links it into the tree. The caller has already checked
// that no item exists at it's key.
func (c *Cache) insertItem(it *item) {
	var parent *item
	link := &c.root
	for *link != nil {
		parent = *link
		if key.Less(it.key, parent.key) {
			link = &parent.left
		} else {
			link = &parent.right
		}
	}
	it.parent = parent
	it.left = nil
	it.right = nil
	it.red = true
	*link = it
	if it.dirty&dirtySelf != 0 {
		// Safe to pre-propagate: no rotation has run yet, so each
		// ancestor's bit for the descended side only gains the new
		// item.
		propagateDirty(parent)
	}
	c.insertFixup(it)
	c.nrItems++
}

func (c *Cache) insertFixup(it *item) {
	for isRed(it.parent) {
		parent := it.parent
		grand := parent.parent
		if parent == grand.left {
			uncle := grand.right
			if isRed(uncle) {
				parent.red = false
				uncle.red = false
				grand.red = true
				it = grand
				continue
			}
			if it == parent.right {
				it = parent
				c.rotateLeft(it)
				parent = it.parent
			}
			parent.red = false
			grand.red = true
			c.rotateRight(grand)
		} else {
			uncle := grand.left
			if isRed(uncle) {
				parent.red = false
				uncle.red = false
				grand.red = true
				it = grand
				continue
			}
			if it == parent.left {
				it = parent
				c.rotateRight(it)
				parent = it.parent
			}
			parent.red = false
			grand.red = true
			c.rotateLeft(grand)
		}
	}
	c.root.red = false
}

func (c *Cache) transplant(u, v *item) {
	switch {
	case u.parent == nil:
		c.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// eraseItem unlinks z from the tree. It does not touch z's value or
// LRU linkage; callers unwind those first.
func (c *Cache) eraseItem(z *item) {
	var x, xParent *item
	y := z
	yWasBlack := !y.red

	switch {
	case z.left == nil:
		x = z.right
		xParent = z.parent
		c.transplant(z, z.right)
	case z.right == nil:
		x = z.left
		xParent = z.parent
		c.transplant(z, z.left)
	default:
		y = subtreeMin(z.right)
		yWasBlack = !y.red
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			c.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		c.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.red = z.red
	}

	// The spliced successor's stored bits describe its old spot, so
	// rebuild the whole path rather than trusting early termination.
	recomputeDirtyToRoot(xParent)

	if yWasBlack {
		c.eraseFixup(x, xParent)
	}
	z.parent = nil
	z.left = nil
	z.right = nil
	z.red = false
	c.nrItems--
}

func (c *Cache) eraseFixup(x, parent *item) {
	for x != c.root && !isRed(x) && parent != nil {
		if x == parent.left {
			w := parent.right
			if isRed(w) {
				w.red = false
				parent.red = true
				c.rotateLeft(parent)
				w = parent.right
			}
			if !isRed(w.left) && !isRed(w.right) {
				w.red = true
				x = parent
				parent = x.parent
			} else {
				if !isRed(w.right) {
					if w.left != nil {
						w.left.red = false
					}
					w.red = true
					c.rotateRight(w)
					w = parent.right
				}
				w.red = parent.red
				parent.red = false
				if w.right != nil {
					w.right.red = false
				}
				c.rotateLeft(parent)
				x = c.root
				parent = nil
			}
		} else {
			w := parent.left
			if isRed(w) {
				w.red = false
				parent.red = true
				c.rotateRight(parent)
				w = parent.left
			}
			if !isRed(w.right) && !isRed(w.left) {
				w.red = true
				x = parent
				parent = x.parent
			} else {
				if !isRed(w.left) {
					if w.right != nil {
						w.right.red = false
					}
					w.red = true
					c.rotateLeft(w)
					w = parent.left
				}
				w.red = parent.red
				parent.red = false
				if w.left != nil {
					w.left.red = false
				}
				c.rotateRight(parent)
				x = c.root
				parent = nil
			}
		}
	}
	if x != nil {
		x.red = false
	}
}

// firstDirty returns the self-dirty item with the smallest key.
func (c *Cache) firstDirty() *item {
	return firstDirtyIn(c.root)
}

func firstDirtyIn(n *item) *item {
	for n != nil {
		if n.dirty&dirtyLeft != 0 {
			n = n.left
			continue
		}
		if n.dirty&dirtySelf != 0 {
			return n
		}
		if n.dirty&dirtyRight != 0 {
			n = n.right
			continue
		}
		return nil
	}
	return nil
}

// nextDirty returns the self-dirty item with the smallest key greater
// than it's.
func nextDirty(it *item) *item {
	if it.dirty&dirtyRight != 0 {
		return firstDirtyIn(it.right)
	}
	for {
		p := it.parent
		if p == nil {
			return nil
		}
		if it == p.left {
			if p.dirty&dirtySelf != 0 {
				return p
			}
			if p.dirty&dirtyRight != 0 {
				return firstDirtyIn(p.right)
			}
		}
		it = p
	}
}
