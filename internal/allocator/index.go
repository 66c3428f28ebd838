package allocator

import "sort"

// ReclaimableIndex maintains a size-ordered view of reclaimable (non-live)
// nodes so best-fit lookup is logarithmic. It guarantees that after any
// [ReclaimableIndex.Insert], no two entries are spatially adjacent in the
// chain: adjacent reclaimable nodes are always coalesced into one.
//
// Entries are kept in a slice sorted ascending by [Node.Capacity]. Ties on
// capacity are allowed and are disambiguated by identity (pointer
// equality) during lookup and removal.
type ReclaimableIndex struct {
	entries []*Node
}

// NewReclaimableIndex returns an empty index.
func NewReclaimableIndex() *ReclaimableIndex {
	return &ReclaimableIndex{}
}

// Len returns the number of reclaimable nodes currently indexed.
func (idx *ReclaimableIndex) Len() int {
	return len(idx.entries)
}

// At returns the node at size-ordered position pos. Callers should only
// use positions returned by [ReclaimableIndex.Find] in the same
// generation (no intervening mutation).
func (idx *ReclaimableIndex) At(pos int) *Node {
	return idx.entries[pos]
}

// Find returns the lowest-capacity reclaimable node whose capacity is at
// least minSize, along with its size-ordered position, via binary search.
// ok is false if no entry fits.
func (idx *ReclaimableIndex) Find(minSize uint64) (pos int, node *Node, ok bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Capacity() >= minSize
	})

	if i == len(idx.entries) {
		return 0, nil, false
	}

	return i, idx.entries[i], true
}

// Pop removes and returns the entry at a size-ordered position, as
// returned by [ReclaimableIndex.Find]. Used by the allocator once it has
// decided to reuse that node.
func (idx *ReclaimableIndex) Pop(pos int) *Node {
	node := idx.entries[pos]
	idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)

	return node
}

// Remove deletes node from the index by capacity-then-identity lookup.
// Returns [ErrNotInIndex] if node is not present.
func (idx *ReclaimableIndex) Remove(node *Node) error {
	pos, ok := idx.findIndexOf(node)
	if !ok {
		return ErrNotInIndex
	}

	idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)

	return nil
}

// findIndexOf locates node's position by binary-searching to the leftmost
// entry sharing its capacity, then walking forward by identity. Several
// entries may tie on capacity; this is how ties are disambiguated.
func (idx *ReclaimableIndex) findIndexOf(node *Node) (int, bool) {
	capacity := node.Capacity()

	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Capacity() >= capacity
	})

	for i < len(idx.entries) && idx.entries[i].Capacity() == capacity {
		if idx.entries[i] == node {
			return i, true
		}

		i++
	}

	return 0, false
}

// insertSorted inserts node into entries at its sort position, to the
// right of any existing ties on capacity.
func (idx *ReclaimableIndex) insertSorted(node *Node) {
	capacity := node.Capacity()

	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Capacity() > capacity
	})

	idx.entries = append(idx.entries, nil)
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = node
}

// Insert inserts node into the index and coalesces it with any spatially
// adjacent reclaimable neighbors in chain.
//
// Precondition: node.Live == false and node is already linked into chain
// with correct Prev/Next. Postcondition: node (identity-preserving) holds
// the union of itself and every maximal run of adjacent reclaimable nodes
// touching it; absorbed neighbors are removed from the index and orphaned
// from the chain. chain's head/tail are updated if the splice touched
// either end.
func (idx *ReclaimableIndex) Insert(chain *Chain, node *Node) {
	left := node
	for left.Prev != nil && !left.Prev.Live {
		left = left.Prev
	}

	right := node
	for right.Next != nil && !right.Next.Live {
		right = right.Next
	}

	for cur := left; ; cur = cur.Next {
		if cur != node {
			// Every reclaimable node already in the chain must already be
			// indexed; a miss here means the chain and index have
			// diverged, which Insert's precondition rules out.
			if err := idx.Remove(cur); err != nil {
				panic("allocator: reclaimable chain node missing from index: " + err.Error())
			}
		}

		if cur == right {
			break
		}
	}

	node.Start = left.Start
	node.End = right.End

	node.Prev = left.Prev
	if node.Prev != nil {
		node.Prev.Next = node
	} else {
		chain.setHead(node)
	}

	node.Next = right.Next
	if node.Next != nil {
		node.Next.Prev = node
	} else {
		chain.setTail(node)
	}

	idx.insertSorted(node)
}
