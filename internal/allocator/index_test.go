package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// chainFromCapacities builds a chain tiling [0, sum) from the given
// per-node capacities, in order, returning the created nodes.
func chainFromCapacities(capacities ...uint64) (*Chain, []*Node) {
	chain := NewChain()
	nodes := make([]*Node, len(capacities))

	for i, cap := range capacities {
		nodes[i] = chain.Append(cap)
	}

	return chain, nodes
}

func capacitiesOf(idx *ReclaimableIndex) []uint64 {
	caps := make([]uint64, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		caps[i] = idx.At(i).Capacity()
	}

	return caps
}

// TestReclaimableIndex_SortOrder covers spec scenario S1: inserting six
// uncoalesced nodes lands them in ascending-capacity order.
func TestReclaimableIndex_SortOrder(t *testing.T) {
	t.Parallel()

	_, nodes := chainFromCapacities(3, 1, 2, 2, 5, 10)
	idx := NewReclaimableIndex()

	// Insert in isolation (no spatial neighbors marked non-live) by
	// detaching each node's links before inserting it, so no coalescing
	// happens — S1 is purely about sort order.
	for _, n := range nodes {
		n.Live = false
		n.Prev = nil
		n.Next = nil

		idx.insertSorted(n)
	}

	require.Equal(t, []uint64{1, 2, 2, 3, 5, 10}, capacitiesOf(idx))
}

// TestReclaimableIndex_Find covers spec scenario S2: find(min_size) at
// every boundary against the S1 sorted list.
func TestReclaimableIndex_Find(t *testing.T) {
	t.Parallel()

	idx := NewReclaimableIndex()
	for _, cap := range []uint64{1, 2, 2, 3, 5, 10} {
		idx.insertSorted(&Node{Start: 0, End: cap})
	}

	cases := []struct {
		minSize  uint64
		wantPos  int
		wantFind bool
	}{
		{0, 0, true}, {1, 0, true}, {2, 1, true}, {3, 3, true},
		{4, 4, true}, {5, 4, true}, {6, 5, true}, {7, 5, true},
		{8, 5, true}, {9, 5, true}, {10, 5, true},
		{11, 0, false}, {100, 0, false},
	}

	for _, tc := range cases {
		pos, node, ok := idx.Find(tc.minSize)
		require.Equal(t, tc.wantFind, ok, "minSize=%d", tc.minSize)

		if tc.wantFind {
			require.Equal(t, tc.wantPos, pos, "minSize=%d", tc.minSize)
			require.GreaterOrEqual(t, node.Capacity(), tc.minSize)
		}
	}
}

// TestReclaimableIndex_RemoveFrontMiddleEnd covers spec scenario S3.
func TestReclaimableIndex_RemoveFrontMiddleEnd(t *testing.T) {
	t.Parallel()

	idx := NewReclaimableIndex()

	nodesByCap := make(map[uint64]*Node)
	for _, cap := range []uint64{1, 2, 2, 3, 5, 10} {
		n := &Node{Start: 0, End: cap}
		nodesByCap[cap] = n

		idx.insertSorted(n)
	}

	require.NoError(t, idx.Remove(nodesByCap[1]))
	require.Equal(t, []uint64{2, 2, 3, 5, 10}, capacitiesOf(idx))

	require.ErrorIs(t, idx.Remove(nodesByCap[1]), ErrNotInIndex)

	require.NoError(t, idx.Remove(nodesByCap[3]))
	require.Equal(t, []uint64{2, 2, 5, 10}, capacitiesOf(idx))

	require.NoError(t, idx.Remove(nodesByCap[10]))
	require.Equal(t, []uint64{2, 2, 5}, capacitiesOf(idx))
}

// TestReclaimableIndex_TieBreakByIdentity ensures removing one of several
// equal-capacity entries removes the correct identity, not just the first
// match at that capacity.
func TestReclaimableIndex_TieBreakByIdentity(t *testing.T) {
	t.Parallel()

	idx := NewReclaimableIndex()

	first := &Node{Start: 0, End: 2}
	second := &Node{Start: 10, End: 12}

	idx.insertSorted(first)
	idx.insertSorted(second)

	require.NoError(t, idx.Remove(second))
	require.Equal(t, 1, idx.Len())
	require.Same(t, first, idx.At(0))
}

// buildCoalescingChain reconstructs the S4/S5 starting state: six
// reclaimable nodes tiling [0, 27) with capacities [3, 1, 2, 2, 5, 10],
// all registered in the index.
func buildCoalescingChain() (*Chain, *ReclaimableIndex, []*Node) {
	chain, nodes := chainFromCapacities(3, 1, 2, 2, 5, 10)
	idx := NewReclaimableIndex()

	for _, n := range nodes {
		n.Live = false
		idx.insertSorted(n)
	}

	return chain, idx, nodes
}

// TestReclaimableIndex_MiddleCoalescing covers spec scenario S4: a new
// reclaimable inserted between chain positions 1 and 2 fuses everything
// into one entry covering the whole chain.
func TestReclaimableIndex_MiddleCoalescing(t *testing.T) {
	t.Parallel()

	chain, idx, nodes := buildCoalescingChain()

	// nodes[1] = [3,4), nodes[2] = [4,6). The new node tiles [4,4)
	// (capacity 0) and is spliced in between them.
	mid := &Node{Start: 4, End: 4, Prev: nodes[1], Next: nodes[2]}
	nodes[1].Next = mid
	nodes[2].Prev = mid

	idx.Insert(chain, mid)

	require.Equal(t, 1, idx.Len())

	fused := idx.At(0)
	require.Equal(t, uint64(0), fused.Start)
	require.Equal(t, uint64(27), fused.End)
	require.Equal(t, uint64(27), fused.Capacity())
	require.Same(t, mid, fused, "Insert must preserve the identity of the passed-in node")
	require.Nil(t, chain.Head().Prev)
	require.Same(t, chain.Head(), fused)
	require.Same(t, chain.Tail(), fused)
}

// TestReclaimableIndex_EndCoalescing covers spec scenario S5.
func TestReclaimableIndex_EndCoalescing(t *testing.T) {
	t.Parallel()

	chain, idx, nodes := buildCoalescingChain()

	tail := chain.Append(21) // [27, 48), capacity 21, live by default
	tail.Live = false

	idx.Insert(chain, tail)

	require.Equal(t, 1, idx.Len())

	fused := idx.At(0)
	require.Equal(t, uint64(0), fused.Start)
	require.Equal(t, uint64(48), fused.End)
	require.Equal(t, uint64(48), fused.Capacity())
	require.Same(t, tail, chain.Head())
	require.Same(t, tail, chain.Tail())
	require.Len(t, nodes, 6)
}

// TestReclaimableIndex_CoalescingSpanThree covers the boundary behavior:
// inserting a reclaimable between two reclaimables fuses all three.
func TestReclaimableIndex_CoalescingSpanThree(t *testing.T) {
	t.Parallel()

	chain := NewChain()
	left := chain.Append(4)  // [0,4)
	mid := chain.Append(4)   // [4,8)
	right := chain.Append(4) // [8,12)

	left.Live = false
	right.Live = false
	mid.Live = false

	idx := NewReclaimableIndex()
	idx.insertSorted(left)
	idx.insertSorted(right)

	idx.Insert(chain, mid)

	require.Equal(t, 1, idx.Len())

	fused := idx.At(0)
	require.Equal(t, uint64(0), fused.Start)
	require.Equal(t, uint64(12), fused.End)
	require.Same(t, mid, fused)
}

// TestReclaimableIndex_FindBoundaries covers find(0) and
// find(capacity_max + 1).
func TestReclaimableIndex_FindBoundaries(t *testing.T) {
	t.Parallel()

	idx := NewReclaimableIndex()
	for _, cap := range []uint64{4, 9, 15} {
		idx.insertSorted(&Node{Start: 0, End: cap})
	}

	_, node, ok := idx.Find(0)
	require.True(t, ok)
	require.Equal(t, uint64(4), node.Capacity())

	_, _, ok = idx.Find(16)
	require.False(t, ok)
}
