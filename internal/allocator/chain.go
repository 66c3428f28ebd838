package allocator

// Chain is the doubly-linked sequence of all nodes in a values file,
// ordered by ascending Start. It tiles [0, FileSize()) with no gaps: for
// every node N with a Next, N.End == N.Next.Start.
//
// Chain exposes no removal: a node is retired by marking it reclaimable
// and handing it to [ReclaimableIndex.Insert], which may absorb it into a
// neighbor via coalescing. Chain only ever grows via [Chain.Append].
type Chain struct {
	head *Node
	tail *Node
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Head returns the first node in the chain, or nil if empty.
func (c *Chain) Head() *Node {
	return c.head
}

// Tail returns the last node in the chain, or nil if empty.
func (c *Chain) Tail() *Node {
	return c.tail
}

// FileSize returns the exclusive upper bound of the values file's
// allocated prefix: the End of the tail node, or 0 if the chain is empty.
func (c *Chain) FileSize() uint64 {
	if c.tail == nil {
		return 0
	}

	return c.tail.End
}

// Append creates a new live node with the given capacity at the current
// end of file, wires it after the current tail, and returns it.
func (c *Chain) Append(capacity uint64) *Node {
	start := c.FileSize()

	node := &Node{
		Start: start,
		End:   start + capacity,
		Live:  true,
	}

	if c.tail != nil {
		node.Prev = c.tail
		c.tail.Next = node
	} else {
		c.head = node
	}

	c.tail = node

	return node
}

// setHead and setTail let [ReclaimableIndex.Insert] keep the chain's
// head/tail pointers consistent when coalescing splices a node that was
// previously the head or tail.
func (c *Chain) setHead(n *Node) { c.head = n }
func (c *Chain) setTail(n *Node) { c.tail = n }
