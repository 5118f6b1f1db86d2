package memres

// blockRecord is one node of the outstanding-allocation list. It lives
// in ordinary Go-managed memory and is never reachable from the block
// header itself (see header.go's doc comment): the header only stores
// the integer index used to look a record up in Resource.nodes.
type blockRecord struct {
	index     uint64
	size      int
	alignment int
	prev      *blockRecord
	next      *blockRecord
}

// linkTail appends node to the tail of the resource's outstanding-block
// list. Callers must hold r.mu.
func (r *Resource) linkTail(node *blockRecord) {
	if r.tail == nil {
		r.head = node
		r.tail = node

		return
	}

	node.prev = r.tail
	r.tail.next = node
	r.tail = node
}

// unlink removes the block record identified by index from the list
// and the node table. Callers must hold r.mu. It is a no-op if the
// index is unknown (defensive only; every successful deallocate path
// looks up a node recorded by a prior successful allocate).
func (r *Resource) unlink(index uint64) {
	node, ok := r.nodes[index]
	if !ok {
		return
	}

	delete(r.nodes, index)

	if node.prev != nil {
		node.prev.next = node.next
	} else {
		r.head = node.next
	}

	if node.next != nil {
		node.next.prev = node.prev
	} else {
		r.tail = node.prev
	}
}
