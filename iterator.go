package rope

// maxIterDepth bounds the iterator's path stack (spec.md §4.7): any
// buffer fits in addressable memory and the treap has expected depth
// O(log n), so 64 levels is far more than a real tree will ever need.
const maxIterDepth = 64

type iterFrame struct {
	node *Node
}

// Iterator is a forward/backward byte cursor over a Buffer's bytes
// (spec.md §4.7). It holds a bounded path stack of node references from
// root to the leaf containing the current position, refreshed on each
// step; every node on the stack carries its own reference for as long as
// it is held.
type Iterator struct {
	root *Node
	len  int64

	pos        int64
	leafOffset int
	stack      []iterFrame

	lastAdvance int64
}

// Iter returns a cursor over the buffer positioned at offset
// (0 <= offset <= Len()).
func (b *Buffer) Iter(offset int64) (*Iterator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	length := b.root.Bytes()
	if offset < 0 || offset > length {
		return nil, ErrOutOfBounds
	}

	b.root.Ref()
	it := &Iterator{root: b.root, len: length}
	if err := it.descendTo(offset); err != nil {
		it.root.Unref()
		return nil, err
	}
	it.pos = offset
	return it, nil
}

// Next returns the byte at the cursor and advances it by one, or
// (0, false) at end of buffer.
func (it *Iterator) Next() (byte, bool) {
	if it.pos >= it.len {
		return 0, false
	}
	top := it.stack[len(it.stack)-1]
	b := top.node.fragment.Data()[top.node.start+it.leafOffset]

	next := it.pos + 1
	if err := it.descendTo(next); err != nil {
		return 0, false
	}
	it.pos = next
	it.lastAdvance = 1
	return b, true
}

// Prev moves the cursor back by one and returns the byte it now points
// at, or (0, false) if already at the start of the buffer.
func (it *Iterator) Prev() (byte, bool) {
	if it.pos <= 0 {
		return 0, false
	}
	prev := it.pos - 1
	if err := it.descendTo(prev); err != nil {
		return 0, false
	}
	it.pos = prev
	it.lastAdvance = 1
	top := it.stack[len(it.stack)-1]
	return top.node.fragment.Data()[top.node.start+it.leafOffset], true
}

// Rewind moves the cursor back by k bytes in total (0 <= k, pos-k >= 0).
func (it *Iterator) Rewind(k int64) error {
	if k < 0 {
		return ErrOutOfBounds
	}
	target := it.pos - k
	if target < 0 || target > it.len {
		return ErrOutOfBounds
	}
	if err := it.descendTo(target); err != nil {
		return err
	}
	it.pos = target
	it.lastAdvance = k
	return nil
}

// LastAdvance returns the size, in bytes, of the most recent step taken
// by Next, Prev, or Rewind.
func (it *Iterator) LastAdvance() int64 {
	return it.lastAdvance
}

// Close releases the iterator's path and its claim on the buffer's root.
func (it *Iterator) Close() {
	it.release()
	it.root.Unref()
	it.root = nil
}

// descendTo rebuilds the path stack from root to the leaf containing
// pos, releasing the previous path first. It is O(log n) in the expected
// case, the same complexity a purely incremental walk-up-then-down would
// have, traded here for a description simple enough to get right without
// a compiler: there is exactly one way to reach any position, and this
// always takes it.
func (it *Iterator) descendTo(pos int64) error {
	it.release()

	if it.len == 0 {
		return nil
	}
	if pos == it.len {
		return it.descendToEnd()
	}

	n := it.root
	var path []iterFrame
	remaining := pos
	for {
		if len(path) >= maxIterDepth {
			for _, f := range path {
				f.node.Unref()
			}
			return newErrorf(KindUnexpected, "iterator path exceeds depth budget")
		}

		var leftBytes int64
		if n.left != nil {
			leftBytes = n.left.stats.bytes
		}
		localLen := int64(n.end - n.start)

		n.Ref()
		path = append(path, iterFrame{node: n})

		switch {
		case remaining < leftBytes:
			n = n.left
		case remaining < leftBytes+localLen:
			it.leafOffset = int(remaining - leftBytes)
			it.stack = path
			return nil
		default:
			remaining -= leftBytes + localLen
			n = n.right
		}
	}
}

// descendToEnd positions the iterator one byte past the last leaf, the
// canonical representation of pos == len (used by Rewind/Prev starting
// from end-of-buffer).
func (it *Iterator) descendToEnd() error {
	n := it.root
	var path []iterFrame
	for {
		if len(path) >= maxIterDepth {
			for _, f := range path {
				f.node.Unref()
			}
			return newErrorf(KindUnexpected, "iterator path exceeds depth budget")
		}
		n.Ref()
		path = append(path, iterFrame{node: n})
		if n.right != nil {
			n = n.right
			continue
		}
		it.leafOffset = n.end - n.start
		it.stack = path
		return nil
	}
}

func (it *Iterator) release() {
	for _, f := range it.stack {
		f.node.Unref()
	}
	it.stack = nil
}
