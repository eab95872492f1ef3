package rope

// copyCacheKey identifies a previously-built frozen slice of a source
// buffer's root. Keying on the root node's id (rather than its pointer)
// follows spec.md §9's guidance for hosts without routine
// pointer-equality hashing; a *Node would also work as a Go map key, but
// the explicit id keeps the cache's notion of identity independent of
// node representation.
type copyCacheKey struct {
	rootID     uint64
	start, end int64
}

// lookupCopyCache returns the cached frozen Node for (root, start, end),
// if any, with an additional reference for the caller.
func (ed *Editor) lookupCopyCache(root *Node, start, end int64) (*Node, bool) {
	if root == nil {
		return nil, false
	}
	key := copyCacheKey{rootID: root.id, start: start, end: end}

	ed.mu.Lock()
	n, ok := ed.copyCache[key]
	ed.mu.Unlock()

	if !ok {
		return nil, false
	}
	n.Ref()
	return n, true
}

// storeCopyCache records slice as the frozen representation of
// (root, start, end), taking ownership of one reference to slice for the
// cache's own lifetime (released by ClearCopyCache).
func (ed *Editor) storeCopyCache(root *Node, start, end int64, slice *Node) {
	key := copyCacheKey{rootID: root.id, start: start, end: end}

	slice.Ref()
	ed.mu.Lock()
	ed.copyCache[key] = slice
	ed.mu.Unlock()
}
