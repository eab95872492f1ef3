package rope

import (
	"sync"

	"github.com/google/uuid"
)

// Buffer is a handle to a (possibly empty) treap root, representing one
// editable byte sequence (spec.md §4.3). All operations on one Buffer
// are expected to be serialized by the caller (spec.md §5).
type Buffer struct {
	ed *Editor
	id uuid.UUID

	mu       sync.Mutex
	root     *Node
	isFrozen bool
	closed   bool
}

// Len returns the buffer's current byte length.
func (b *Buffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root.Bytes()
}

// HasHealthyMmap reports whether any fragment reachable from the root is
// a healthy (uncorrupted) mmap.
func (b *Buffer) HasHealthyMmap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root.HasHealthyMmap()
}

// HasCorruptMmap reports whether any fragment reachable from the root is
// a corrupted mmap.
func (b *Buffer) HasCorruptMmap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root.HasCorruptMmap()
}

// Read copies up to len(dest) bytes starting at offset into dest, in
// in-order sequence. An empty buffer reads 0 bytes and errors only if
// offset > 0.
func (b *Buffer) Read(offset int64, dest []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root.read(offset, dest)
}

// Insert splices data into the buffer at offset, wrapping it in a fresh
// Heap fragment. offset == len(buffer) appends; offset > len is an
// error.
func (b *Buffer) Insert(offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isFrozen {
		return ErrBufferFrozen
	}
	if offset < 0 || offset > b.root.Bytes() {
		return ErrOutOfBounds
	}
	if len(data) == 0 {
		return nil
	}

	owned := append([]byte(nil), data...)
	frag := NewHeapFragment(owned)
	newN := newNode(b.ed, frag, 0, frag.Len())
	frag.Unref()

	if b.root == nil {
		b.root = newN
		return nil
	}

	left, right, err := splitRef(b.root, offset)
	if err != nil {
		newN.Unref()
		return err
	}
	b.root.Unref()
	b.root = merge(merge(left, newN), right)
	return nil
}

// Delete removes the half-open range [start, end) from the buffer. A
// no-op when start >= end.
func (b *Buffer) Delete(start, end int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isFrozen {
		return ErrBufferFrozen
	}
	if start >= end {
		return nil
	}
	if b.root == nil || end > b.root.Bytes() {
		return ErrOutOfBounds
	}

	ab, c, err := splitRef(b.root, end)
	if err != nil {
		return err
	}
	a, mid, err := splitRef(ab, start)
	ab.Unref()
	if err != nil {
		c.Unref()
		return err
	}
	mid.Unref()

	b.root.Unref()
	b.root = merge(a, c)
	return nil
}

// Copy splices the half-open range [start, end) of src (which must share
// this buffer's Editor) into this buffer at offset, sharing bytes with
// the source rather than duplicating them. src is frozen as a side
// effect, and must remain frozen for as long as the editor's copy cache
// is in use (spec.md §4.6/§9) — the cache is invalidated only by
// Editor.ClearCopyCache, not by src changing underneath it.
func (b *Buffer) Copy(offset int64, src *Buffer, start, end int64) error {
	if src.ed != b.ed {
		return newErrorf(KindUnexpected, "copy requires src and dst share an editor")
	}

	// Snapshot the destination's frozen state before src is frozen below:
	// when src == b (a same-buffer copy), src.isFrozen and b.isFrozen are
	// the same field, and setting it unconditionally would make every
	// same-buffer Copy look frozen to the destination-side check further
	// down.
	b.mu.Lock()
	dstWasFrozen := b.isFrozen
	b.mu.Unlock()

	src.mu.Lock()
	if start < 0 || start > end || end > src.root.Bytes() {
		src.mu.Unlock()
		return ErrOutOfBounds
	}
	src.isFrozen = true
	root := src.root
	if root != nil {
		// Freeze the root node itself so the splits below copy the path
		// they touch instead of reshaping src's tree in place.
		root.isFrozen = true
	}
	src.mu.Unlock()

	if root == nil || start == end {
		return nil
	}

	slice, ok := b.ed.lookupCopyCache(root, start, end)
	if !ok {
		ab, c, err := splitRef(root, end)
		if err != nil {
			return err
		}
		a, mid, err := splitRef(ab, start)
		ab.Unref()
		if err != nil {
			c.Unref()
			return err
		}
		a.Unref()
		c.Unref()
		mid.isFrozen = true
		b.ed.storeCopyCache(root, start, end, mid)
		slice = mid
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if dstWasFrozen {
		slice.Unref()
		return ErrBufferFrozen
	}
	if offset < 0 || offset > b.root.Bytes() {
		slice.Unref()
		return ErrOutOfBounds
	}
	if b.root == nil {
		b.root = slice
		return nil
	}

	left, right, err := splitRef(b.root, offset)
	if err != nil {
		slice.Unref()
		return err
	}
	b.root.Unref()
	b.root = merge(merge(left, slice), right)
	return nil
}

// Load recursively promotes every mmap leaf reachable from the root to
// Heap provenance; healthy mmaps become heap, corrupt mmaps stay
// corrupt.
func (b *Buffer) Load() error {
	b.mu.Lock()
	root := b.root
	b.mu.Unlock()
	return loadAllLeaves(root)
}

func loadAllLeaves(n *Node) error {
	if n == nil {
		return nil
	}
	if err := loadAllLeaves(n.left); err != nil {
		return err
	}
	if err := n.fragment.Load(); err != nil {
		return err
	}
	return loadAllLeaves(n.right)
}

// Freeze marks the buffer immutable. The root reference is retained, not
// released: a frozen buffer must remain fully readable.
func (b *Buffer) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isFrozen = true
}

// Thaw returns a writable Buffer sharing this buffer's root. If b is not
// frozen, Thaw returns b itself. If b is frozen, the root Node's own
// frozen bit is set here (lazily, on first thaw) so that edits on the
// returned buffer copy-on-write instead of mutating the shared root in
// place.
func (b *Buffer) Thaw() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isFrozen {
		return b
	}

	if b.root != nil {
		b.root.isFrozen = true
	}
	b.root.Ref()

	nb := &Buffer{ed: b.ed, id: uuid.New(), root: b.root}
	b.ed.registerBuffer(nb)
	return nb
}

// Save writes the buffer's bytes to path (or, for a URI, delegates to
// the configured URILoader's atomic replace), using the rename-aside
// protocol described in spec.md §4.5 when the destination is itself
// mmapped into a live buffer.
func (b *Buffer) Save(path string) error {
	return saveBuffer(b, path)
}

// Close releases the buffer's root reference and deregisters it from the
// editor. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	root := b.root
	b.root = nil
	b.closed = true
	b.mu.Unlock()

	root.Unref()
	b.ed.deregisterBuffer(b)
}
