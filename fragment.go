package rope

import (
	"sync"
)

// Provenance records which allocator owns a Fragment's backing bytes, and
// therefore which deallocator must run when its refcount reaches zero.
type Provenance int

const (
	// ProvenanceHeap fragments were allocated by this process (editing
	// edits, or a whole small file read into memory by Open).
	ProvenanceHeap Provenance = iota
	// ProvenanceForeign fragments were allocated by a URILoader and must
	// be released through its free function.
	ProvenanceForeign
	// ProvenanceMmap fragments wrap a read-only mapping of a file opened
	// because it exceeded Config.MaxOpenSize.
	ProvenanceMmap
)

// Fragment is an owned, immutable byte region tagged by provenance.
// Nodes reference a sub-range of exactly one Fragment; many Nodes across
// many Buffers may share one Fragment.
type Fragment struct {
	mu sync.Mutex

	provenance Provenance
	data       []byte
	free       func() // Foreign: loader's free function. Heap/Mmap: nil.

	refc int

	// Mmap-only fields.
	isCorrupt bool
	dev, ino  uint64
	path      string
	watch     *fragmentWatch

	editor *Editor
}

// fragmentWatch is the live subscription a Mmap fragment holds on its
// backing path. It is detached exactly once, either by the watcher
// callback (content changed) or by Fragment.Load/Unref.
type fragmentWatch struct {
	handle WatchHandle
	once   sync.Once
}

func (w *fragmentWatch) detach() {
	w.once.Do(func() {
		_ = w.handle.Close()
	})
}

// NewHeapFragment wraps data (already owned by the caller) as a Heap
// fragment with refcount 1.
func NewHeapFragment(data []byte) *Fragment {
	return &Fragment{provenance: ProvenanceHeap, data: data, refc: 1}
}

// NewForeignFragment wraps data owned by a URILoader; free is called
// exactly once, on final Unref.
func NewForeignFragment(data []byte, free func()) *Fragment {
	return &Fragment{provenance: ProvenanceForeign, data: data, free: free, refc: 1}
}

// Len returns the fragment's fixed byte length.
func (f *Fragment) Len() int { return len(f.data) }

// IsMmap reports whether this fragment's provenance is Mmap. A Load that
// succeeds mutates this away; callers must re-check after Load.
func (f *Fragment) IsMmap() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provenance == ProvenanceMmap
}

// IsCorrupt reports the Mmap corruption flag. Always false for non-Mmap
// fragments.
func (f *Fragment) IsCorrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provenance == ProvenanceMmap && f.isCorrupt
}

// Ref increments the fragment's reference count.
func (f *Fragment) Ref() {
	f.mu.Lock()
	f.refc++
	f.mu.Unlock()
}

// Unref decrements the fragment's reference count, destroying it on the
// final release. Destruction dispatches on provenance: free heap memory,
// call the loader's free function, or unmap pages (cancelling the watch
// and deregistering from the editor's mmap list first).
func (f *Fragment) Unref() {
	f.mu.Lock()
	f.refc--
	n := f.refc
	f.mu.Unlock()
	if n > 0 {
		return
	}
	f.destroy()
}

func (f *Fragment) destroy() {
	f.mu.Lock()
	prov := f.provenance
	data := f.data
	free := f.free
	watch := f.watch
	f.watch = nil
	editor := f.editor
	f.mu.Unlock()

	switch prov {
	case ProvenanceHeap:
		// Left to the garbage collector; nothing to release explicitly.
		_ = data
	case ProvenanceForeign:
		if free != nil {
			free()
		}
	case ProvenanceMmap:
		if watch != nil {
			watch.detach()
		}
		if editor != nil {
			editor.deregisterMmap(f)
		}
		_ = munmapFragment(f)
	}
}

// Data returns the fragment's full byte slice. Callers must not retain
// slices across a Load/corruption transition without re-checking
// provenance, since the underlying pages may be replaced in place.
func (f *Fragment) Data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

// Load promotes a healthy Mmap fragment to Heap: it advises sequential
// access, copies the mapped bytes into a heap allocation, swaps the
// provenance tag, unmaps the old pages, cancels the watch, and
// deregisters from the editor's mmap list. A corrupt mmap fragment is a
// no-op (spec: "A corrupt mmap is a no-op").
func (f *Fragment) Load() error {
	f.mu.Lock()
	if f.provenance != ProvenanceMmap {
		f.mu.Unlock()
		return nil
	}
	if f.isCorrupt {
		f.mu.Unlock()
		return nil
	}
	data := f.data
	watch := f.watch
	editor := f.editor
	f.mu.Unlock()

	_ = adviseSequential(data)

	heapCopy := make([]byte, len(data))
	copy(heapCopy, data)

	f.mu.Lock()
	oldData := f.data
	f.provenance = ProvenanceHeap
	f.data = heapCopy
	f.watch = nil
	f.mu.Unlock()

	if watch != nil {
		watch.detach()
	}
	if editor != nil {
		editor.deregisterMmap(f)
	}
	if err := munmapBytes(oldData); err != nil {
		return err
	}

	if editor != nil {
		editor.reaggregateAllTopDown()
	}
	return nil
}
