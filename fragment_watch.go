package rope

// onFragmentChanged returns the file-watcher "content changed" callback
// for fragment f (spec.md §4.1). It must be idempotent: detach the
// watch, mark the fragment corrupt, splice zero pages over the mapping
// in place, re-aggregate stats across every live buffer and cached
// node, and raise the editor's corruption latch.
func (ed *Editor) onFragmentChanged(f *Fragment) func() {
	return func() {
		f.mu.Lock()
		if f.provenance != ProvenanceMmap || f.isCorrupt {
			f.mu.Unlock()
			return
		}
		watch := f.watch
		f.watch = nil
		f.isCorrupt = true
		data := f.data
		path := f.path
		f.mu.Unlock()

		if watch != nil {
			watch.detach()
		}

		if err := remapZeroFixed(data); err != nil {
			// Buffers hold raw interior pointers into this range; if the
			// fixed remap fails there is no safe way to keep serving
			// reads through it.
			ed.logger().WithError(err).WithField("path", path).
				Error("fatal: failed to splice zero pages over corrupted mmap fragment")
			panic(err)
		}

		ed.reaggregateAllTopDown()
		ed.setMmapsCorrupted()

		ed.logger().WithField("path", path).
			Warn("mmap fragment corrupted: backing file changed on disk")
	}
}
