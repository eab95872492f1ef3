//go:build unix

package rope

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newMmapFragment maps f read-only in its entirety, records (dev, ino)
// from an fstat on the already-open descriptor, and subscribes a file
// watcher for path exactly as the caller passed it. Construction fails
// closed: if the watcher subscription fails, the mapping is unmapped
// before returning.
func newMmapFragment(ed *Editor, f *os.File, path string, size int64) (*Fragment, error) {
	fd := int(f.Fd())

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errors.Wrap(err, "fstat for mmap fragment")
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}

	frag := &Fragment{
		provenance: ProvenanceMmap,
		data:       data,
		dev:        uint64(st.Dev),
		ino:        uint64(st.Ino),
		path:       path,
		editor:     ed,
		refc:       1,
	}

	watch, err := ed.watchPath(path, frag)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, errors.Wrap(err, "subscribe file watcher")
	}
	frag.watch = watch

	ed.registerMmap(frag)
	return frag, nil
}

// munmapFragment unmaps a destroyed fragment's pages.
func munmapFragment(f *Fragment) error {
	return munmapBytes(f.data)
}

func munmapBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return nil
}

func adviseSequential(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Madvise(data, unix.MADV_SEQUENTIAL); err != nil {
		return errors.Wrap(err, "madvise sequential")
	}
	return nil
}

// AdviseRandom hints to the kernel that access to the fragment's mapped
// pages will be random rather than sequential.
func (f *Fragment) AdviseRandom() error {
	return f.advise(unix.MADV_RANDOM)
}

// AdviseWillNeed hints that the fragment's pages will be needed soon.
func (f *Fragment) AdviseWillNeed() error {
	return f.advise(unix.MADV_WILLNEED)
}

// AdviseDontNeed hints that the fragment's pages are not needed soon and
// may be evicted by the kernel.
func (f *Fragment) AdviseDontNeed() error {
	return f.advise(unix.MADV_DONTNEED)
}

func (f *Fragment) advise(flag int) error {
	f.mu.Lock()
	data := f.data
	isMmap := f.provenance == ProvenanceMmap
	f.mu.Unlock()
	if !isMmap || len(data) == 0 {
		return nil
	}
	if err := unix.Madvise(data, flag); err != nil {
		return errors.Wrap(err, "madvise")
	}
	return nil
}

// remapZeroFixed replaces data's pages in place with an anonymous,
// read-only, zero-filled mapping of identical length at the identical
// address. This requires MAP_FIXED semantics, which golang.org/x/sys/unix's
// Mmap helper does not expose (it never accepts a target address), so the
// mmap(2) syscall is invoked directly with the existing slice's address.
// Buffers hold interior pointers into this range, so a failure here is
// fatal to the process rather than recoverable.
func remapZeroFixed(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	length := uintptr(len(data))

	_, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(unix.PROT_READ),
		uintptr(unix.MAP_FIXED|unix.MAP_ANON|unix.MAP_PRIVATE),
		^uintptr(0), // fd: -1 for anonymous mapping
		0,
	)
	if errno != 0 {
		return errors.Wrapf(errno, "fixed anonymous remap at %#x failed", addr)
	}
	return nil
}
