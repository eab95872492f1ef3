//go:build unix

package rope

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// saveLocal implements the rename-aside protocol of spec.md §4.5 for a
// local filesystem path: resolve symlinks, openat the target relative to
// its directory fd to avoid a TOCTOU window on the path, and compare
// (dev, ino) against every live mmap fragment before deciding whether a
// plain truncate-and-stream is safe.
func saveLocal(b *Buffer, path string) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createAndStream(b, path)
		}
		return Translate(err)
	}

	dir, name := filepath.Split(real)
	if dir == "" {
		dir = "."
	}
	dirf, err := os.Open(dir)
	if err != nil {
		return Translate(err)
	}
	dirFd := int(dirf.Fd())

	oldFd, err := unix.Openat(dirFd, name, unix.O_RDONLY, 0)
	if err != nil {
		dirf.Close()
		return Translate(err)
	}
	oldFile := os.NewFile(uintptr(oldFd), real)

	var st unix.Stat_t
	if err := unix.Fstat(oldFd, &st); err != nil {
		oldFile.Close()
		dirf.Close()
		return Translate(err)
	}

	if !b.ed.mmapMatches(uint64(st.Dev), uint64(st.Ino)) {
		oldFile.Close()
		dirf.Close()
		return streamInto(real, b)
	}

	if st.Nlink > 1 {
		oldFile.Close()
		dirf.Close()
		return ErrMultipleHardLinks
	}

	sideName := "." + name + ".skak-" + randomSideSuffix()
	if err := unix.Renameat(dirFd, name, dirFd, sideName); err != nil {
		oldFile.Close()
		dirf.Close()
		return Translate(err)
	}
	oldFile.Close()
	b.ed.trackMovedAside(dirf, sideName)

	mode := uint32(st.Mode) & 0o7777
	newFd, err := unix.Openat(dirFd, name, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, mode)
	if err != nil {
		return Translate(err)
	}
	newFile := os.NewFile(uintptr(newFd), real)
	defer newFile.Close()

	return writeBufferInOrder(newFile, b)
}

// mmapMatches reports whether any live mmap fragment's (dev, ino)
// matches the given pair.
func (ed *Editor) mmapMatches(dev, ino uint64) bool {
	ed.mu.Lock()
	frags := make([]*Fragment, 0, len(ed.mmaps))
	for f := range ed.mmaps {
		frags = append(frags, f)
	}
	ed.mu.Unlock()

	for _, f := range frags {
		fdev, fino, ok := f.devIno()
		if ok && fdev == dev && fino == ino {
			return true
		}
	}
	return false
}

func (f *Fragment) devIno() (uint64, uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dev, f.ino, f.provenance == ProvenanceMmap
}

// unlinkMovedAside best-effort unlinks a side file recorded during save,
// relative to its retained directory fd (spec.md §4.5: even if the side
// file was externally renamed, moved, or deleted, this is best-effort).
func unlinkMovedAside(m movedAsideFile) error {
	return unix.Unlinkat(int(m.dir.Fd()), m.name, 0)
}
