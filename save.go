package rope

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/google/uuid"
)

// saveBuffer implements Buffer.Save (spec.md §4.5): a URI destination
// goes through the configured URILoader's atomic replace; a local path
// goes through the rename-aside protocol in saveLocal (platform-specific,
// see save_unix.go).
func saveBuffer(b *Buffer, path string) error {
	if _, ok := parseURI(path); ok {
		if err := b.ed.uriLoader.Replace(path, b.newReader()); err != nil {
			return Translate(err)
		}
		return nil
	}
	return saveLocal(b, path)
}

// bufferReader adapts Buffer.Read to io.Reader, for URILoader.Replace.
type bufferReader struct {
	b   *Buffer
	pos int64
}

func (b *Buffer) newReader() io.Reader {
	return &bufferReader{b: b}
}

func (r *bufferReader) Read(p []byte) (int, error) {
	n, err := r.b.Read(r.pos, p)
	r.pos += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// writeBufferInOrder streams b's bytes into w one node's slice at a
// time, in in-order traversal, never materializing the whole buffer.
func writeBufferInOrder(w io.Writer, b *Buffer) error {
	b.mu.Lock()
	root := b.root
	b.mu.Unlock()
	return writeNode(w, root)
}

func writeNode(w io.Writer, n *Node) error {
	if n == nil {
		return nil
	}
	if err := writeNode(w, n.left); err != nil {
		return err
	}
	if _, err := w.Write(n.fragment.Data()[n.start:n.end]); err != nil {
		return Translate(err)
	}
	return writeNode(w, n.right)
}

// createAndStream creates path exclusively (it must not already exist)
// and streams b's bytes into it.
func createAndStream(b *Buffer, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Translate(err)
	}
	defer f.Close()
	return writeBufferInOrder(f, b)
}

// streamInto truncates the already-existing path and streams b's bytes
// into it, for the case where no live mmap references the same inode.
func streamInto(path string, b *Buffer) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return Translate(err)
	}
	defer f.Close()
	return writeBufferInOrder(f, b)
}

// randomSideSuffix returns 8 lowercase hex digits of entropy for the
// ".{name}.skak-{suffix}" side-file naming convention (spec.md §4.5).
func randomSideSuffix() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}
