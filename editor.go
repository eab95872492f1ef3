package rope

import (
	"math/rand"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxOpenSize is the open-size threshold (spec.md §3/§9) above
// which Editor.Open maps a file instead of reading it onto the heap.
const DefaultMaxOpenSize = 100_000_000

// Config configures an Editor, following the teacher's
// Config/DefaultConfig idiom (absfs-memmapfs.Config/DefaultConfig).
type Config struct {
	// MaxOpenSize governs the heap-vs-mmap decision in Open.
	MaxOpenSize int64

	// Seed seeds the treap priority source deterministically when HasSeed
	// is set, so tests can inject a fixed seed. Without HasSeed the seed
	// is derived from a random UUID and Seed is ignored.
	Seed int64
	// HasSeed distinguishes an explicit zero seed from "no seed given".
	HasSeed bool

	// Watcher is the file-watcher collaborator. Nil uses NewFsnotifyWatcher.
	Watcher Watcher

	// URILoader is the collaborator used for non-local paths. Nil uses
	// the bundled file:// reference loader.
	URILoader URILoader

	// Logger receives structured diagnostics. Nil uses a logrus logger
	// configured at Warn level.
	Logger logrus.FieldLogger
}

// DefaultConfig returns a Config suitable for most uses.
func DefaultConfig() *Config {
	return &Config{MaxOpenSize: DefaultMaxOpenSize}
}

// Editor is the process-wide registry described in spec.md §3/§4.4: it
// owns the random source, the live mmap/buffer lists, the file-watcher
// context, the inter-buffer copy cache, and the moved-aside files
// pending unlink at teardown.
type Editor struct {
	mu sync.Mutex

	id uuid.UUID

	maxOpenSize int64
	rng         *rand.Rand

	watcher   Watcher
	uriLoader URILoader
	log       logrus.FieldLogger

	mmaps   map[*Fragment]struct{}
	buffers map[*Buffer]struct{}

	movedAside []movedAsideFile

	copyCache map[copyCacheKey]*Node

	wereMmapsCorrupted bool

	nextID uint64
}

type movedAsideFile struct {
	dir  *os.File
	name string
}

// New constructs an Editor. A nil config is equivalent to DefaultConfig().
func New(cfg *Config) (*Editor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxOpen := cfg.MaxOpenSize
	if maxOpen == 0 {
		maxOpen = DefaultMaxOpenSize
	}

	var seed int64
	if cfg.HasSeed {
		seed = cfg.Seed
	} else {
		seed = int64(uuid.New().ID())
	}

	watcher := cfg.Watcher
	if watcher == nil {
		w, err := NewFsnotifyWatcher()
		if err != nil {
			return nil, err
		}
		watcher = w
	}

	loader := cfg.URILoader
	if loader == nil {
		loader = NewFileURILoader()
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}

	return &Editor{
		id:          uuid.New(),
		maxOpenSize: maxOpen,
		rng:         rand.New(rand.NewSource(seed)),
		watcher:     watcher,
		uriLoader:   loader,
		log:         log,
		mmaps:       make(map[*Fragment]struct{}),
		buffers:     make(map[*Buffer]struct{}),
		copyCache:   make(map[copyCacheKey]*Node),
	}, nil
}

func (ed *Editor) logger() logrus.FieldLogger {
	return ed.log.WithField("editor", ed.id.String())
}

func (ed *Editor) randomPriority() uint64 {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.rng.Uint64()
}

func (ed *Editor) nextNodeID() uint64 {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.nextID++
	return ed.nextID
}

func (ed *Editor) registerMmap(f *Fragment) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.mmaps[f] = struct{}{}
}

func (ed *Editor) deregisterMmap(f *Fragment) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	delete(ed.mmaps, f)
}

func (ed *Editor) watchPath(path string, f *Fragment) (*fragmentWatch, error) {
	handle, err := ed.watcher.Subscribe(path, ed.onFragmentChanged(f))
	if err != nil {
		return nil, err
	}
	return &fragmentWatch{handle: handle}, nil
}

func (ed *Editor) setMmapsCorrupted() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.wereMmapsCorrupted = true
}

func (ed *Editor) registerBuffer(b *Buffer) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.buffers[b] = struct{}{}
}

func (ed *Editor) deregisterBuffer(b *Buffer) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	delete(ed.buffers, b)
}

// reaggregateAllTopDown re-aggregates stats from the leaves upward across
// every live buffer's root and every cached copy-node, after a fragment's
// corruption state or provenance changes underneath existing trees.
func (ed *Editor) reaggregateAllTopDown() {
	ed.mu.Lock()
	buffers := make([]*Buffer, 0, len(ed.buffers))
	for b := range ed.buffers {
		buffers = append(buffers, b)
	}
	cached := make([]*Node, 0, len(ed.copyCache))
	for _, n := range ed.copyCache {
		cached = append(cached, n)
	}
	ed.mu.Unlock()

	for _, b := range buffers {
		b.mu.Lock()
		b.root.updateStats(true)
		b.mu.Unlock()
	}
	for _, n := range cached {
		n.updateStats(true)
	}
}

// Open opens path (a local filesystem path, or a URI recognized by the
// configured URILoader) and returns a new Buffer over its bytes
// (spec.md §4.4). Files at or under MaxOpenSize are read onto the heap;
// larger files are mapped read-only and watched for external
// modification.
func (ed *Editor) Open(path string) (*Buffer, error) {
	if u, ok := parseURI(path); ok {
		return ed.openURI(u, path)
	}
	return ed.openLocal(path)
}

func parseURI(path string) (*url.URL, bool) {
	u, err := url.Parse(path)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	return u, true
}

func (ed *Editor) openURI(u *url.URL, raw string) (*Buffer, error) {
	data, free, err := ed.uriLoader.Load(raw)
	if err != nil {
		return nil, Translate(err)
	}
	frag := NewForeignFragment(data, free)
	return ed.newBufferFromFragment(frag)
}

func (ed *Editor) openLocal(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Translate(err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, Translate(err)
	}
	if fi.IsDir() {
		return nil, newError(KindIsDir, err)
	}

	size := fi.Size()
	if size == 0 {
		return ed.newEmptyBuffer(), nil
	}

	if size <= ed.maxOpenSize {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, Translate(err)
		}
		frag := NewHeapFragment(data)
		return ed.newBufferFromFragment(frag)
	}

	frag, err := newMmapFragment(ed, f, path, size)
	if err != nil {
		return nil, Translate(err)
	}
	return ed.newBufferFromFragment(frag)
}

func (ed *Editor) newEmptyBuffer() *Buffer {
	b := &Buffer{ed: ed, id: uuid.New()}
	ed.registerBuffer(b)
	return b
}

func (ed *Editor) newBufferFromFragment(frag *Fragment) (*Buffer, error) {
	if frag.Len() == 0 {
		frag.Unref()
		return ed.newEmptyBuffer(), nil
	}
	root := newNode(ed, frag, 0, frag.Len())
	frag.Unref() // newNode took its own reference; release the constructor's.
	b := &Buffer{ed: ed, id: uuid.New(), root: root}
	ed.registerBuffer(b)
	return b, nil
}

// ValidateMmaps pumps the file-watcher event loop once (non-blocking)
// and returns whether any mmap fragment was found corrupted since the
// last call (spec.md §4.4). This is the polling entry point callers
// invoke periodically to discover external file changes.
func (ed *Editor) ValidateMmaps() bool {
	ed.mu.Lock()
	ed.wereMmapsCorrupted = false
	ed.mu.Unlock()

	ed.watcher.Pump()

	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.wereMmapsCorrupted
}

// ClearCopyCache releases every cached Node. Clients call this explicitly
// to reclaim memory; the Editor always calls it at teardown.
func (ed *Editor) ClearCopyCache() {
	ed.mu.Lock()
	cached := ed.copyCache
	ed.copyCache = make(map[copyCacheKey]*Node)
	ed.mu.Unlock()

	for _, n := range cached {
		n.Unref()
	}
}

// Close destroys all live buffers, attempts to unlink every pending
// moved-aside file, releases the watcher context, and clears the copy
// cache.
func (ed *Editor) Close() error {
	ed.mu.Lock()
	buffers := make([]*Buffer, 0, len(ed.buffers))
	for b := range ed.buffers {
		buffers = append(buffers, b)
	}
	moved := ed.movedAside
	ed.movedAside = nil
	ed.mu.Unlock()

	for _, b := range buffers {
		b.Close()
	}

	for _, m := range moved {
		_ = unlinkMovedAside(m)
		_ = m.dir.Close()
	}

	ed.ClearCopyCache()

	return ed.watcher.Close()
}

func (ed *Editor) trackMovedAside(dir *os.File, name string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.movedAside = append(ed.movedAside, movedAsideFile{dir: dir, name: name})
}
