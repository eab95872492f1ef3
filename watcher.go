package rope

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher is the file-watcher collaborator contract (spec.md §6): subscribe
// to a local path for "content changed" events, deliver them through a
// context the core can pump non-blockingly, and allow detachment by
// releasing a WatchHandle. The core needs nothing more from a watcher
// implementation than this.
type Watcher interface {
	// Subscribe registers onChanged to be invoked (from Pump, never from
	// a background goroutine) whenever path's contents change.
	Subscribe(path string, onChanged func()) (WatchHandle, error)
	// Pump drains any events queued since the last call and invokes their
	// callbacks synchronously. It never blocks.
	Pump()
	// Close releases all resources held by the watcher.
	Close() error
}

// WatchHandle detaches a single Subscribe registration.
type WatchHandle interface {
	Close() error
}

type watchSub struct {
	id int
	cb func()
}

// fsnotifyWatcher implements Watcher on top of github.com/fsnotify/fsnotify,
// the file-watcher library the pack depends on (e.g.
// marmos91-dittofs/cmd/dittofs/commands/logs.go). fsnotify watches by path;
// the subs slice per path lets multiple fragments (e.g. two buffers
// opening the same file) share one underlying inotify/kqueue watch.
type fsnotifyWatcher struct {
	mu     sync.Mutex
	w      *fsnotify.Watcher
	subs   map[string][]watchSub
	nextID int
}

// NewFsnotifyWatcher constructs the reference Watcher implementation.
func NewFsnotifyWatcher() (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	return &fsnotifyWatcher{w: w, subs: make(map[string][]watchSub)}, nil
}

type fsnotifyHandle struct {
	fw   *fsnotifyWatcher
	path string
	id   int
}

func (h *fsnotifyHandle) Close() error {
	h.fw.mu.Lock()
	defer h.fw.mu.Unlock()

	subs := h.fw.subs[h.path]
	for i, s := range subs {
		if s.id == h.id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.fw.subs, h.path)
		return h.fw.w.Remove(h.path)
	}
	h.fw.subs[h.path] = subs
	return nil
}

func (s *fsnotifyWatcher) Subscribe(path string, onChanged func()) (WatchHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[path]; !ok {
		if err := s.w.Add(path); err != nil {
			return nil, errors.Wrapf(err, "watch %s", path)
		}
	}
	s.nextID++
	id := s.nextID
	s.subs[path] = append(s.subs[path], watchSub{id: id, cb: onChanged})
	return &fsnotifyHandle{fw: s, path: path, id: id}, nil
}

// Pump drains every event and error queued on the watcher's channels
// without blocking, dispatching content-changed callbacks synchronously.
func (s *fsnotifyWatcher) Pump() {
	for {
		select {
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Chmod) == 0 {
				// Deletion and rename are ignored: the mapping keeps the
				// file's bytes alive regardless (spec.md §4.1).
				continue
			}
			s.dispatch(ev.Name)
		case _, ok := <-s.w.Errors:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *fsnotifyWatcher) dispatch(path string) {
	s.mu.Lock()
	cbs := make([]func(), 0, len(s.subs[path]))
	for _, sub := range s.subs[path] {
		cbs = append(cbs, sub.cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *fsnotifyWatcher) Close() error {
	return s.w.Close()
}
