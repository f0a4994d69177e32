// Package scan implements the sender's directory watcher: a polling loop
// that emits a filerelay.FileDescriptor for every regular file that is
// new or has changed size or modification time since the last scan.
//
// This is deliberately outside the core pipeline (see the sender
// package): it is the one external collaborator the core only consumes
// descriptors from, matching the original client's DirectoryWatcher.
package scan

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/filerelay"
)

// lockFileName is the sender's own flock anchor, optionally placed
// directly inside the watched directory (see cmd/sender). It is never a
// file to relay.
const lockFileName = ".relay.lock"

// Watcher polls a directory tree and reports files that are new or
// changed since the previous Scan call.
type Watcher struct {
	Root      string
	Recursive bool

	mu    sync.Mutex
	known map[string]filerelay.FileDescriptor
}

// New constructs a Watcher rooted at root.
func New(root string, recursive bool) *Watcher {
	return &Watcher{
		Root:      root,
		Recursive: recursive,
		known:     make(map[string]filerelay.FileDescriptor),
	}
}

// Scan walks the tree once and returns descriptors for every file whose
// size or mtime differs from what the previous Scan observed (or that
// wasn't observed at all). Filesystem errors while walking (e.g. the
// root not existing yet) are logged by the caller's discretion; Scan
// itself treats a missing root as "no files" rather than a fatal error.
func (w *Watcher) Scan() ([]filerelay.FileDescriptor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var updated []filerelay.FileDescriptor

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip entries that vanished mid-walk or are unreadable; not fatal.
			return nil
		}
		if info.IsDir() {
			if !w.Recursive && path != w.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Base(path) == lockFileName {
			return nil
		}

		descriptor := filerelay.FileDescriptor{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		known, ok := w.known[path]
		if !ok || known.Changed(descriptor) {
			w.known[path] = descriptor
			updated = append(updated, descriptor)
		}
		return nil
	}

	if err := filepath.Walk(w.Root, walkFn); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "walking %s", w.Root)
	}

	return updated, nil
}
