// Package memfs is a volatile in-memory filesystem implementing the
// backend.Backend[*State] capability surface. It exists to exercise every
// dispatcher operation end to end in tests and to give the example server
// something to serve without depending on a real filesystem or network
// store.
package memfs

import (
	"context"
	"sync"
	"time"

	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/proto"
)

var _ backend.Backend[*State] = (*FS)(nil)

// FS is a single attach point's worth of in-memory filesystem state.
// Multiple connections may Attach to the same FS concurrently.
type FS struct {
	mu       sync.RWMutex
	root     *node
	nextPath uint64

	xattrs XattrStore
}

// Option configures an FS at construction time.
type Option func(*FS)

// WithXattrStore installs a persistent backing store for extended
// attributes (see xattr.go); by default xattrs live only in each node's
// in-memory map and vanish with the FS.
func WithXattrStore(store XattrStore) Option {
	return func(fs *FS) { fs.xattrs = store }
}

// New returns an FS with an empty root directory owned by uid/gid 0.
func New(opts ...Option) *FS {
	now := time.Now()
	fs := &FS{nextPath: 1}
	fs.root = &node{
		path:     fs.allocPath(),
		typ:      typeDir,
		mode:     0755,
		nlink:    2,
		children: make(map[string]*node),
		atime:    now,
		mtime:    now,
		ctime:    now,
		xattrs:   make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

func (fs *FS) allocPath() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := fs.nextPath
	fs.nextPath++
	return p
}

// State is the per-fid state memfs attaches to a dispatcher's fid table: the
// node the fid currently points at, plus whatever transient cursor state an
// in-flight Open/Xattr operation needs.
type State struct {
	fs   *FS
	n    *node
	flags uint32

	xattrName  string
	xattrBuf   []byte
	xattrWrite bool
}

// Attach implements backend.Backend. aname and nuname are ignored: memfs
// exposes a single tree per FS instance and does no access control.
func (fs *FS) Attach(ctx context.Context, uname, aname string, nuname uint32) (proto.Qid, *State, error) {
	return fs.root.qid(), &State{fs: fs, n: fs.root}, nil
}

func isDir(n *node) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.typ == typeDir
}

func lookupChild(dir *node, name string) (*node, error) {
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	if dir.typ != typeDir {
		return nil, proto.ENOTDIR
	}
	switch name {
	case ".":
		return dir, nil
	case "..":
		if dir.parent != nil {
			return dir.parent, nil
		}
		return dir, nil
	default:
		child, ok := dir.children[name]
		if !ok {
			return nil, proto.ENOENT
		}
		return child, nil
	}
}

// Walk implements backend.Backend.
func (fs *FS) Walk(ctx context.Context, state *State, names []string) ([]proto.Qid, *State, error) {
	cur := state.n
	qids := make([]proto.Qid, 0, len(names))
	for _, name := range names {
		next, err := lookupChild(cur, name)
		if err != nil {
			if len(qids) == 0 {
				return nil, nil, err
			}
			return qids, nil, nil
		}
		cur = next
		qids = append(qids, cur.qid())
	}
	return qids, &State{fs: fs, n: cur}, nil
}
