package memfs

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/l9p/l9p/internal/proto"
)

// XattrStore is an optional persistent backing store for extended
// attributes, keyed by the owning node's qid path. Without one (the
// default), memfs keeps xattrs only in each node's in-memory map, and they
// vanish along with the FS (see New's WithXattrStore option).
type XattrStore interface {
	Get(path uint64, name string) ([]byte, bool)
	Set(path uint64, name string, value []byte)
	List(path uint64) []string
}

func (fs *FS) xattrGet(n *node, name string) ([]byte, bool) {
	if fs.xattrs != nil {
		return fs.xattrs.Get(n.path, name)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.xattrs[name]
	return v, ok
}

func (fs *FS) xattrSet(n *node, name string, value []byte) {
	if fs.xattrs != nil {
		fs.xattrs.Set(n.path, name, value)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.xattrs[name] = value
}

func (fs *FS) xattrList(n *node) []string {
	var names []string
	if fs.xattrs != nil {
		names = fs.xattrs.List(n.path)
	} else {
		n.mu.RLock()
		for name := range n.xattrs {
			names = append(names, name)
		}
		n.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// XattrWalk implements backend.Backend. An empty name lists all attribute
// names, NUL-separated, matching Tlistxattr-over-9P convention; a non-empty
// name prepares state for reading that attribute's value.
func (fs *FS) XattrWalk(ctx context.Context, state *State, name string) (uint64, *State, error) {
	var buf []byte
	if name == "" {
		buf = []byte(strings.Join(fs.xattrList(state.n), "\x00"))
		if len(buf) > 0 {
			buf = append(buf, 0)
		}
	} else {
		v, ok := fs.xattrGet(state.n, name)
		if !ok {
			return 0, nil, proto.ENODATA
		}
		buf = v
	}
	next := &State{fs: fs, n: state.n, xattrName: name, xattrBuf: buf}
	return uint64(len(buf)), next, nil
}

// XattrCreate implements backend.Backend: it prepares fid for a subsequent
// Twrite sequence that supplies the attribute's value, finalized on Clunk.
func (fs *FS) XattrCreate(ctx context.Context, state *State, name string, size uint64, flags uint32) (*State, error) {
	if !isDir(state.n) && state.n.typ != typeFile && state.n.typ != typeSymlink {
		return nil, proto.EINVAL
	}
	return &State{
		fs:         fs,
		n:          state.n,
		xattrName:  name,
		xattrBuf:   make([]byte, 0, size),
		xattrWrite: true,
	}, nil
}

// finalizeXattr persists a fid's pending xattr write, called from Clunk.
func (fs *FS) finalizeXattr(state *State) {
	fs.xattrSet(state.n, state.xattrName, state.xattrBuf)
	state.n.mu.Lock()
	state.n.ctime = time.Now()
	state.n.mu.Unlock()
}
