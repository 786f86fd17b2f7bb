package memfs

import (
	"sync"
	"time"

	"github.com/l9p/l9p/internal/proto"
)

type nodeType uint8

const (
	typeFile nodeType = iota
	typeDir
	typeSymlink
	typeDevice
	typeSocket
	typeFIFO
)

// node is one filesystem object. Its content, attributes, and (for a
// directory) its children map are protected by its own RWMutex, so that
// concurrent reads of one file never wait on writes to another; the owning
// FS's mu only guards qid path allocation.
type node struct {
	mu sync.RWMutex

	path    uint64 // qid.Path, stable for the node's lifetime
	version uint32 // qid.Version, bumped on content mutation
	typ     nodeType

	mode  uint32
	uid   uint32
	gid   uint32
	nlink uint64
	rdev  uint64

	atime, mtime, ctime time.Time

	data        []byte // regular files
	target      string // symlinks
	children    map[string]*node
	parent      *node
	name        string // this node's name within parent.children
	xattrs      map[string][]byte
}

func (n *node) qidType() uint8 {
	switch n.typ {
	case typeDir:
		return proto.QTDIR
	case typeSymlink:
		return proto.QTSYMLINK
	default:
		return proto.QTFILE
	}
}

func (n *node) qid() proto.Qid {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return proto.Qid{Type: n.qidType(), Version: n.version, Path: n.path}
}

func toTime(t time.Time) proto.Time {
	return proto.Time{Sec: uint64(t.Unix()), Nsec: uint64(t.Nanosecond())}
}

func fromTime(t proto.Time) time.Time {
	return time.Unix(int64(t.Sec), int64(t.Nsec))
}
