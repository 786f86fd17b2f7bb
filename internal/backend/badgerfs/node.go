package badgerfs

import (
	"encoding/json"
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
)

// nodeData is the JSON-serialized metadata of one filesystem object. JSON
// keeps the database debuggable with badger's CLI tooling; content and
// child mappings stay binary since their shapes never evolve.
type nodeData struct {
	ID      uint64   `json:"id"`
	Type    nodeType `json:"type"`
	Version uint32   `json:"version"`

	Mode  uint32 `json:"mode"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	Nlink uint64 `json:"nlink"`
	Rdev  uint64 `json:"rdev,omitempty"`
	Size  uint64 `json:"size"`

	AtimeSec  int64 `json:"atime_sec"`
	AtimeNsec int64 `json:"atime_nsec"`
	MtimeSec  int64 `json:"mtime_sec"`
	MtimeNsec int64 `json:"mtime_nsec"`
	CtimeSec  int64 `json:"ctime_sec"`
	CtimeNsec int64 `json:"ctime_nsec"`

	Target string `json:"target,omitempty"`

	// Parent and Name locate this node's directory entry so Trename and
	// Tremove can operate on a fid alone. For the root, Parent == ID.
	Parent uint64 `json:"parent"`
	Name   string `json:"name,omitempty"`
}

func newNodeData(typ nodeType, mode, uid, gid uint32) *nodeData {
	now := time.Now()
	return &nodeData{
		Type:      typ,
		Mode:      mode,
		UID:       uid,
		GID:       gid,
		Nlink:     1,
		AtimeSec:  now.Unix(),
		AtimeNsec: int64(now.Nanosecond()),
		MtimeSec:  now.Unix(),
		MtimeNsec: int64(now.Nanosecond()),
		CtimeSec:  now.Unix(),
		CtimeNsec: int64(now.Nanosecond()),
	}
}

func encodeNode(nd *nodeData) []byte {
	buf, err := json.Marshal(nd)
	if err != nil {
		// nodeData contains only marshalable fields.
		panic(err)
	}
	return buf
}

func decodeNode(buf []byte) (*nodeData, error) {
	var nd nodeData
	if err := json.Unmarshal(buf, &nd); err != nil {
		return nil, err
	}
	return &nd, nil
}

func (nd *nodeData) qidType() uint8 {
	switch nd.Type {
	case typeDir:
		return proto.QTDIR
	case typeSymlink:
		return proto.QTSYMLINK
	default:
		return proto.QTFILE
	}
}

func (nd *nodeData) qid() proto.Qid {
	return proto.Qid{Type: nd.qidType(), Version: nd.Version, Path: nd.ID}
}

func (nd *nodeData) touchMtime() {
	now := time.Now()
	nd.MtimeSec, nd.MtimeNsec = now.Unix(), int64(now.Nanosecond())
	nd.CtimeSec, nd.CtimeNsec = now.Unix(), int64(now.Nanosecond())
}

func (nd *nodeData) touchCtime() {
	now := time.Now()
	nd.CtimeSec, nd.CtimeNsec = now.Unix(), int64(now.Nanosecond())
}

func (nd *nodeData) attr(mask uint64) proto.Attr {
	return proto.Attr{
		Valid:   mask,
		Qid:     nd.qid(),
		Mode:    nd.Mode,
		UID:     nd.UID,
		GID:     nd.GID,
		Nlink:   nd.Nlink,
		Rdev:    nd.Rdev,
		Size:    nd.Size,
		Blksize: 4096,
		Blocks:  (nd.Size + 511) / 512,
		Atime:   proto.Time{Sec: uint64(nd.AtimeSec), Nsec: uint64(nd.AtimeNsec)},
		Mtime:   proto.Time{Sec: uint64(nd.MtimeSec), Nsec: uint64(nd.MtimeNsec)},
		Ctime:   proto.Time{Sec: uint64(nd.CtimeSec), Nsec: uint64(nd.CtimeNsec)},
		Btime:   proto.Time{Sec: uint64(nd.CtimeSec), Nsec: uint64(nd.CtimeNsec)},
	}
}

// Fid is the per-fid state badgerfs hands to the dispatcher's fid table:
// the node ID the fid points at plus any pending xattr cursor. The ID is
// all that persists; everything else is per-open transient state.
type Fid struct {
	store *Store
	id    uint64
	flags uint32

	xattrName  string
	xattrBuf   []byte
	xattrWrite bool
	xattrMu    sync.Mutex
}
