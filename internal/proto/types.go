package proto

// Qid is the server's unique file identity: a file is the same object iff
// Path matches; Version rolls on content mutation; Type is a bit-set from
// the QT* constants.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// Time is a 9P2000.L timestamp: seconds and nanoseconds since the epoch.
type Time struct {
	Sec  uint64
	Nsec uint64
}

// Attr mirrors the Rgetattr body (the Rgetattr "stat" shape): a valid-mask
// plus the full POSIX stat(2)-shaped attribute set.
type Attr struct {
	Valid       uint64
	Qid         Qid
	Mode        uint32
	UID         uint32
	GID         uint32
	Nlink       uint64
	Rdev        uint64
	Size        uint64
	Blksize     uint64
	Blocks      uint64
	Atime       Time
	Mtime       Time
	Ctime       Time
	Btime       Time
	Gen         uint64
	DataVersion uint64
}

// SetAttr mirrors the Tsetattr body.
type SetAttr struct {
	Valid uint32
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime Time
	Mtime Time
}

// Dirent is one entry of an Rreaddir body.
type Dirent struct {
	Qid    Qid
	Offset uint64
	Type   uint8
	Name   string
}

// Lock mirrors a Tlock request body.
type Lock struct {
	Type     uint8
	Flags    uint32
	Start    uint64
	Length   uint64
	ProcID   uint32
	ClientID string
}

// GetLock mirrors a Tgetlock request/response body.
type GetLock struct {
	Type     uint8
	Start    uint64
	Length   uint64
	ProcID   uint32
	ClientID string
}

// encodedSize returns the number of bytes d occupies on the wire;
// EncodeDirentsFrom uses this to stop before exceeding the requested count without
// encoding and discarding an entry that doesn't fit.
func (d Dirent) encodedSize() int {
	// qid(13) + offset(8) + type(1) + 2-byte string length + name bytes
	return 13 + 8 + 1 + 2 + len(d.Name)
}

func encodeDirents(ents []Dirent, max int) []byte {
	return EncodeDirentsFrom(ents, 0, max)
}

// EncodeDirentsFrom packs ents[from:] into an Rreaddir payload, stopping
// before the packed size would exceed max bytes. Exposed so a back-end can
// page a pre-built dirent list (as memfs does) without re-deriving the
// cursor arithmetic itself.
func EncodeDirentsFrom(ents []Dirent, from, max int) []byte {
	var c encodeCursor
	if from < 0 {
		from = 0
	}
	for _, d := range ents[min(from, len(ents)):] {
		if len(c.buf)+d.encodedSize() > max {
			break
		}
		c.qid(d.Qid)
		c.u64(d.Offset)
		c.u8(d.Type)
		c.str(d.Name)
	}
	return c.buf
}

// DecodeDirents parses a packed Rreaddir payload back into Dirent values.
// Exposed for tests and for back-ends that store directory pages pre-packed.
func DecodeDirents(buf []byte) ([]Dirent, error) {
	c := newDecodeCursor(buf)
	var out []Dirent
	for c.remaining() > 0 {
		q, err := c.qid()
		if err != nil {
			return nil, err
		}
		off, err := c.u64()
		if err != nil {
			return nil, err
		}
		typ, err := c.u8()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		out = append(out, Dirent{Qid: q, Offset: off, Type: typ, Name: name})
	}
	return out, nil
}
