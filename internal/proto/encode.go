package proto

import "fmt"

// EncodeBody encodes an R-message's body, not including the 4-byte size
// prefix, 1-byte type, or 2-byte tag (those are added by EncodeMessage).
func EncodeBody(msg RMessage) ([]byte, error) {
	var c encodeCursor
	switch m := msg.(type) {
	case RVersion:
		c.u32(m.Msize)
		c.str(m.Version)

	case RAuth:
		c.qid(m.Aqid)

	case RAttach:
		c.qid(m.Qid)

	case RLerror:
		c.u32(m.Ecode)

	case RFlush:
		// no body

	case RWalk:
		c.qidList(m.Wqids)

	case RRead:
		c.data(m.Data)

	case RWrite:
		c.u32(m.Count)

	case RClunk:
		// no body

	case RRemove:
		// no body

	case RStatfs:
		c.u32(m.Type)
		c.u32(m.Bsize)
		c.u64(m.Blocks)
		c.u64(m.Bfree)
		c.u64(m.Bavail)
		c.u64(m.Files)
		c.u64(m.Ffree)
		c.u64(m.Fsid)
		c.u32(m.Namelen)

	case RLopen:
		c.qid(m.Qid)
		c.u32(m.Iounit)

	case RLcreate:
		c.qid(m.Qid)
		c.u32(m.Iounit)

	case RSymlink:
		c.qid(m.Qid)

	case RMknod:
		c.qid(m.Qid)

	case RRename:
		// no body

	case RReadlink:
		c.str(m.Target)

	case RGetattr:
		encodeAttr(&c, m.Attr)

	case RSetattr:
		// no body

	case RXattrwalk:
		c.u64(m.Size)

	case RXattrcreate:
		// no body

	case RReaddir:
		c.data(m.Data)

	case RFsync:
		// no body

	case RLock:
		c.u8(m.Status)

	case RGetlock:
		encodeGetLock(&c, m.GetLock)

	case RLink:
		// no body

	case RMkdir:
		c.qid(m.Qid)

	case RRenameat:
		// no body

	case RUnlinkat:
		// no body

	default:
		return nil, fmt.Errorf("9p: unencodable reply type %T", msg)
	}
	return c.buf, nil
}

func encodeTime(c *encodeCursor, t Time) {
	c.u64(t.Sec)
	c.u64(t.Nsec)
}

func encodeAttr(c *encodeCursor, a Attr) {
	c.u64(a.Valid)
	c.qid(a.Qid)
	c.u32(a.Mode)
	c.u32(a.UID)
	c.u32(a.GID)
	c.u64(a.Nlink)
	c.u64(a.Rdev)
	c.u64(a.Size)
	c.u64(a.Blksize)
	c.u64(a.Blocks)
	encodeTime(c, a.Atime)
	encodeTime(c, a.Mtime)
	encodeTime(c, a.Ctime)
	encodeTime(c, a.Btime)
	c.u64(a.Gen)
	c.u64(a.DataVersion)
}

func encodeGetLock(c *encodeCursor, g GetLock) {
	c.u8(g.Type)
	c.u64(g.Start)
	c.u64(g.Length)
	c.u32(g.ProcID)
	c.str(g.ClientID)
}
