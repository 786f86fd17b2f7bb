package proto

import "fmt"

// DecodeBody decodes a T-message body given its type byte. It returns a
// decode error if the body is truncated, and rejects trailing bytes after a
// fully-parsed body.
func DecodeBody(mtype uint8, body []byte) (TMessage, error) {
	c := newDecodeCursor(body)
	msg, err := decodeByType(mtype, c)
	if err != nil {
		return nil, err
	}
	if c.remaining() != 0 {
		return nil, fmt.Errorf("9p: %d trailing bytes after message type %d body", c.remaining(), mtype)
	}
	return msg, nil
}

func decodeByType(mtype uint8, c *decodeCursor) (TMessage, error) {
	switch mtype {
	case Tversion:
		msize, err := c.u32()
		if err != nil {
			return nil, err
		}
		version, err := c.str()
		if err != nil {
			return nil, err
		}
		return TVersion{Msize: msize, Version: version}, nil

	case Tauth:
		afid, err := c.u32()
		if err != nil {
			return nil, err
		}
		uname, err := c.str()
		if err != nil {
			return nil, err
		}
		aname, err := c.str()
		if err != nil {
			return nil, err
		}
		nuname, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TAuth{Afid: afid, Uname: uname, Aname: aname, Nuname: nuname}, nil

	case Tattach:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		afid, err := c.u32()
		if err != nil {
			return nil, err
		}
		uname, err := c.str()
		if err != nil {
			return nil, err
		}
		aname, err := c.str()
		if err != nil {
			return nil, err
		}
		nuname, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TAttach{Fid: fid, Afid: afid, Uname: uname, Aname: aname, Nuname: nuname}, nil

	case Tflush:
		oldtag, err := c.u16()
		if err != nil {
			return nil, err
		}
		return TFlush{Oldtag: oldtag}, nil

	case Twalk:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		newfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		names, err := c.strList()
		if err != nil {
			return nil, err
		}
		return TWalk{Fid: fid, Newfid: newfid, Wnames: names}, nil

	case Tread:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		offset, err := c.u64()
		if err != nil {
			return nil, err
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TRead{Fid: fid, Offset: offset, Count: count}, nil

	case Twrite:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		offset, err := c.u64()
		if err != nil {
			return nil, err
		}
		data, err := c.data()
		if err != nil {
			return nil, err
		}
		return TWrite{Fid: fid, Offset: offset, Data: data}, nil

	case Tclunk:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TClunk{Fid: fid}, nil

	case Tremove:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TRemove{Fid: fid}, nil

	case Tstatfs:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TStatfs{Fid: fid}, nil

	case Tlopen:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		flags, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TLopen{Fid: fid, Flags: flags}, nil

	case Tlcreate:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		flags, err := c.u32()
		if err != nil {
			return nil, err
		}
		mode, err := c.u32()
		if err != nil {
			return nil, err
		}
		gid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TLcreate{Fid: fid, Name: name, Flags: flags, Mode: mode, Gid: gid}, nil

	case Tsymlink:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		symtgt, err := c.str()
		if err != nil {
			return nil, err
		}
		gid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TSymlink{Fid: fid, Name: name, Symtgt: symtgt, Gid: gid}, nil

	case Tmknod:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		mode, err := c.u32()
		if err != nil {
			return nil, err
		}
		major, err := c.u32()
		if err != nil {
			return nil, err
		}
		minor, err := c.u32()
		if err != nil {
			return nil, err
		}
		gid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TMknod{Fid: fid, Name: name, Mode: mode, Major: major, Minor: minor, Gid: gid}, nil

	case Trename:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		dfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		return TRename{Fid: fid, Dfid: dfid, Name: name}, nil

	case Treadlink:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TReadlink{Fid: fid}, nil

	case Tgetattr:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		mask, err := c.u64()
		if err != nil {
			return nil, err
		}
		return TGetattr{Fid: fid, RequestMask: mask}, nil

	case Tsetattr:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		sa, err := decodeSetAttr(c)
		if err != nil {
			return nil, err
		}
		return TSetattr{Fid: fid, Attr: sa}, nil

	case Txattrwalk:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		newfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		return TXattrwalk{Fid: fid, Newfid: newfid, Name: name}, nil

	case Txattrcreate:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		size, err := c.u64()
		if err != nil {
			return nil, err
		}
		flags, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TXattrcreate{Fid: fid, Name: name, Size: size, Flags: flags}, nil

	case Treaddir:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		offset, err := c.u64()
		if err != nil {
			return nil, err
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TReaddir{Fid: fid, Offset: offset, Count: count}, nil

	case Tfsync:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TFsync{Fid: fid}, nil

	case Tlock:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		l, err := decodeLock(c)
		if err != nil {
			return nil, err
		}
		return TLock{Fid: fid, Lock: l}, nil

	case Tgetlock:
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		gl, err := decodeGetLock(c)
		if err != nil {
			return nil, err
		}
		return TGetlock{Fid: fid, GetLock: gl}, nil

	case Tlink:
		dfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		fid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		return TLink{Dfid: dfid, Fid: fid, Name: name}, nil

	case Tmkdir:
		dfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		mode, err := c.u32()
		if err != nil {
			return nil, err
		}
		gid, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TMkdir{Dfid: dfid, Name: name, Mode: mode, Gid: gid}, nil

	case Trenameat:
		olddirfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		oldname, err := c.str()
		if err != nil {
			return nil, err
		}
		newdirfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		newname, err := c.str()
		if err != nil {
			return nil, err
		}
		return TRenameat{Olddirfid: olddirfid, Oldname: oldname, Newdirfid: newdirfid, Newname: newname}, nil

	case Tunlinkat:
		dirfid, err := c.u32()
		if err != nil {
			return nil, err
		}
		name, err := c.str()
		if err != nil {
			return nil, err
		}
		flags, err := c.u32()
		if err != nil {
			return nil, err
		}
		return TUnlinkat{Dirfid: dirfid, Name: name, Flags: flags}, nil

	default:
		return nil, fmt.Errorf("9p: unknown message type %d", mtype)
	}
}

func decodeTime(c *decodeCursor) (Time, error) {
	sec, err := c.u64()
	if err != nil {
		return Time{}, err
	}
	nsec, err := c.u64()
	if err != nil {
		return Time{}, err
	}
	return Time{Sec: sec, Nsec: nsec}, nil
}

func decodeSetAttr(c *decodeCursor) (SetAttr, error) {
	var sa SetAttr
	var err error
	if sa.Valid, err = c.u32(); err != nil {
		return sa, err
	}
	if sa.Mode, err = c.u32(); err != nil {
		return sa, err
	}
	if sa.UID, err = c.u32(); err != nil {
		return sa, err
	}
	if sa.GID, err = c.u32(); err != nil {
		return sa, err
	}
	if sa.Size, err = c.u64(); err != nil {
		return sa, err
	}
	if sa.Atime, err = decodeTime(c); err != nil {
		return sa, err
	}
	if sa.Mtime, err = decodeTime(c); err != nil {
		return sa, err
	}
	return sa, nil
}

func decodeLock(c *decodeCursor) (Lock, error) {
	var l Lock
	var err error
	if l.Type, err = c.u8(); err != nil {
		return l, err
	}
	if l.Flags, err = c.u32(); err != nil {
		return l, err
	}
	if l.Start, err = c.u64(); err != nil {
		return l, err
	}
	if l.Length, err = c.u64(); err != nil {
		return l, err
	}
	if l.ProcID, err = c.u32(); err != nil {
		return l, err
	}
	if l.ClientID, err = c.str(); err != nil {
		return l, err
	}
	return l, nil
}

func decodeGetLock(c *decodeCursor) (GetLock, error) {
	var g GetLock
	var err error
	if g.Type, err = c.u8(); err != nil {
		return g, err
	}
	if g.Start, err = c.u64(); err != nil {
		return g, err
	}
	if g.Length, err = c.u64(); err != nil {
		return g, err
	}
	if g.ProcID, err = c.u32(); err != nil {
		return g, err
	}
	if g.ClientID, err = c.str(); err != nil {
		return g, err
	}
	return g, nil
}
