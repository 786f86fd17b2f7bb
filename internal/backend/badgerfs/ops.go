package badgerfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/l9p/l9p/internal/proto"
)

// Attach implements backend.Backend. aname and nuname are accepted but not
// interpreted: a Store exposes a single tree and does no access control.
func (s *Store) Attach(ctx context.Context, uname, aname string, nuname uint32) (proto.Qid, *Fid, error) {
	var qid proto.Qid
	err := s.db.View(func(txn *badger.Txn) error {
		nd, err := getNode(txn, rootID)
		if err != nil {
			return err
		}
		qid = nd.qid()
		return nil
	})
	if err != nil {
		return proto.Qid{}, nil, err
	}
	return qid, &Fid{store: s, id: rootID}, nil
}

// Walk implements backend.Backend.
func (s *Store) Walk(ctx context.Context, fid *Fid, names []string) ([]proto.Qid, *Fid, error) {
	qids := make([]proto.Qid, 0, len(names))
	cur := fid.id

	err := s.db.View(func(txn *badger.Txn) error {
		for _, name := range names {
			nd, err := getNode(txn, cur)
			if err != nil {
				return err
			}
			if nd.Type != typeDir {
				if len(qids) > 0 {
					return nil
				}
				return proto.ENOTDIR
			}

			var next uint64
			switch name {
			case ".":
				next = cur
			case "..":
				next = nd.Parent
			default:
				next, err = lookupChild(txn, cur, name)
				if err != nil {
					if len(qids) > 0 && err == proto.ENOENT {
						return nil
					}
					return err
				}
			}

			child, err := getNode(txn, next)
			if err != nil {
				return err
			}
			cur = next
			qids = append(qids, child.qid())
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(qids) < len(names) {
		return qids, nil, nil
	}
	return qids, &Fid{store: s, id: cur}, nil
}

// Open implements backend.Backend.
func (s *Store) Open(ctx context.Context, fid *Fid, flags uint32) (proto.Qid, uint32, error) {
	var qid proto.Qid
	err := s.db.Update(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.Type == typeDir && flags&(proto.OWRONLY|proto.ORDWR) != 0 {
			return proto.EISDIR
		}
		if flags&proto.OTRUNC != 0 && nd.Type == typeFile && nd.Size > 0 {
			if err := txn.Delete(contentKey(fid.id)); err != nil {
				return proto.EIO
			}
			nd.Size = 0
			nd.Version++
			nd.touchMtime()
			if err := putNode(txn, nd); err != nil {
				return err
			}
		}
		qid = nd.qid()
		return nil
	})
	if err != nil {
		return proto.Qid{}, 0, err
	}
	fid.flags = flags
	return qid, 0, nil
}

// createNode inserts a new child of parentID, shared by Create, Mkdir,
// Symlink, and Mknod. The caller holds treeMu.
func (s *Store) createNode(parentID uint64, name string, nd *nodeData) (proto.Qid, error) {
	id, err := s.nextID()
	if err != nil {
		return proto.Qid{}, err
	}
	nd.ID = id
	nd.Parent = parentID
	nd.Name = name

	err = s.db.Update(func(txn *badger.Txn) error {
		parent, err := getNode(txn, parentID)
		if err != nil {
			return err
		}
		if parent.Type != typeDir {
			return proto.ENOTDIR
		}
		if _, err := lookupChild(txn, parentID, name); err == nil {
			return proto.EEXIST
		} else if err != proto.ENOENT {
			return err
		}

		if err := putNode(txn, nd); err != nil {
			return err
		}
		if err := setChild(txn, parentID, name, id); err != nil {
			return err
		}
		if nd.Type == typeDir {
			parent.Nlink++
		}
		parent.touchMtime()
		return putNode(txn, parent)
	})
	if err != nil {
		return proto.Qid{}, err
	}
	return nd.qid(), nil
}

// Create implements backend.Backend.
func (s *Store) Create(ctx context.Context, fid *Fid, name string, flags, mode, gid uint32) (proto.Qid, uint32, *Fid, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	nd := newNodeData(typeFile, mode, 0, gid)
	qid, err := s.createNode(fid.id, name, nd)
	if err != nil {
		return proto.Qid{}, 0, nil, err
	}
	return qid, 0, &Fid{store: s, id: nd.ID, flags: flags}, nil
}

// Read implements backend.Backend. Cancellation is observed at entry,
// before the database transaction begins.
func (s *Store) Read(ctx context.Context, fid *Fid, offset uint64, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if n, handled, err := fid.xattrRead(offset, p); handled {
		return n, err
	}

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.Type == typeDir {
			return proto.EISDIR
		}
		data, err := getContent(txn, fid.id)
		if err != nil {
			return err
		}
		if offset >= uint64(len(data)) {
			return nil
		}
		n = copy(p, data[offset:])
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write implements backend.Backend.
func (s *Store) Write(ctx context.Context, fid *Fid, offset uint64, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if n, handled, err := fid.xattrWriteAt(offset, p); handled {
		return n, err
	}

	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.Type == typeDir {
			return proto.EISDIR
		}
		data, err := getContent(txn, fid.id)
		if err != nil {
			return err
		}
		end := offset + uint64(len(p))
		if end > uint64(len(data)) {
			grown := make([]byte, end)
			copy(grown, data)
			data = grown
		}
		n = copy(data[offset:], p)
		if err := txn.Set(contentKey(fid.id), data); err != nil {
			return proto.EIO
		}
		nd.Size = uint64(len(data))
		nd.Version++
		nd.touchMtime()
		return putNode(txn, nd)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Readdir implements backend.Backend. Entries are collected from a child-
// prefix scan, sorted by name for a stable order, with "." and ".."
// synthesized up front; the continuation offset is the entry's index plus
// one, mirroring memfs.
func (s *Store) Readdir(ctx context.Context, fid *Fid, offset uint64, count uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ents []proto.Dirent
	err := s.db.View(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.Type != typeDir {
			return proto.ENOTDIR
		}
		parent, err := getNode(txn, nd.Parent)
		if err != nil {
			return err
		}
		ents = append(ents,
			proto.Dirent{Qid: nd.qid(), Type: nd.qidType(), Name: "."},
			proto.Dirent{Qid: parent.qid(), Type: parent.qidType(), Name: ".."},
		)

		prefix := childPrefix(fid.id)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		type entry struct {
			name string
			id   uint64
		}
		var children []entry
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), prefix))
			var id uint64
			if err := item.Value(func(val []byte) error {
				id = decodeChildID(val)
				return nil
			}); err != nil {
				return proto.EIO
			}
			children = append(children, entry{name: name, id: id})
		}
		sort.Slice(children, func(i, j int) bool { return children[i].name < children[j].name })

		for _, c := range children {
			child, err := getNode(txn, c.id)
			if err != nil {
				return err
			}
			ents = append(ents, proto.Dirent{Qid: child.qid(), Type: child.qidType(), Name: c.name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range ents {
		ents[i].Offset = uint64(i) + 1
	}
	if offset >= uint64(len(ents)) {
		return nil, nil
	}
	return proto.EncodeDirentsFrom(ents, int(offset), int(count)), nil
}

// GetAttr implements backend.Backend.
func (s *Store) GetAttr(ctx context.Context, fid *Fid, mask uint64) (proto.Attr, error) {
	var attr proto.Attr
	err := s.db.View(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		attr = nd.attr(mask)
		return nil
	})
	if err != nil {
		return proto.Attr{}, err
	}
	return attr, nil
}

// SetAttr implements backend.Backend.
func (s *Store) SetAttr(ctx context.Context, fid *Fid, attr proto.SetAttr) error {
	return s.db.Update(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if attr.Valid&proto.SetattrMode != 0 {
			nd.Mode = attr.Mode
		}
		if attr.Valid&proto.SetattrUID != 0 {
			nd.UID = attr.UID
		}
		if attr.Valid&proto.SetattrGID != 0 {
			nd.GID = attr.GID
		}
		if attr.Valid&proto.SetattrSize != 0 {
			data, err := getContent(txn, fid.id)
			if err != nil {
				return err
			}
			if attr.Size != uint64(len(data)) {
				if attr.Size < uint64(len(data)) {
					data = data[:attr.Size]
				} else {
					grown := make([]byte, attr.Size)
					copy(grown, data)
					data = grown
				}
				if err := txn.Set(contentKey(fid.id), data); err != nil {
					return proto.EIO
				}
				nd.Size = attr.Size
				nd.Version++
			}
		}
		if attr.Valid&proto.SetattrAtime != 0 {
			if attr.Valid&proto.SetattrAtimeSet != 0 {
				nd.AtimeSec, nd.AtimeNsec = int64(attr.Atime.Sec), int64(attr.Atime.Nsec)
			} else {
				nd.touchCtime()
				nd.AtimeSec, nd.AtimeNsec = nd.CtimeSec, nd.CtimeNsec
			}
		}
		if attr.Valid&proto.SetattrMtime != 0 {
			if attr.Valid&proto.SetattrMtimeSet != 0 {
				nd.MtimeSec, nd.MtimeNsec = int64(attr.Mtime.Sec), int64(attr.Mtime.Nsec)
			} else {
				nd.touchMtime()
			}
		}
		nd.touchCtime()
		return putNode(txn, nd)
	})
}

// Statfs implements backend.Backend. Badger has no fixed capacity, so the
// free counts are a fixed, effectively unlimited 2^30 blocks, and the total
// adds the blocks the database currently occupies on top of that.
func (s *Store) Statfs(ctx context.Context, fid *Fid) (proto.RStatfs, error) {
	lsm, vlog := s.db.Size()
	used := uint64(lsm+vlog) / 4096
	return proto.RStatfs{
		Type:    0x01021997,
		Bsize:   4096,
		Blocks:  1<<30 + used,
		Bfree:   1 << 30,
		Bavail:  1 << 30,
		Files:   1 << 20,
		Ffree:   1 << 20,
		Namelen: 255,
	}, nil
}

// Readlink implements backend.Backend.
func (s *Store) Readlink(ctx context.Context, fid *Fid) (string, error) {
	var target string
	err := s.db.View(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.Type != typeSymlink {
			return proto.EINVAL
		}
		target = nd.Target
		return nil
	})
	return target, err
}

// Symlink implements backend.Backend.
func (s *Store) Symlink(ctx context.Context, fid *Fid, name, target string, gid uint32) (proto.Qid, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	nd := newNodeData(typeSymlink, 0777, 0, gid)
	nd.Target = target
	nd.Size = uint64(len(target))
	return s.createNode(fid.id, name, nd)
}

// Link implements backend.Backend.
func (s *Store) Link(ctx context.Context, dirFid, targetFid *Fid, name string) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		dir, err := getNode(txn, dirFid.id)
		if err != nil {
			return err
		}
		if dir.Type != typeDir {
			return proto.ENOTDIR
		}
		target, err := getNode(txn, targetFid.id)
		if err != nil {
			return err
		}
		if target.Type == typeDir {
			return proto.EPERM
		}
		if _, err := lookupChild(txn, dirFid.id, name); err == nil {
			return proto.EEXIST
		} else if err != proto.ENOENT {
			return err
		}

		if err := setChild(txn, dirFid.id, name, targetFid.id); err != nil {
			return err
		}
		target.Nlink++
		target.touchCtime()
		if err := putNode(txn, target); err != nil {
			return err
		}
		dir.touchMtime()
		return putNode(txn, dir)
	})
}

// Mkdir implements backend.Backend.
func (s *Store) Mkdir(ctx context.Context, fid *Fid, name string, mode, gid uint32) (proto.Qid, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	nd := newNodeData(typeDir, mode, 0, gid)
	nd.Nlink = 2
	return s.createNode(fid.id, name, nd)
}

// Mknod implements backend.Backend.
func (s *Store) Mknod(ctx context.Context, fid *Fid, name string, mode, major, minor, gid uint32) (proto.Qid, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	nd := newNodeData(typeDevice, mode, 0, gid)
	nd.Rdev = uint64(major)<<32 | uint64(minor)
	return s.createNode(fid.id, name, nd)
}

// Rename implements backend.Backend: it moves fid's own directory entry to
// newname within its current parent.
func (s *Store) Rename(ctx context.Context, fid *Fid, newname string) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.ID == rootID {
			return proto.EINVAL
		}
		if _, err := lookupChild(txn, nd.Parent, newname); err == nil {
			return proto.EEXIST
		} else if err != proto.ENOENT {
			return err
		}

		if err := txn.Delete(childKey(nd.Parent, nd.Name)); err != nil {
			return proto.EIO
		}
		if err := setChild(txn, nd.Parent, newname, nd.ID); err != nil {
			return err
		}
		nd.Name = newname
		nd.touchCtime()
		return putNode(txn, nd)
	})
}

// RenameAt implements backend.Backend.
func (s *Store) RenameAt(ctx context.Context, oldDirFid, newDirFid *Fid, oldname, newname string) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		oldDir, err := getNode(txn, oldDirFid.id)
		if err != nil {
			return err
		}
		newDir, err := getNode(txn, newDirFid.id)
		if err != nil {
			return err
		}
		if oldDir.Type != typeDir || newDir.Type != typeDir {
			return proto.ENOTDIR
		}

		childID, err := lookupChild(txn, oldDirFid.id, oldname)
		if err != nil {
			return err
		}
		child, err := getNode(txn, childID)
		if err != nil {
			return err
		}

		if err := txn.Delete(childKey(oldDirFid.id, oldname)); err != nil {
			return proto.EIO
		}
		if err := setChild(txn, newDirFid.id, newname, childID); err != nil {
			return err
		}
		child.Parent = newDirFid.id
		child.Name = newname
		child.touchCtime()
		if err := putNode(txn, child); err != nil {
			return err
		}

		oldDir.touchMtime()
		if err := putNode(txn, oldDir); err != nil {
			return err
		}
		if newDirFid.id != oldDirFid.id {
			newDir.touchMtime()
			return putNode(txn, newDir)
		}
		return nil
	})
}

// unlink removes the entry name from directory dirID, deleting the node's
// storage once its link count reaches zero. The caller holds treeMu.
func (s *Store) unlink(dirID uint64, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		dir, err := getNode(txn, dirID)
		if err != nil {
			return err
		}
		if dir.Type != typeDir {
			return proto.ENOTDIR
		}
		childID, err := lookupChild(txn, dirID, name)
		if err != nil {
			return err
		}
		child, err := getNode(txn, childID)
		if err != nil {
			return err
		}

		if child.Type == typeDir {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = childPrefix(childID)
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			it.Rewind()
			empty := !it.Valid()
			it.Close()
			if !empty {
				return proto.ENOTEMPTY
			}
		}

		if err := txn.Delete(childKey(dirID, name)); err != nil {
			return proto.EIO
		}

		if child.Nlink > 0 {
			child.Nlink--
		}
		if child.Type == typeDir {
			if dir.Nlink > 2 {
				dir.Nlink--
			}
			child.Nlink = 0
		}
		if child.Nlink == 0 {
			if err := txn.Delete(nodeKey(childID)); err != nil {
				return proto.EIO
			}
			if err := txn.Delete(contentKey(childID)); err != nil {
				return proto.EIO
			}
		} else {
			child.touchCtime()
			if err := putNode(txn, child); err != nil {
				return err
			}
		}

		dir.touchMtime()
		return putNode(txn, dir)
	})
}

// UnlinkAt implements backend.Backend.
func (s *Store) UnlinkAt(ctx context.Context, fid *Fid, name string, flags uint32) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.unlink(fid.id, name)
}

// Remove implements backend.Backend: it removes fid's own directory entry.
func (s *Store) Remove(ctx context.Context, fid *Fid) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	var parent uint64
	var name string
	err := s.db.View(func(txn *badger.Txn) error {
		nd, err := getNode(txn, fid.id)
		if err != nil {
			return err
		}
		if nd.ID == rootID {
			return proto.EPERM
		}
		parent, name = nd.Parent, nd.Name
		return nil
	})
	if err != nil {
		return err
	}
	return s.unlink(parent, name)
}

// Fsync implements backend.Backend by forcing the write-ahead log to disk.
func (s *Store) Fsync(ctx context.Context, fid *Fid) error {
	if err := s.db.Sync(); err != nil {
		return proto.EIO
	}
	return nil
}

// Lock implements backend.Backend as an always-granted advisory lock,
// matching memfs: byte-range lock state is not tracked across fids.
func (s *Store) Lock(ctx context.Context, fid *Fid, lock proto.Lock) (uint8, error) {
	return proto.LockSuccess, nil
}

// GetLock implements backend.Backend, always reporting no conflict.
func (s *Store) GetLock(ctx context.Context, fid *Fid, query proto.GetLock) (proto.GetLock, error) {
	result := query
	result.Type = proto.LockTypeUnlck
	return result, nil
}

// Clunk implements backend.Backend, persisting any pending xattr write.
func (s *Store) Clunk(ctx context.Context, fid *Fid) error {
	return fid.finalizeXattr()
}

// Release implements backend.Backend. Badger transactions are all
// short-lived, so a Fid holds no database resources of its own.
func (s *Store) Release(fid *Fid) {
}

func decodeChildID(val []byte) uint64 {
	if len(val) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(val)
}
