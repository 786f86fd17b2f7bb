package badgerfs

import (
	"bytes"
	"context"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/l9p/l9p/internal/proto"
)

// XattrWalk implements backend.Backend. An empty name lists all attribute
// names NUL-separated; a non-empty name snapshots that attribute's value
// into the new fid for subsequent Tread calls.
func (s *Store) XattrWalk(ctx context.Context, fid *Fid, name string) (uint64, *Fid, error) {
	var buf []byte
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getNode(txn, fid.id); err != nil {
			return err
		}
		if name == "" {
			var names []string
			prefix := xattrPrefix(fid.id)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				names = append(names, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
			}
			sort.Strings(names)
			if len(names) > 0 {
				buf = []byte(strings.Join(names, "\x00") + "\x00")
			}
			return nil
		}

		item, err := txn.Get(xattrKey(fid.id, name))
		if err == badger.ErrKeyNotFound {
			return proto.ENODATA
		}
		if err != nil {
			return proto.EIO
		}
		buf, err = item.ValueCopy(nil)
		if err != nil {
			return proto.EIO
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return uint64(len(buf)), &Fid{store: s, id: fid.id, xattrName: name, xattrBuf: buf}, nil
}

// XattrCreate implements backend.Backend: the fid becomes a write cursor
// whose accumulated bytes are persisted as the attribute value on Clunk.
func (s *Store) XattrCreate(ctx context.Context, fid *Fid, name string, size uint64, flags uint32) (*Fid, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getNode(txn, fid.id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Fid{
		store:      s,
		id:         fid.id,
		xattrName:  name,
		xattrBuf:   make([]byte, 0, size),
		xattrWrite: true,
	}, nil
}

// xattrRead serves Tread on a fid produced by XattrWalk. handled is false
// when the fid is an ordinary file handle.
func (f *Fid) xattrRead(offset uint64, p []byte) (int, bool, error) {
	if f.xattrBuf == nil || f.xattrWrite {
		return 0, false, nil
	}
	if offset >= uint64(len(f.xattrBuf)) {
		return 0, true, nil
	}
	return copy(p, f.xattrBuf[offset:]), true, nil
}

// xattrWriteAt serves Twrite on a fid produced by XattrCreate.
func (f *Fid) xattrWriteAt(offset uint64, p []byte) (int, bool, error) {
	if !f.xattrWrite {
		return 0, false, nil
	}
	f.xattrMu.Lock()
	defer f.xattrMu.Unlock()
	end := offset + uint64(len(p))
	if end > uint64(len(f.xattrBuf)) {
		grown := make([]byte, end)
		copy(grown, f.xattrBuf)
		f.xattrBuf = grown
	}
	return copy(f.xattrBuf[offset:], p), true, nil
}

// finalizeXattr persists a pending xattr write, called from Clunk.
func (f *Fid) finalizeXattr() error {
	if !f.xattrWrite {
		return nil
	}
	f.xattrMu.Lock()
	value := f.xattrBuf
	f.xattrMu.Unlock()

	err := f.store.db.Update(func(txn *badger.Txn) error {
		nd, err := getNode(txn, f.id)
		if err != nil {
			return err
		}
		if err := txn.Set(xattrKey(f.id, f.xattrName), value); err != nil {
			return proto.EIO
		}
		nd.touchCtime()
		return putNode(txn, nd)
	})
	return err
}
