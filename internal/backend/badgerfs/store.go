// Package badgerfs is a persistent filesystem back-end for the 9P server,
// backed by BadgerDB. Unlike memfs, the tree survives server restarts: node
// metadata, directory structure, file content, and extended attributes all
// live in the database, and qid paths are stable across runs.
//
// Storage model: a key-value schema with namespaced prefixes.
//
//	Data type        Prefix  Key format            Value
//	Node metadata    "n:"    n:<id>                nodeData (JSON)
//	Children         "c:"    c:<parentID>:<name>   child id (8-byte BE)
//	File content     "b:"    b:<id>                raw bytes
//	Xattrs           "x:"    x:<id>:<name>         raw bytes
//
// Node IDs come from a Badger sequence and double as qid paths. The child
// namespace is denormalized (one key per entry) so directory listings are a
// single prefix scan and renames touch only the affected keys.
package badgerfs

import (
	"encoding/binary"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/logger"
	"github.com/l9p/l9p/internal/proto"
)

var _ backend.Backend[*Fid] = (*Store)(nil)

const (
	prefixNode    = "n:"
	prefixChild   = "c:"
	prefixContent = "b:"
	prefixXattr   = "x:"

	rootID uint64 = 1
)

// Options configures a Store.
type Options struct {
	// Dir is the Badger database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the whole database in memory, losing persistence.
	// Used by tests.
	InMemory bool

	// SyncWrites makes every commit durable before returning. Slower;
	// defaults to false, relying on Badger's write-ahead log replay.
	SyncWrites bool
}

// Store is a Badger-backed filesystem sharing one tree across all
// connections that attach to it.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	// treeMu serializes structural mutations (create, remove, rename) so
	// that multi-key updates can't interleave; reads go straight to Badger
	// transactions, which snapshot.
	treeMu sync.Mutex
}

// Open opens (creating if necessary) a Store at opts.Dir and ensures a root
// directory exists.
func Open(opts Options) (*Store, error) {
	dir := opts.Dir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerfs: open: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq:node"), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badgerfs: sequence: %w", err)
	}

	s := &Store{db: db, seq: seq}
	if err := s.ensureRoot(); err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the node-ID sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("badgerfs: releasing sequence: %v", err)
	}
	return s.db.Close()
}

// ensureRoot creates the root directory node on first open. The sequence is
// burned past rootID so freshly allocated IDs never collide with it.
func (s *Store) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(rootID))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("badgerfs: root lookup: %w", err)
		}

		for {
			id, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("badgerfs: root id: %w", err)
			}
			if id >= rootID {
				break
			}
		}

		root := newNodeData(typeDir, 0755, 0, 0)
		root.ID = rootID
		root.Parent = rootID
		root.Nlink = 2
		return txn.Set(nodeKey(rootID), encodeNode(root))
	})
}

// nextID allocates a fresh node ID, skipping any value at or below rootID.
func (s *Store) nextID() (uint64, error) {
	for {
		id, err := s.seq.Next()
		if err != nil {
			return 0, proto.EIO
		}
		if id > rootID {
			return id, nil
		}
	}
}

func nodeKey(id uint64) []byte {
	key := make([]byte, len(prefixNode)+8)
	copy(key, prefixNode)
	binary.BigEndian.PutUint64(key[len(prefixNode):], id)
	return key
}

func childKey(parent uint64, name string) []byte {
	key := make([]byte, 0, len(prefixChild)+8+1+len(name))
	key = append(key, prefixChild...)
	key = binary.BigEndian.AppendUint64(key, parent)
	key = append(key, ':')
	key = append(key, name...)
	return key
}

// childPrefix is the scan prefix covering every child of parent.
func childPrefix(parent uint64) []byte {
	key := make([]byte, 0, len(prefixChild)+8+1)
	key = append(key, prefixChild...)
	key = binary.BigEndian.AppendUint64(key, parent)
	key = append(key, ':')
	return key
}

func contentKey(id uint64) []byte {
	key := make([]byte, len(prefixContent)+8)
	copy(key, prefixContent)
	binary.BigEndian.PutUint64(key[len(prefixContent):], id)
	return key
}

func xattrKey(id uint64, name string) []byte {
	key := make([]byte, 0, len(prefixXattr)+8+1+len(name))
	key = append(key, prefixXattr...)
	key = binary.BigEndian.AppendUint64(key, id)
	key = append(key, ':')
	key = append(key, name...)
	return key
}

func xattrPrefix(id uint64) []byte {
	key := make([]byte, 0, len(prefixXattr)+8+1)
	key = append(key, prefixXattr...)
	key = binary.BigEndian.AppendUint64(key, id)
	key = append(key, ':')
	return key
}

// getNode loads a node inside txn. Missing nodes surface as ESTALE: the fid
// pointed at a node some other operation has since removed.
func getNode(txn *badger.Txn, id uint64) (*nodeData, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, proto.ESTALE
	}
	if err != nil {
		return nil, proto.EIO
	}
	var nd *nodeData
	err = item.Value(func(val []byte) error {
		var derr error
		nd, derr = decodeNode(val)
		return derr
	})
	if err != nil {
		return nil, proto.EIO
	}
	return nd, nil
}

func putNode(txn *badger.Txn, nd *nodeData) error {
	if err := txn.Set(nodeKey(nd.ID), encodeNode(nd)); err != nil {
		return proto.EIO
	}
	return nil
}

// lookupChild resolves name within parent, returning the child's node ID.
func lookupChild(txn *badger.Txn, parent uint64, name string) (uint64, error) {
	item, err := txn.Get(childKey(parent, name))
	if err == badger.ErrKeyNotFound {
		return 0, proto.ENOENT
	}
	if err != nil {
		return 0, proto.EIO
	}
	var id uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("badgerfs: malformed child value")
		}
		id = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return 0, proto.EIO
	}
	return id, nil
}

func setChild(txn *badger.Txn, parent uint64, name string, child uint64) error {
	val := binary.BigEndian.AppendUint64(nil, child)
	if err := txn.Set(childKey(parent, name), val); err != nil {
		return proto.EIO
	}
	return nil
}

func getContent(txn *badger.Txn, id uint64) ([]byte, error) {
	item, err := txn.Get(contentKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, proto.EIO
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, proto.EIO
	}
	return data, nil
}
