// Package backend defines the capability surface a 9P2000.L server core
// dispatches onto. It has no transport or wire-format concerns: the session
// layer translates T-messages into these calls and their results back into
// R-messages.
package backend

import (
	"context"

	"github.com/l9p/l9p/internal/proto"
)

// Backend is the set of filesystem operations a dispatcher calls through.
// S is the back-end's own opaque per-fid state (an open file descriptor, a
// path, a cursor, whatever it needs to remember between a Walk/Attach and
// later operations on the same fid). The dispatcher never inspects S; it
// only stores it in a fid table and hands it back on the next request for
// that fid.
type Backend[S any] interface {
	// Attach returns the root qid and fid-state for a new attach point.
	// uname/aname/nuname mirror Tattach's fields; an empty aname selects
	// the back-end's default tree, and nuname is the numeric uid the
	// client asserts (NONUNAME when only uname is meaningful).
	Attach(ctx context.Context, uname, aname string, nuname uint32) (proto.Qid, S, error)

	// Walk resolves names in sequence starting from state, returning one
	// qid per successfully resolved name. A partial result (fewer qids
	// than names) is not an error: the caller stops at the first name
	// that fails to resolve and reports however many qids were produced.
	// newState is only valid when len(qids) == len(names).
	Walk(ctx context.Context, state S, names []string) (qids []proto.Qid, newState S, err error)

	// Open prepares state for I/O and returns the qid and a suggested
	// I/O unit (0 meaning "no preference").
	Open(ctx context.Context, state S, flags uint32) (proto.Qid, uint32, error)

	// Create makes a new regular file named name in the directory state,
	// opens it, and returns the new fid-state that replaces state's
	// association in the fid table: Tlcreate reassigns the fid to the
	// new file rather than creating a second handle.
	Create(ctx context.Context, state S, name string, flags, mode, gid uint32) (proto.Qid, uint32, S, error)

	// Read returns up to len(p) bytes from offset. Directories are read
	// through Readdir, not Read.
	Read(ctx context.Context, state S, offset uint64, p []byte) (int, error)

	// Write writes p at offset and returns the number of bytes written.
	Write(ctx context.Context, state S, offset uint64, p []byte) (int, error)

	// Readdir returns pre-packed dirent bytes starting at offset, never
	// exceeding count bytes. A back-end that wants "." and ".." entries
	// synthesizes them itself; the dispatcher does not inject them.
	Readdir(ctx context.Context, state S, offset uint64, count uint32) ([]byte, error)

	// GetAttr returns the attributes selected by mask (a Getattr* bitmask).
	GetAttr(ctx context.Context, state S, mask uint64) (proto.Attr, error)

	// SetAttr applies the fields selected by attr.Valid.
	SetAttr(ctx context.Context, state S, attr proto.SetAttr) error

	// Statfs returns filesystem-wide statistics for state's filesystem.
	Statfs(ctx context.Context, state S) (proto.RStatfs, error)

	// Readlink returns the target of the symlink at state.
	Readlink(ctx context.Context, state S) (string, error)

	// Symlink creates a symlink named name in directory state pointing
	// at target, and returns its qid.
	Symlink(ctx context.Context, state S, name, target string, gid uint32) (proto.Qid, error)

	// Link creates a hard link named name in directory dirState pointing
	// at the file identified by targetState.
	Link(ctx context.Context, dirState, targetState S, name string) error

	// Mkdir creates a directory named name in directory state.
	Mkdir(ctx context.Context, state S, name string, mode, gid uint32) (proto.Qid, error)

	// Mknod creates a device, FIFO, or socket node named name in
	// directory state.
	Mknod(ctx context.Context, state S, name string, mode, major, minor, gid uint32) (proto.Qid, error)

	// Rename moves the file named oldname (resolved relative to state's
	// parent) to newname within the same directory; 9P2000.L's Trename
	// operates on the fid's own directory entry, not an explicit source
	// directory.
	Rename(ctx context.Context, state S, newname string) error

	// RenameAt moves oldname in directory oldDirState to newname in
	// directory newDirState, independent of any fid on the moved file
	// itself.
	RenameAt(ctx context.Context, oldDirState, newDirState S, oldname, newname string) error

	// UnlinkAt removes the entry named name from directory state.
	UnlinkAt(ctx context.Context, state S, name string, flags uint32) error

	// Remove removes the file identified by state and implicitly clunks
	// it; Release is still called afterward.
	Remove(ctx context.Context, state S) error

	// Fsync flushes any buffered state for the file identified by state.
	Fsync(ctx context.Context, state S) error

	// Lock attempts to acquire or release a POSIX record lock.
	Lock(ctx context.Context, state S, lock proto.Lock) (status uint8, err error)

	// GetLock reports a conflicting lock, or one with Type set to a
	// value meaning "unlocked" when there is no conflict.
	GetLock(ctx context.Context, state S, query proto.GetLock) (proto.GetLock, error)

	// XattrWalk prepares state for reading the extended attribute named
	// name (or, when name is empty, for listing all extended attribute
	// names) and returns its size.
	XattrWalk(ctx context.Context, state S, name string) (size uint64, newState S, err error)

	// XattrCreate prepares state for writing size bytes to the extended
	// attribute named name.
	XattrCreate(ctx context.Context, state S, name string, size uint64, flags uint32) (S, error)

	// Clunk releases any resources Open/Create associated with state
	// without removing the underlying file.
	Clunk(ctx context.Context, state S) error

	// Release is called once a fid's state has left the fid table,
	// whether by Clunk, Remove, or a forced connection teardown. It must
	// not fail: it is a best-effort cleanup hook, and errors it cannot
	// swallow are its own to log.
	Release(state S)
}

// Auther is implemented by a Backend that supports Tauth. A Backend that
// does not implement Auther causes the dispatcher to reply to Tauth with
// Rlerror{EOPNOTSUPP}, matching 9P2000.L's "auth is optional" semantics.
type Auther[S any] interface {
	Auth(ctx context.Context, uname, aname string, nuname uint32) (proto.Qid, S, error)
}
