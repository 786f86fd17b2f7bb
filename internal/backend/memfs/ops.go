package memfs

import (
	"context"
	"sort"
	"time"

	"github.com/l9p/l9p/internal/proto"
)

// Open implements backend.Backend.
func (fs *FS) Open(ctx context.Context, state *State, flags uint32) (proto.Qid, uint32, error) {
	state.n.mu.Lock()
	if state.n.typ == typeDir && flags&(proto.OWRONLY|proto.ORDWR) != 0 {
		state.n.mu.Unlock()
		return proto.Qid{}, 0, proto.EISDIR
	}
	if flags&proto.OTRUNC != 0 && state.n.typ == typeFile {
		state.n.data = nil
		state.n.version++
		state.n.mtime = time.Now()
	}
	state.n.mu.Unlock()
	state.flags = flags
	return state.n.qid(), 0, nil
}

// Create implements backend.Backend.
func (fs *FS) Create(ctx context.Context, state *State, name string, flags, mode, gid uint32) (proto.Qid, uint32, *State, error) {
	if !isDir(state.n) {
		return proto.Qid{}, 0, nil, proto.ENOTDIR
	}
	state.n.mu.Lock()
	defer state.n.mu.Unlock()

	if _, exists := state.n.children[name]; exists {
		return proto.Qid{}, 0, nil, proto.EEXIST
	}

	now := time.Now()
	child := &node{
		path:   fs.allocPath(),
		typ:    typeFile,
		mode:   mode,
		gid:    gid,
		nlink:  1,
		parent: state.n,
		name:   name,
		atime:  now,
		mtime:  now,
		ctime:  now,
		xattrs: make(map[string][]byte),
	}
	state.n.children[name] = child
	state.n.mtime = now
	state.n.ctime = now

	return child.qid(), 0, &State{fs: fs, n: child, flags: flags}, nil
}

// Read implements backend.Backend. Cancellation is observed at entry, the
// only suspension-free point an in-memory read has.
func (fs *FS) Read(ctx context.Context, state *State, offset uint64, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if state.xattrBuf != nil && !state.xattrWrite {
		if offset >= uint64(len(state.xattrBuf)) {
			return 0, nil
		}
		return copy(p, state.xattrBuf[offset:]), nil
	}

	state.n.mu.RLock()
	defer state.n.mu.RUnlock()

	if state.n.typ == typeDir {
		return 0, proto.EISDIR
	}
	if offset >= uint64(len(state.n.data)) {
		return 0, nil
	}
	return copy(p, state.n.data[offset:]), nil
}

// Write implements backend.Backend.
func (fs *FS) Write(ctx context.Context, state *State, offset uint64, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if state.xattrWrite {
		end := offset + uint64(len(p))
		if end > uint64(len(state.xattrBuf)) {
			grown := make([]byte, end)
			copy(grown, state.xattrBuf)
			state.xattrBuf = grown
		}
		return copy(state.xattrBuf[offset:], p), nil
	}

	state.n.mu.Lock()
	defer state.n.mu.Unlock()

	if state.n.typ == typeDir {
		return 0, proto.EISDIR
	}
	end := offset + uint64(len(p))
	if end > uint64(len(state.n.data)) {
		grown := make([]byte, end)
		copy(grown, state.n.data)
		state.n.data = grown
	}
	n := copy(state.n.data[offset:], p)
	state.n.version++
	state.n.mtime = time.Now()
	return n, nil
}

// Readdir implements backend.Backend. It synthesizes "." and ".." entries
// itself: the dispatcher never injects directory-entry layout of any kind.
// Children follow them sorted by name, so the continuation offset (the
// entry's index plus one) names the same entry from one call to the next.
func (fs *FS) Readdir(ctx context.Context, state *State, offset uint64, count uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isDir(state.n) {
		return nil, proto.ENOTDIR
	}

	state.n.mu.RLock()
	ents := make([]proto.Dirent, 0, len(state.n.children)+2)
	ents = append(ents, proto.Dirent{Qid: state.n.qid(), Type: state.n.qidType(), Name: "."})
	parent := state.n.parent
	if parent == nil {
		parent = state.n
	}
	ents = append(ents, proto.Dirent{Qid: parent.qid(), Type: parent.qidType(), Name: ".."})
	for name, child := range state.n.children {
		ents = append(ents, proto.Dirent{Qid: child.qid(), Type: child.qidType(), Name: name})
	}
	state.n.mu.RUnlock()
	children := ents[2:]
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

	for i := range ents {
		ents[i].Offset = uint64(i) + 1
	}
	if offset >= uint64(len(ents)) {
		return nil, nil
	}

	return proto.EncodeDirentsFrom(ents, int(offset), int(count)), nil
}

func attrFromNode(n *node, mask uint64) proto.Attr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return proto.Attr{
		Valid:   mask,
		Qid:     proto.Qid{Type: n.qidType(), Version: n.version, Path: n.path},
		Mode:    n.mode,
		UID:     n.uid,
		GID:     n.gid,
		Nlink:   n.nlink,
		Rdev:    n.rdev,
		Size:    uint64(len(n.data)),
		Blksize: 4096,
		Blocks:  (uint64(len(n.data)) + 511) / 512,
		Atime:   toTime(n.atime),
		Mtime:   toTime(n.mtime),
		Ctime:   toTime(n.ctime),
		Btime:   toTime(n.ctime),
	}
}

// GetAttr implements backend.Backend.
func (fs *FS) GetAttr(ctx context.Context, state *State, mask uint64) (proto.Attr, error) {
	return attrFromNode(state.n, mask), nil
}

// SetAttr implements backend.Backend.
func (fs *FS) SetAttr(ctx context.Context, state *State, attr proto.SetAttr) error {
	state.n.mu.Lock()
	defer state.n.mu.Unlock()

	if attr.Valid&proto.SetattrMode != 0 {
		state.n.mode = attr.Mode
	}
	if attr.Valid&proto.SetattrUID != 0 {
		state.n.uid = attr.UID
	}
	if attr.Valid&proto.SetattrGID != 0 {
		state.n.gid = attr.GID
	}
	if attr.Valid&proto.SetattrSize != 0 {
		if attr.Size < uint64(len(state.n.data)) {
			state.n.data = state.n.data[:attr.Size]
		} else if attr.Size > uint64(len(state.n.data)) {
			grown := make([]byte, attr.Size)
			copy(grown, state.n.data)
			state.n.data = grown
		}
		state.n.version++
	}
	if attr.Valid&proto.SetattrAtime != 0 {
		if attr.Valid&proto.SetattrAtimeSet != 0 {
			state.n.atime = fromTime(attr.Atime)
		} else {
			state.n.atime = time.Now()
		}
	}
	if attr.Valid&proto.SetattrMtime != 0 {
		if attr.Valid&proto.SetattrMtimeSet != 0 {
			state.n.mtime = fromTime(attr.Mtime)
		} else {
			state.n.mtime = time.Now()
		}
	}
	state.n.ctime = time.Now()
	return nil
}

// Statfs implements backend.Backend.
func (fs *FS) Statfs(ctx context.Context, state *State) (proto.RStatfs, error) {
	return proto.RStatfs{
		Type:    0x01021997, // V9FS_MAGIC, the Linux 9p filesystem magic
		Bsize:   4096,
		Blocks:  1 << 20,
		Bfree:   1 << 19,
		Bavail:  1 << 19,
		Files:   1 << 16,
		Ffree:   1 << 15,
		Namelen: 255,
	}, nil
}

// Readlink implements backend.Backend.
func (fs *FS) Readlink(ctx context.Context, state *State) (string, error) {
	state.n.mu.RLock()
	defer state.n.mu.RUnlock()
	if state.n.typ != typeSymlink {
		return "", proto.EINVAL
	}
	return state.n.target, nil
}

// Symlink implements backend.Backend.
func (fs *FS) Symlink(ctx context.Context, state *State, name, target string, gid uint32) (proto.Qid, error) {
	if !isDir(state.n) {
		return proto.Qid{}, proto.ENOTDIR
	}
	state.n.mu.Lock()
	defer state.n.mu.Unlock()
	if _, exists := state.n.children[name]; exists {
		return proto.Qid{}, proto.EEXIST
	}
	now := time.Now()
	child := &node{
		path:   fs.allocPath(),
		typ:    typeSymlink,
		mode:   0777,
		gid:    gid,
		nlink:  1,
		parent: state.n,
		name:   name,
		target: target,
		atime:  now,
		mtime:  now,
		ctime:  now,
		xattrs: make(map[string][]byte),
	}
	state.n.children[name] = child
	state.n.mtime = now
	return child.qid(), nil
}

// Link implements backend.Backend.
func (fs *FS) Link(ctx context.Context, dirState, targetState *State, name string) error {
	if !isDir(dirState.n) {
		return proto.ENOTDIR
	}
	if isDir(targetState.n) {
		return proto.EPERM
	}
	dirState.n.mu.Lock()
	defer dirState.n.mu.Unlock()
	if _, exists := dirState.n.children[name]; exists {
		return proto.EEXIST
	}
	dirState.n.children[name] = targetState.n

	targetState.n.mu.Lock()
	targetState.n.nlink++
	targetState.n.mu.Unlock()
	return nil
}

// Mkdir implements backend.Backend.
func (fs *FS) Mkdir(ctx context.Context, state *State, name string, mode, gid uint32) (proto.Qid, error) {
	if !isDir(state.n) {
		return proto.Qid{}, proto.ENOTDIR
	}
	state.n.mu.Lock()
	defer state.n.mu.Unlock()
	if _, exists := state.n.children[name]; exists {
		return proto.Qid{}, proto.EEXIST
	}
	now := time.Now()
	child := &node{
		path:     fs.allocPath(),
		typ:      typeDir,
		mode:     mode,
		gid:      gid,
		nlink:    2,
		parent:   state.n,
		name:     name,
		children: make(map[string]*node),
		atime:    now,
		mtime:    now,
		ctime:    now,
		xattrs:   make(map[string][]byte),
	}
	state.n.children[name] = child
	state.n.mtime = now
	state.n.nlink++
	return child.qid(), nil
}

// Mknod implements backend.Backend.
func (fs *FS) Mknod(ctx context.Context, state *State, name string, mode, major, minor, gid uint32) (proto.Qid, error) {
	if !isDir(state.n) {
		return proto.Qid{}, proto.ENOTDIR
	}
	state.n.mu.Lock()
	defer state.n.mu.Unlock()
	if _, exists := state.n.children[name]; exists {
		return proto.Qid{}, proto.EEXIST
	}
	now := time.Now()
	child := &node{
		path:   fs.allocPath(),
		typ:    typeDevice,
		mode:   mode,
		gid:    gid,
		nlink:  1,
		rdev:   uint64(major)<<32 | uint64(minor),
		parent: state.n,
		name:   name,
		atime:  now,
		mtime:  now,
		ctime:  now,
		xattrs: make(map[string][]byte),
	}
	state.n.children[name] = child
	state.n.mtime = now
	return child.qid(), nil
}

// Rename implements backend.Backend: it moves state's own directory entry
// to newname within its current parent directory.
func (fs *FS) Rename(ctx context.Context, state *State, newname string) error {
	if state.n.parent == nil {
		return proto.EINVAL
	}
	dir := state.n.parent
	dir.mu.Lock()
	defer dir.mu.Unlock()

	if _, exists := dir.children[newname]; exists {
		return proto.EEXIST
	}
	delete(dir.children, state.n.name)
	dir.children[newname] = state.n
	state.n.mu.Lock()
	state.n.name = newname
	state.n.mu.Unlock()
	return nil
}

// RenameAt implements backend.Backend.
func (fs *FS) RenameAt(ctx context.Context, oldDirState, newDirState *State, oldname, newname string) error {
	if !isDir(oldDirState.n) || !isDir(newDirState.n) {
		return proto.ENOTDIR
	}
	oldDirState.n.mu.Lock()
	child, ok := oldDirState.n.children[oldname]
	if !ok {
		oldDirState.n.mu.Unlock()
		return proto.ENOENT
	}
	delete(oldDirState.n.children, oldname)
	oldDirState.n.mu.Unlock()

	if newDirState.n == oldDirState.n {
		oldDirState.n.mu.Lock()
		oldDirState.n.children[newname] = child
		oldDirState.n.mu.Unlock()
	} else {
		newDirState.n.mu.Lock()
		newDirState.n.children[newname] = child
		newDirState.n.mu.Unlock()
	}

	child.mu.Lock()
	child.name = newname
	child.parent = newDirState.n
	child.mu.Unlock()
	return nil
}

// UnlinkAt implements backend.Backend.
func (fs *FS) UnlinkAt(ctx context.Context, state *State, name string, flags uint32) error {
	if !isDir(state.n) {
		return proto.ENOTDIR
	}
	state.n.mu.Lock()
	defer state.n.mu.Unlock()

	child, ok := state.n.children[name]
	if !ok {
		return proto.ENOENT
	}
	child.mu.RLock()
	isChildDir := child.typ == typeDir
	hasChildren := len(child.children) > 0
	child.mu.RUnlock()
	if isChildDir && hasChildren {
		return proto.ENOTEMPTY
	}

	delete(state.n.children, name)
	child.mu.Lock()
	if child.nlink > 0 {
		child.nlink--
	}
	child.mu.Unlock()
	return nil
}

// Remove implements backend.Backend: it removes state's own directory entry.
func (fs *FS) Remove(ctx context.Context, state *State) error {
	if state.n.parent == nil {
		return proto.EPERM
	}
	return fs.UnlinkAt(ctx, &State{fs: fs, n: state.n.parent}, state.n.name, 0)
}

// Fsync implements backend.Backend. memfs has nothing to flush.
func (fs *FS) Fsync(ctx context.Context, state *State) error {
	return nil
}

// Lock implements backend.Backend as an always-granted advisory lock:
// memfs does not track byte-range locks across fids.
func (fs *FS) Lock(ctx context.Context, state *State, lock proto.Lock) (uint8, error) {
	return proto.LockSuccess, nil
}

// GetLock implements backend.Backend, always reporting no conflict.
func (fs *FS) GetLock(ctx context.Context, state *State, query proto.GetLock) (proto.GetLock, error) {
	result := query
	result.Type = proto.LockTypeUnlck
	return result, nil
}

// Clunk implements backend.Backend. memfs holds no per-open resources
// beyond the node pointer itself, except a pending xattr write, which is
// persisted here.
func (fs *FS) Clunk(ctx context.Context, state *State) error {
	if state.xattrWrite {
		fs.finalizeXattr(state)
	}
	return nil
}

// Release implements backend.Backend.
func (fs *FS) Release(state *State) {
}
