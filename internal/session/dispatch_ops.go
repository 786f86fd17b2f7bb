package session

import (
	"context"

	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/proto"
)

// execute maps one decoded T-message onto a backend.Backend call and
// packages the result as an R-message or a failing errno. It never writes
// to the wire itself; dispatch.go's handleRequest does that.
func (s *Session[S]) execute(ctx context.Context, msg proto.TMessage) (proto.RMessage, proto.Errno) {
	switch t := msg.(type) {
	case proto.TAttach:
		return s.attach(ctx, t)
	case proto.TAuth:
		return s.auth(ctx, t)
	case proto.TWalk:
		return s.walk(ctx, t)
	case proto.TLopen:
		return s.lopen(ctx, t)
	case proto.TLcreate:
		return s.lcreate(ctx, t)
	case proto.TRead:
		return s.read(ctx, t)
	case proto.TWrite:
		return s.write(ctx, t)
	case proto.TClunk:
		return s.clunk(ctx, t)
	case proto.TRemove:
		return s.remove(ctx, t)
	case proto.TStatfs:
		return s.statfs(ctx, t)
	case proto.TSymlink:
		return s.symlink(ctx, t)
	case proto.TMknod:
		return s.mknod(ctx, t)
	case proto.TRename:
		return s.rename(ctx, t)
	case proto.TReadlink:
		return s.readlink(ctx, t)
	case proto.TGetattr:
		return s.getattr(ctx, t)
	case proto.TSetattr:
		return s.setattr(ctx, t)
	case proto.TXattrwalk:
		return s.xattrwalk(ctx, t)
	case proto.TXattrcreate:
		return s.xattrcreate(ctx, t)
	case proto.TReaddir:
		return s.readdir(ctx, t)
	case proto.TFsync:
		return s.fsync(ctx, t)
	case proto.TLock:
		return s.lock(ctx, t)
	case proto.TGetlock:
		return s.getlock(ctx, t)
	case proto.TLink:
		return s.link(ctx, t)
	case proto.TMkdir:
		return s.mkdir(ctx, t)
	case proto.TRenameat:
		return s.renameat(ctx, t)
	case proto.TUnlinkat:
		return s.unlinkat(ctx, t)
	default:
		return nil, proto.EPROTO
	}
}

func (s *Session[S]) reportFids() {
	s.metrics.FidCount(s.fids.Len())
}

func (s *Session[S]) getFid(fid uint32) (fidEntry[S], proto.Errno) {
	e, err := s.fids.Get(fid)
	if err != nil {
		return fidEntry[S]{}, proto.EBADF
	}
	return e, 0
}

// checkFidFree reports whether fid is available for Insert: Attach, Walk's
// newfid, and Xattrwalk's newfid all require this, so a fid collision is
// rejected before any back-end work happens.
func (s *Session[S]) checkFidFree(fid uint32) proto.Errno {
	if fid == proto.NOFID {
		return proto.EINVAL
	}
	if _, err := s.fids.Get(fid); err == nil {
		return proto.EMFILE
	}
	return 0
}

func (s *Session[S]) attach(ctx context.Context, t proto.TAttach) (proto.RMessage, proto.Errno) {
	if errno := s.checkFidFree(t.Fid); errno != 0 {
		return nil, errno
	}
	if t.Afid != proto.NOFID {
		if _, err := s.fids.Get(t.Afid); err != nil {
			return nil, proto.EBADF
		}
	}

	qid, state, err := s.backend.Attach(ctx, t.Uname, t.Aname, t.Nuname)
	if err != nil {
		return nil, errnoFrom(err)
	}
	if err := s.fids.Insert(t.Fid, fidEntry[S]{state: state}); err != nil {
		s.backend.Release(state)
		return nil, proto.EMFILE
	}
	s.reportFids()
	return proto.RAttach{Qid: qid}, 0
}

func (s *Session[S]) auth(ctx context.Context, t proto.TAuth) (proto.RMessage, proto.Errno) {
	if errno := s.checkFidFree(t.Afid); errno != 0 {
		return nil, errno
	}
	auther, ok := s.backend.(backend.Auther[S])
	if !ok {
		return nil, proto.EOPNOTSUPP
	}
	qid, state, err := auther.Auth(ctx, t.Uname, t.Aname, t.Nuname)
	if err != nil {
		return nil, errnoFrom(err)
	}
	if err := s.fids.Insert(t.Afid, fidEntry[S]{state: state}); err != nil {
		s.backend.Release(state)
		return nil, proto.EMFILE
	}
	return proto.RAuth{Aqid: qid}, 0
}

func (s *Session[S]) lopen(ctx context.Context, t proto.TLopen) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	qid, iounit, err := s.backend.Open(ctx, e.state, t.Flags)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RLopen{Qid: qid, Iounit: iounit}, 0
}

func (s *Session[S]) lcreate(ctx context.Context, t proto.TLcreate) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	qid, iounit, newState, err := s.backend.Create(ctx, e.state, t.Name, t.Flags, t.Mode, t.Gid)
	if err != nil {
		return nil, errnoFrom(err)
	}
	if err := s.fids.Update(t.Fid, fidEntry[S]{state: newState, depth: e.depth}); err != nil {
		s.backend.Release(newState)
		return nil, proto.EBADF
	}
	return proto.RLcreate{Qid: qid, Iounit: iounit}, 0
}

func (s *Session[S]) read(ctx context.Context, t proto.TRead) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	count := t.Count
	if max := s.codec.MaxReadCount(); count > max {
		count = max
	}
	buf := make([]byte, count)
	n, err := s.backend.Read(ctx, e.state, t.Offset, buf)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RRead{Data: buf[:n]}, 0
}

func (s *Session[S]) write(ctx context.Context, t proto.TWrite) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	if uint32(len(t.Data)) > s.codec.MaxWriteCount() {
		return nil, proto.EMSGSIZE
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	n, err := s.backend.Write(ctx, e.state, t.Offset, t.Data)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RWrite{Count: uint32(n)}, 0
}

// clunk and remove observe every reply already in flight on fid before
// calling into the back-end, then always remove the fid and call Release
// regardless of the back-end's own result.

func (s *Session[S]) clunk(ctx context.Context, t proto.TClunk) (proto.RMessage, proto.Errno) {
	s.barriers.await(t.Fid)
	e, err := s.fids.Remove(t.Fid)
	if err != nil {
		return nil, proto.EBADF
	}
	s.reportFids()
	cerr := s.backend.Clunk(ctx, e.state)
	s.backend.Release(e.state)
	if cerr != nil {
		return nil, errnoFrom(cerr)
	}
	return proto.RClunk{}, 0
}

func (s *Session[S]) remove(ctx context.Context, t proto.TRemove) (proto.RMessage, proto.Errno) {
	s.barriers.await(t.Fid)
	e, err := s.fids.Remove(t.Fid)
	if err != nil {
		return nil, proto.EBADF
	}
	s.reportFids()
	rerr := s.backend.Remove(ctx, e.state)
	s.backend.Release(e.state)
	if rerr != nil {
		return nil, errnoFrom(rerr)
	}
	return proto.RRemove{}, 0
}

func (s *Session[S]) statfs(ctx context.Context, t proto.TStatfs) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	st, err := s.backend.Statfs(ctx, e.state)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return st, 0
}

func (s *Session[S]) symlink(ctx context.Context, t proto.TSymlink) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	qid, err := s.backend.Symlink(ctx, e.state, t.Name, t.Symtgt, t.Gid)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RSymlink{Qid: qid}, 0
}

func (s *Session[S]) mknod(ctx context.Context, t proto.TMknod) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	qid, err := s.backend.Mknod(ctx, e.state, t.Name, t.Mode, t.Major, t.Minor, t.Gid)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RMknod{Qid: qid}, 0
}

func (s *Session[S]) rename(ctx context.Context, t proto.TRename) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	if _, err := s.fids.Get(t.Dfid); err != nil {
		return nil, proto.EBADF
	}
	releaseDir := s.barriers.enter(t.Dfid)
	defer releaseDir()

	if err := s.backend.Rename(ctx, e.state, t.Name); err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RRename{}, 0
}

func (s *Session[S]) readlink(ctx context.Context, t proto.TReadlink) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	target, err := s.backend.Readlink(ctx, e.state)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RReadlink{Target: target}, 0
}

func (s *Session[S]) getattr(ctx context.Context, t proto.TGetattr) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	attr, err := s.backend.GetAttr(ctx, e.state, t.RequestMask)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RGetattr{Attr: attr}, 0
}

func (s *Session[S]) setattr(ctx context.Context, t proto.TSetattr) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	if err := s.backend.SetAttr(ctx, e.state, t.Attr); err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RSetattr{}, 0
}

func (s *Session[S]) xattrwalk(ctx context.Context, t proto.TXattrwalk) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	size, newState, err := s.backend.XattrWalk(ctx, e.state, t.Name)
	if err != nil {
		return nil, errnoFrom(err)
	}

	if t.Newfid == t.Fid {
		if err := s.fids.Update(t.Newfid, fidEntry[S]{state: newState, depth: e.depth}); err != nil {
			s.backend.Release(newState)
			return nil, proto.EBADF
		}
		return proto.RXattrwalk{Size: size}, 0
	}

	if errno := s.checkFidFree(t.Newfid); errno != 0 {
		s.backend.Release(newState)
		return nil, errno
	}
	if err := s.fids.Insert(t.Newfid, fidEntry[S]{state: newState, depth: e.depth}); err != nil {
		s.backend.Release(newState)
		return nil, proto.EMFILE
	}
	return proto.RXattrwalk{Size: size}, 0
}

func (s *Session[S]) xattrcreate(ctx context.Context, t proto.TXattrcreate) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	newState, err := s.backend.XattrCreate(ctx, e.state, t.Name, t.Size, t.Flags)
	if err != nil {
		return nil, errnoFrom(err)
	}
	if err := s.fids.Update(t.Fid, fidEntry[S]{state: newState, depth: e.depth}); err != nil {
		s.backend.Release(newState)
		return nil, proto.EBADF
	}
	return proto.RXattrcreate{}, 0
}

func (s *Session[S]) readdir(ctx context.Context, t proto.TReaddir) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	count := t.Count
	if max := s.codec.MaxReadCount(); count > max {
		count = max
	}
	data, err := s.backend.Readdir(ctx, e.state, t.Offset, count)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RReaddir{Data: data}, 0
}

func (s *Session[S]) fsync(ctx context.Context, t proto.TFsync) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	if err := s.backend.Fsync(ctx, e.state); err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RFsync{}, 0
}

func (s *Session[S]) lock(ctx context.Context, t proto.TLock) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	status, err := s.backend.Lock(ctx, e.state, t.Lock)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RLock{Status: status}, 0
}

func (s *Session[S]) getlock(ctx context.Context, t proto.TGetlock) (proto.RMessage, proto.Errno) {
	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	result, err := s.backend.GetLock(ctx, e.state, t.GetLock)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RGetlock{GetLock: result}, 0
}

func (s *Session[S]) link(ctx context.Context, t proto.TLink) (proto.RMessage, proto.Errno) {
	dir, errno := s.getFid(t.Dfid)
	if errno != 0 {
		return nil, errno
	}
	releaseDir := s.barriers.enter(t.Dfid)
	defer releaseDir()

	target, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	if err := s.backend.Link(ctx, dir.state, target.state, t.Name); err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RLink{}, 0
}

func (s *Session[S]) mkdir(ctx context.Context, t proto.TMkdir) (proto.RMessage, proto.Errno) {
	dir, errno := s.getFid(t.Dfid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Dfid)
	defer release()

	qid, err := s.backend.Mkdir(ctx, dir.state, t.Name, t.Mode, t.Gid)
	if err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RMkdir{Qid: qid}, 0
}

func (s *Session[S]) renameat(ctx context.Context, t proto.TRenameat) (proto.RMessage, proto.Errno) {
	oldDir, errno := s.getFid(t.Olddirfid)
	if errno != 0 {
		return nil, errno
	}
	releaseOld := s.barriers.enter(t.Olddirfid)
	defer releaseOld()

	newDir, errno := s.getFid(t.Newdirfid)
	if errno != 0 {
		return nil, errno
	}
	if t.Newdirfid != t.Olddirfid {
		releaseNew := s.barriers.enter(t.Newdirfid)
		defer releaseNew()
	}

	if err := s.backend.RenameAt(ctx, oldDir.state, newDir.state, t.Oldname, t.Newname); err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RRenameat{}, 0
}

func (s *Session[S]) unlinkat(ctx context.Context, t proto.TUnlinkat) (proto.RMessage, proto.Errno) {
	dir, errno := s.getFid(t.Dirfid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Dirfid)
	defer release()

	if err := s.backend.UnlinkAt(ctx, dir.state, t.Name, t.Flags); err != nil {
		return nil, errnoFrom(err)
	}
	return proto.RUnlinkat{}, 0
}
