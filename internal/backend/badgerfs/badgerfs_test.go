package badgerfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l9p/l9p/internal/proto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAttachReturnsDirectoryRoot(t *testing.T) {
	s := newTestStore(t)
	qid, fid, err := s.Attach(context.Background(), "u", "", 1000)
	require.NoError(t, err)
	assert.EqualValues(t, proto.QTDIR, qid.Type)
	assert.Equal(t, rootID, fid.id)
}

func TestCreateWriteRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	qid, _, f, err := s.Create(ctx, root, "hello.txt", proto.ORDWR, 0644, 0)
	require.NoError(t, err)
	assert.EqualValues(t, proto.QTFILE, qid.Type)

	n, err := s.Write(ctx, f, 0, []byte("hello, world"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	buf := make([]byte, 64)
	n, err = s.Read(ctx, f, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(buf[:n]))

	// Sparse write past the end zero-fills the gap.
	_, err = s.Write(ctx, f, 20, []byte("x"))
	require.NoError(t, err)
	attr, err := s.GetAttr(ctx, f, proto.GetattrBasic)
	require.NoError(t, err)
	assert.EqualValues(t, 21, attr.Size)
}

func TestWalkResolvesAndStopsAtMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, root, "a", 0755, 0)
	require.NoError(t, err)
	qids, aFid, err := s.Walk(ctx, root, []string{"a"})
	require.NoError(t, err)
	require.Len(t, qids, 1)
	_, err = s.Mkdir(ctx, aFid, "b", 0755, 0)
	require.NoError(t, err)

	qids, fid, err := s.Walk(ctx, root, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, qids, 2)
	assert.Nil(t, fid)

	_, _, err = s.Walk(ctx, root, []string{"missing"})
	assert.Equal(t, proto.ENOENT, err)
}

func TestWalkDotDotFromRootStaysAtRoot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rootQid, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	qids, fid, err := s.Walk(ctx, root, []string{".."})
	require.NoError(t, err)
	require.Len(t, qids, 1)
	assert.Equal(t, rootQid.Path, qids[0].Path)
	assert.Equal(t, rootID, fid.id)
}

func TestReaddirSynthesizesDotEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, root, "sub", 0755, 0)
	require.NoError(t, err)
	_, _, _, err = s.Create(ctx, root, "f", proto.OWRONLY, 0644, 0)
	require.NoError(t, err)

	data, err := s.Readdir(ctx, root, 0, 8192)
	require.NoError(t, err)
	ents, err := proto.DecodeDirents(data)
	require.NoError(t, err)
	require.Len(t, ents, 4)
	assert.Equal(t, ".", ents[0].Name)
	assert.Equal(t, "..", ents[1].Name)
	// Children are sorted by name.
	assert.Equal(t, "f", ents[2].Name)
	assert.Equal(t, "sub", ents[3].Name)

	// Continuation from the offset of the last consumed entry.
	data, err = s.Readdir(ctx, root, ents[1].Offset, 8192)
	require.NoError(t, err)
	ents, err = proto.DecodeDirents(data)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, "f", ents[0].Name)
}

func TestRenameAndRenameAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, _, f, err := s.Create(ctx, root, "old", proto.OWRONLY, 0644, 0)
	require.NoError(t, err)
	require.NoError(t, s.Rename(ctx, f, "new"))

	_, _, err = s.Walk(ctx, root, []string{"old"})
	assert.Equal(t, proto.ENOENT, err)
	qids, _, err := s.Walk(ctx, root, []string{"new"})
	require.NoError(t, err)
	require.Len(t, qids, 1)

	_, err = s.Mkdir(ctx, root, "dir", 0755, 0)
	require.NoError(t, err)
	_, dFid, err := s.Walk(ctx, root, []string{"dir"})
	require.NoError(t, err)
	require.NoError(t, s.RenameAt(ctx, root, dFid, "new", "moved"))

	_, _, err = s.Walk(ctx, root, []string{"new"})
	assert.Equal(t, proto.ENOENT, err)
	qids, _, err = s.Walk(ctx, root, []string{"dir", "moved"})
	require.NoError(t, err)
	assert.Len(t, qids, 2)
}

func TestUnlinkAtRefusesNonEmptyDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, root, "d", 0755, 0)
	require.NoError(t, err)
	_, dFid, err := s.Walk(ctx, root, []string{"d"})
	require.NoError(t, err)
	_, _, _, err = s.Create(ctx, dFid, "child", proto.OWRONLY, 0644, 0)
	require.NoError(t, err)

	assert.Equal(t, proto.ENOTEMPTY, s.UnlinkAt(ctx, root, "d", 0))

	require.NoError(t, s.UnlinkAt(ctx, dFid, "child", 0))
	require.NoError(t, s.UnlinkAt(ctx, root, "d", 0))
	_, _, err = s.Walk(ctx, root, []string{"d"})
	assert.Equal(t, proto.ENOENT, err)
}

func TestHardLinkSharesContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, _, f, err := s.Create(ctx, root, "a", proto.ORDWR, 0644, 0)
	require.NoError(t, err)
	_, err = s.Write(ctx, f, 0, []byte("shared"))
	require.NoError(t, err)

	require.NoError(t, s.Link(ctx, root, f, "b"))

	_, bFid, err := s.Walk(ctx, root, []string{"b"})
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := s.Read(ctx, bFid, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(buf[:n]))

	attr, err := s.GetAttr(ctx, bFid, proto.GetattrBasic)
	require.NoError(t, err)
	assert.EqualValues(t, 2, attr.Nlink)

	// Dropping one link keeps the other readable.
	require.NoError(t, s.UnlinkAt(ctx, root, "a", 0))
	n, err = s.Read(ctx, bFid, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(buf[:n]))
}

func TestSymlinkReadlink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	qid, err := s.Symlink(ctx, root, "ln", "/target/path", 0)
	require.NoError(t, err)
	assert.EqualValues(t, proto.QTSYMLINK, qid.Type)

	_, lnFid, err := s.Walk(ctx, root, []string{"ln"})
	require.NoError(t, err)
	target, err := s.Readlink(ctx, lnFid)
	require.NoError(t, err)
	assert.Equal(t, "/target/path", target)
}

func TestXattrRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	value := []byte("attribute value")
	wf, err := s.XattrCreate(ctx, root, "user.test", uint64(len(value)), 0)
	require.NoError(t, err)
	_, err = s.Write(ctx, wf, 0, value)
	require.NoError(t, err)
	require.NoError(t, s.Clunk(ctx, wf))

	size, rf, err := s.XattrWalk(ctx, root, "user.test")
	require.NoError(t, err)
	assert.EqualValues(t, len(value), size)
	buf := make([]byte, size)
	n, err := s.Read(ctx, rf, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, value, buf[:n])

	// Empty name lists attribute names NUL-terminated.
	size, lf, err := s.XattrWalk(ctx, root, "")
	require.NoError(t, err)
	buf = make([]byte, size)
	n, err = s.Read(ctx, lf, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "user.test\x00", string(buf[:n]))

	_, _, err = s.XattrWalk(ctx, root, "user.absent")
	assert.Equal(t, proto.ENODATA, err)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)
	qid, _, f, err := s.Create(ctx, root, "keep", proto.ORDWR, 0644, 0)
	require.NoError(t, err)
	_, err = s.Write(ctx, f, 0, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	_, root, err = s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)
	qids, kf, err := s.Walk(ctx, root, []string{"keep"})
	require.NoError(t, err)
	require.Len(t, qids, 1)
	// Qid paths are stable across restarts.
	assert.Equal(t, qid.Path, qids[0].Path)
	buf := make([]byte, 16)
	n, err := s.Read(ctx, kf, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(buf[:n]))
}

func TestOpenTruncate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, _, f, err := s.Create(ctx, root, "t", proto.ORDWR, 0644, 0)
	require.NoError(t, err)
	_, err = s.Write(ctx, f, 0, []byte("content"))
	require.NoError(t, err)

	_, _, err = s.Open(ctx, f, proto.OWRONLY|proto.OTRUNC)
	require.NoError(t, err)
	attr, err := s.GetAttr(ctx, f, proto.GetattrBasic)
	require.NoError(t, err)
	assert.Zero(t, attr.Size)
}

func TestOpenDirectoryForWritingFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root, err := s.Attach(ctx, "u", "", 1000)
	require.NoError(t, err)

	_, _, err = s.Open(ctx, root, proto.ORDWR)
	assert.Equal(t, proto.EISDIR, err)
}
