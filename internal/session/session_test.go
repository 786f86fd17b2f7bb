package session

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/backend/memfs"
	"github.com/l9p/l9p/internal/proto"
)

// The wire encoder/decoder below exists only so this test file can act as a
// 9P2000.L client against a Session without depending on internal/proto's
// unexported cursor types: internal/proto only ever needs to decode
// T-messages and encode R-messages (it is a server-side codec), so the
// reverse direction a test client needs has no exported helper of its own.

type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8)   { w.b = append(w.b, v) }
func (w *wbuf) u16(v uint16) { var p [2]byte; binary.LittleEndian.PutUint16(p[:], v); w.b = append(w.b, p[:]...) }
func (w *wbuf) u32(v uint32) { var p [4]byte; binary.LittleEndian.PutUint32(p[:], v); w.b = append(w.b, p[:]...) }
func (w *wbuf) u64(v uint64) { var p [8]byte; binary.LittleEndian.PutUint64(p[:], v); w.b = append(w.b, p[:]...) }
func (w *wbuf) str(s string) { w.u16(uint16(len(s))); w.b = append(w.b, s...) }
func (w *wbuf) strList(ss []string) {
	w.u16(uint16(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func sendFrame(t *testing.T, conn net.Conn, mtype uint8, tag uint16, body []byte) {
	t.Helper()
	out := make([]byte, 7+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(7+len(body)))
	out[4] = mtype
	binary.LittleEndian.PutUint16(out[5:7], tag)
	copy(out[7:], body)
	_, err := conn.Write(out)
	require.NoError(t, err)
}

type rbuf struct {
	b   []byte
	off int
}

func (r *rbuf) u8() uint8   { v := r.b[r.off]; r.off++; return v }
func (r *rbuf) u16() uint16 { v := binary.LittleEndian.Uint16(r.b[r.off:]); r.off += 2; return v }
func (r *rbuf) u32() uint32 { v := binary.LittleEndian.Uint32(r.b[r.off:]); r.off += 4; return v }
func (r *rbuf) u64() uint64 { v := binary.LittleEndian.Uint64(r.b[r.off:]); r.off += 8; return v }
func (r *rbuf) str() string { n := r.u16(); s := string(r.b[r.off : r.off+int(n)]); r.off += int(n); return s }
func (r *rbuf) data() []byte {
	n := r.u32()
	b := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return b
}
func (r *rbuf) qid() proto.Qid {
	t := r.u8()
	v := r.u32()
	p := r.u64()
	return proto.Qid{Type: t, Version: v, Path: p}
}

// recvFrame reads one framed reply and returns its type, tag, and a cursor
// over its body.
func recvFrame(t *testing.T, conn net.Conn) (uint8, uint16, *rbuf) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hdr [7]byte
	_, err := readFull(conn, hdr[:])
	require.NoError(t, err)
	size := binary.LittleEndian.Uint32(hdr[0:4])
	mtype := hdr[4]
	tag := binary.LittleEndian.Uint16(hdr[5:7])
	body := make([]byte, size-7)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return mtype, tag, &rbuf{b: body}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestSession(t *testing.T, cfg Config) (client net.Conn, fs *memfs.FS) {
	t.Helper()
	fs = memfs.New()
	return newTestSessionWith(t, cfg, fs), fs
}

func newTestSessionWith(t *testing.T, cfg Config, be backend.Backend[*memfs.State]) net.Conn {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := New[*memfs.State](serverConn, be, cfg, nil)
	go s.Serve(context.Background())
	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func doVersion(t *testing.T, conn net.Conn, msize uint32, version string) (uint32, string) {
	t.Helper()
	var w wbuf
	w.u32(msize)
	w.str(version)
	sendFrame(t, conn, proto.Tversion, proto.NOTAG, w.b)
	mtype, tag, r := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rversion), mtype)
	require.Equal(t, uint16(proto.NOTAG), tag)
	return r.u32(), r.str()
}

// A version string other than 9P2000.L is answered with "unknown" (with
// msize clamped to the server's ceiling) and leaves the session Unversioned.
func TestVersionDowngrade(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	msize, version := doVersion(t, conn, 131072, "9P2000")
	assert.EqualValues(t, 65536, msize)
	assert.Equal(t, proto.Unknown, version)
}

// Attach then readdir the root, whose first two dirents are "." and
// "..".
func TestAttachAndReaddirRoot(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	msize, version := doVersion(t, conn, 65536, proto.Version)
	require.EqualValues(t, 65536, msize)
	require.Equal(t, proto.Version, version)

	var aw wbuf
	aw.u32(0) // fid
	aw.u32(proto.NOFID)
	aw.str("u")
	aw.str("")
	aw.u32(1000)
	sendFrame(t, conn, proto.Tattach, 1, aw.b)
	mtype, tag, r := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rattach), mtype)
	require.Equal(t, uint16(1), tag)
	qid := r.qid()
	assert.EqualValues(t, proto.QTDIR, qid.Type)

	var rw wbuf
	rw.u32(0) // fid
	rw.u64(0) // offset
	rw.u32(8192)
	sendFrame(t, conn, proto.Treaddir, 2, rw.b)
	mtype, tag, r = recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rreaddir), mtype)
	require.Equal(t, uint16(2), tag)
	data := r.data()
	dirents, err := proto.DecodeDirents(data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(dirents), 2)
	assert.Equal(t, ".", dirents[0].Name)
	assert.Equal(t, "..", dirents[1].Name)
}

func attachRoot(t *testing.T, conn net.Conn, fid uint32) {
	t.Helper()
	var aw wbuf
	aw.u32(fid)
	aw.u32(proto.NOFID)
	aw.str("u")
	aw.str("")
	aw.u32(1000)
	sendFrame(t, conn, proto.Tattach, 1, aw.b)
	mtype, _, _ := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rattach), mtype)
}

func mkdirAt(t *testing.T, conn net.Conn, dfid uint32, name string, tag uint16) {
	t.Helper()
	var w wbuf
	w.u32(dfid)
	w.str(name)
	w.u32(0755)
	w.u32(0)
	sendFrame(t, conn, proto.Tmkdir, tag, w.b)
	mtype, _, _ := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rmkdir), mtype)
}

func walk(t *testing.T, conn net.Conn, fid, newfid uint32, names []string, tag uint16) (uint8, *rbuf) {
	t.Helper()
	var w wbuf
	w.u32(fid)
	w.u32(newfid)
	w.strList(names)
	sendFrame(t, conn, proto.Twalk, tag, w.b)
	mtype, _, r := recvFrame(t, conn)
	return mtype, r
}

// A walk that fails partway through returns the qids resolved so far
// and never installs newfid.
func TestPartialWalk(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)
	mkdirAt(t, conn, 0, "a", 10)
	walkMtype, walkR := walk(t, conn, 0, 20, []string{"a"}, 11)
	require.Equal(t, uint8(proto.Rwalk), walkMtype)
	_ = walkR
	mkdirAt(t, conn, 20, "b", 12)

	mtype, r := walk(t, conn, 0, 1, []string{"a", "b", "nonexistent"}, 3)
	require.Equal(t, uint8(proto.Rwalk), mtype)
	n := r.u16()
	assert.EqualValues(t, 2, n)

	var gw wbuf
	gw.u32(1)
	gw.u64(0)
	sendFrame(t, conn, proto.Tgetattr, 5, gw.b)
	mtype, _, r = recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.EBADF, r.u32())
}

// A walk that fails on its first component is a flat Rlerror.
func TestFirstComponentWalkFailure(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)

	mtype, r := walk(t, conn, 0, 2, []string{"nope"}, 4)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.ENOENT, r.u32())
}

// An oversize Twrite is rejected with EMSGSIZE and the session stays
// open for further requests.
func TestOversizeWriteRejected(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: proto.MinMsize})
	msize, _ := doVersion(t, conn, proto.MinMsize, proto.Version)
	attachRoot(t, conn, 0)

	var cw wbuf
	cw.u32(0)
	cw.str("f")
	cw.u32(proto.OWRONLY)
	cw.u32(0644)
	cw.u32(0)
	sendFrame(t, conn, proto.Tlcreate, 6, cw.b)
	mtype, _, _ := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlcreate), mtype)

	oversized := make([]byte, msize)
	var ww wbuf
	ww.u32(0)
	ww.u64(0)
	ww.u32(uint32(len(oversized)))
	ww.b = append(ww.b, oversized...)
	sendFrame(t, conn, proto.Twrite, 7, ww.b)
	mtype, _, r := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.EMSGSIZE, r.u32())

	var sw wbuf
	sw.u32(0)
	sendFrame(t, conn, proto.Tstatfs, 8, sw.b)
	mtype, _, _ = recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rstatfs), mtype)
}

// A walk that would push the per-fid depth counter past the
// configured ceiling fails outright with ELOOP and never installs newfid.
func TestMaxWalkDepthExceeded(t *testing.T) {
	max := uint32(3)
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536, MaxWalkDepth: &max})
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)
	mkdirAt(t, conn, 0, "a", 10)
	mt, _ := walk(t, conn, 0, 1, []string{"a"}, 11)
	require.Equal(t, uint8(proto.Rwalk), mt)
	mkdirAt(t, conn, 1, "b", 12)
	mt, _ = walk(t, conn, 1, 2, []string{"b"}, 13)
	require.Equal(t, uint8(proto.Rwalk), mt)
	mkdirAt(t, conn, 2, "c", 14)

	mtype, r := walk(t, conn, 0, 5, []string{"a", "b", "c", "d"}, 15)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.ELOOP, r.u32())

	var gw wbuf
	gw.u32(5)
	gw.u64(0)
	sendFrame(t, conn, proto.Tgetattr, 16, gw.b)
	mtype, _, r = recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.EBADF, r.u32())
}

// gatedBackend wraps memfs so a test can hold a Tread open mid-flight:
// cooperative mode aborts when the request context is cancelled,
// non-cooperative mode ignores cancellation and completes once the gate
// opens.
type gatedBackend struct {
	*memfs.FS
	gate        chan struct{}
	reading     chan struct{}
	cooperative bool
}

func (b *gatedBackend) Read(ctx context.Context, state *memfs.State, offset uint64, p []byte) (int, error) {
	b.reading <- struct{}{}
	if b.cooperative {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-b.gate:
		}
	} else {
		<-b.gate
	}
	return b.FS.Read(context.Background(), state, offset, p)
}

// A Tflush against a back-end that observes cancellation suppresses the
// flushed request's reply entirely: the client sees Rflush and nothing for
// the original tag, and the session keeps serving.
func TestFlushCancelsCooperativeBackend(t *testing.T) {
	be := &gatedBackend{
		FS:          memfs.New(),
		gate:        make(chan struct{}),
		reading:     make(chan struct{}),
		cooperative: true,
	}
	conn := newTestSessionWith(t, Config{MsizeCeiling: 65536}, be)
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)

	var rw wbuf
	rw.u32(0)
	rw.u64(0)
	rw.u32(16)
	sendFrame(t, conn, proto.Tread, 5, rw.b)
	<-be.reading

	var fw wbuf
	fw.u16(5)
	sendFrame(t, conn, proto.Tflush, 6, fw.b)

	mtype, tag, _ := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rflush), mtype)
	require.Equal(t, uint16(6), tag)

	// The next reply is for a fresh request, not a stray tag-5 leftover.
	var sw wbuf
	sw.u32(0)
	sendFrame(t, conn, proto.Tstatfs, 7, sw.b)
	mtype, tag, _ = recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rstatfs), mtype)
	require.Equal(t, uint16(7), tag)
}

// A back-end that cannot cancel runs to completion: its reply is emitted
// and ordered before the Rflush acknowledgment.
func TestFlushNonCooperativeBackendStillReplies(t *testing.T) {
	be := &gatedBackend{
		FS:      memfs.New(),
		gate:    make(chan struct{}),
		reading: make(chan struct{}),
	}
	conn := newTestSessionWith(t, Config{MsizeCeiling: 65536}, be)
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)

	var rw wbuf
	rw.u32(0)
	rw.u64(0)
	rw.u32(16)
	sendFrame(t, conn, proto.Tread, 5, rw.b)
	<-be.reading

	var fw wbuf
	fw.u16(5)
	sendFrame(t, conn, proto.Tflush, 6, fw.b)
	close(be.gate)

	// Reading the root directory completes with EISDIR; what matters is
	// that the tag-5 reply arrives, and arrives before Rflush.
	mtype, tag, r := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	require.Equal(t, uint16(5), tag)
	assert.EqualValues(t, proto.EISDIR, r.u32())

	mtype, tag, _ = recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rflush), mtype)
	require.Equal(t, uint16(6), tag)
}

// A Tflush naming a tag that is not (or no longer) outstanding is
// acknowledged immediately rather than blocking.
func TestFlushUnknownTagAcksImmediately(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	doVersion(t, conn, 65536, proto.Version)

	var fw wbuf
	fw.u16(999)
	sendFrame(t, conn, proto.Tflush, 1, fw.b)
	mtype, tag, _ := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rflush), mtype)
	require.Equal(t, uint16(1), tag)
}

// Clunking a fid removes it from the table: a subsequent reference to it
// fails with EBADF.
func TestClunkRemovesFid(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)

	var cw wbuf
	cw.u32(0)
	sendFrame(t, conn, proto.Tclunk, 9, cw.b)
	mtype, _, _ := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rclunk), mtype)

	var gw wbuf
	gw.u32(0)
	gw.u64(0)
	sendFrame(t, conn, proto.Tgetattr, 10, gw.b)
	mtype, _, r := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.EBADF, r.u32())
}

// Attaching onto a fid that is already in use fails with EMFILE rather
// than silently clobbering the live handle.
func TestAttachRejectsFidCollision(t *testing.T) {
	conn, _ := newTestSession(t, Config{MsizeCeiling: 65536})
	doVersion(t, conn, 65536, proto.Version)
	attachRoot(t, conn, 0)

	var aw wbuf
	aw.u32(0)
	aw.u32(proto.NOFID)
	aw.str("u")
	aw.str("")
	aw.u32(1000)
	sendFrame(t, conn, proto.Tattach, 20, aw.b)
	mtype, _, r := recvFrame(t, conn)
	require.Equal(t, uint8(proto.Rlerror), mtype)
	assert.EqualValues(t, proto.EMFILE, r.u32())
}
