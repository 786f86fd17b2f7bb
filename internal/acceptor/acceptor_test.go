package acceptor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/l9p/l9p/internal/backend/memfs"
	"github.com/l9p/l9p/internal/proto"
	"github.com/l9p/l9p/internal/session"
)

func waitForAddr[S any](t *testing.T, a *Acceptor[S]) net.Addr {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := a.Addr(); addr != nil {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("acceptor never bound a listener")
	return nil
}

func newTestAcceptor(t *testing.T, shutdownTimeout time.Duration) *Acceptor[*memfs.State] {
	t.Helper()
	fs := memfs.New()
	cfg := Config{Listen: "tcp!127.0.0.1!0", ShutdownTimeout: shutdownTimeout}
	sessionCfg := session.Config{MsizeCeiling: 64 * 1024}
	return New[*memfs.State](cfg, fs, sessionCfg, nil)
}

// TestGracefulShutdown verifies that the acceptor waits for an in-flight
// connection to close naturally before Serve returns.
func TestGracefulShutdown(t *testing.T) {
	a := newTestAcceptor(t, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- a.Serve(ctx)
	}()

	addr := waitForAddr(t, a)

	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("dial acceptor: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for a.ActiveConnections() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := a.ActiveConnections(); got != 1 {
		t.Fatalf("expected 1 active connection, got %d", got)
	}

	// A version-negotiated client closes its own connection, letting
	// shutdown complete gracefully well under the timeout.
	if err := sendVersion(conn); err != nil {
		t.Fatalf("send version: %v", err)
	}
	conn.Close()

	cancel()
	if err := <-serverDone; err != nil {
		t.Fatalf("expected graceful shutdown, got error: %v", err)
	}
}

// TestForceCloseConnectionsClosesTracked verifies the force-close backstop
// used once ShutdownTimeout elapses: every tracked connection gets closed
// regardless of whether the session driving it ever notices shutdown.
func TestForceCloseConnectionsClosesTracked(t *testing.T) {
	a := newTestAcceptor(t, 200*time.Millisecond)

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	a.connections.Store("test-peer", serverSide)

	a.forceCloseConnections()

	buf := make([]byte, 1)
	if _, err := serverSide.Read(buf); err == nil {
		t.Fatal("expected force-closed connection to return a read error")
	}
}

// TestMaxConnectionsBlocksAccept verifies the connection semaphore makes a
// second connection wait while the first, already at the limit, is open.
func TestMaxConnectionsBlocksAccept(t *testing.T) {
	fs := memfs.New()
	cfg := Config{Listen: "tcp!127.0.0.1!0", MaxConnections: 1, ShutdownTimeout: 2 * time.Second}
	a := New[*memfs.State](cfg, fs, session.Config{MsizeCeiling: 64 * 1024}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- a.Serve(ctx)
	}()

	addr := waitForAddr(t, a)

	conn1, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("dial acceptor: %v", err)
	}
	defer conn1.Close()

	deadline := time.Now().Add(time.Second)
	for a.ActiveConnections() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn2, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("dial acceptor: %v", err)
	}
	defer conn2.Close()

	// The second connection is accepted at the TCP level but the acceptor
	// will not service it (or count it) until the semaphore frees up.
	time.Sleep(50 * time.Millisecond)
	if got := a.ActiveConnections(); got != 1 {
		t.Fatalf("expected semaphore to hold the count at 1, got %d", got)
	}

	conn1.Close()
	deadline = time.Now().Add(time.Second)
	for a.ActiveConnections() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := a.ActiveConnections(); got != 1 {
		t.Fatalf("expected second connection to be admitted, got %d", got)
	}
}

// sendVersion writes a minimal Tversion frame so the session on the other
// end advances past the unversioned phase and the connection can close
// cleanly rather than mid-negotiation.
func sendVersion(conn net.Conn) error {
	msize := uint32(64 * 1024)
	version := proto.Version

	body := make([]byte, 0, 4+2+len(version))
	var b4 [4]byte
	putU32(b4[:], msize)
	body = append(body, b4[:]...)
	var b2 [2]byte
	putU16(b2[:], uint16(len(version)))
	body = append(body, b2[:]...)
	body = append(body, version...)

	frame := make([]byte, 0, 7+len(body))
	var sz [4]byte
	putU32(sz[:], uint32(7+len(body)))
	frame = append(frame, sz[:]...)
	frame = append(frame, proto.Tversion)
	var tag [2]byte
	putU16(tag[:], proto.NOTAG)
	frame = append(frame, tag[:]...)
	frame = append(frame, body...)

	_, err := conn.Write(frame)
	return err
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
