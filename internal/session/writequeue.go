package session

import (
	"net"
	"sync"
)

// writeQueue is the connection's single-producer write path: many
// request goroutines may finish concurrently, but only one of them ever
// touches the socket at a time, and replies are written atomically. A
// queued-bytes counter backs the backpressure rule (default 8×msize):
// Session.Serve stops reading new frames once waitForCapacity blocks.
type writeQueue struct {
	conn net.Conn

	mu        sync.Mutex
	cond      *sync.Cond
	pending   [][]byte
	queued    int
	highWater int
	stopped   bool
}

func newWriteQueue(conn net.Conn, highWater int) *writeQueue {
	wq := &writeQueue{conn: conn, highWater: highWater}
	wq.cond = sync.NewCond(&wq.mu)
	return wq
}

// enqueue hands buf to the writer goroutine. Safe for concurrent callers.
func (wq *writeQueue) enqueue(buf []byte) {
	wq.mu.Lock()
	if wq.stopped {
		wq.mu.Unlock()
		return
	}
	wq.pending = append(wq.pending, buf)
	wq.queued += len(buf)
	wq.cond.Signal()
	wq.mu.Unlock()
}

// waitForCapacity blocks while the queued-byte total exceeds the
// high-water mark, implementing reader-side backpressure.
// It returns immediately once the queue is stopped.
func (wq *writeQueue) waitForCapacity() {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	for wq.queued > wq.highWater && !wq.stopped {
		wq.cond.Wait()
	}
}

// run drains pending buffers to the connection until stop is called. Once
// the session is Versioned it is the only writer of wq.conn, apart from the
// best-effort Rlerror written directly when a fatal decode failure ends the
// session.
func (wq *writeQueue) run() {
	for {
		wq.mu.Lock()
		for len(wq.pending) == 0 && !wq.stopped {
			wq.cond.Wait()
		}
		if wq.stopped && len(wq.pending) == 0 {
			wq.mu.Unlock()
			return
		}
		buf := wq.pending[0]
		wq.pending = wq.pending[1:]
		wq.mu.Unlock()

		_, _ = wq.conn.Write(buf)

		wq.mu.Lock()
		wq.queued -= len(buf)
		wq.cond.Broadcast()
		wq.mu.Unlock()
	}
}

func (wq *writeQueue) stop() {
	wq.mu.Lock()
	wq.stopped = true
	wq.cond.Broadcast()
	wq.mu.Unlock()
}
