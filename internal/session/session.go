// Package session implements the per-connection 9P2000.L state machine:
// version negotiation, attach, request dispatch, and teardown. It owns the
// fid table for its connection and translates each decoded T-message into
// exactly one call on a backend.Backend, then frames and writes the reply.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/fidtable"
	"github.com/l9p/l9p/internal/logger"
	"github.com/l9p/l9p/internal/proto"
)

// phase is a connection's position in the version-then-attach state
// machine.
type phase int

const (
	phaseUnversioned phase = iota
	phaseVersioned
	phaseClosed
)

// Config carries the server-wide limits a Session enforces. MaxWalkDepth
// nil means unlimited.
type Config struct {
	MsizeCeiling uint32
	MaxWalkDepth *uint32

	// HighWaterMultiplier sets the write-queue backpressure threshold as
	// a multiple of the negotiated msize. Zero uses the default of 8.
	HighWaterMultiplier int
}

func (c Config) highWater(msize uint32) int {
	mult := c.HighWaterMultiplier
	if mult <= 0 {
		mult = 8
	}
	return mult * int(msize)
}

// fidEntry is what the fid table actually stores: the back-end's opaque
// per-fid state plus the dispatcher-owned walk-depth counter that
// the walk-depth guard needs but which the back-end has no reason to know
// about.
type fidEntry[S any] struct {
	state S
	depth uint32
}

// Session runs one connection's 9P2000.L conversation against a
// backend.Backend[S]. Metrics is an optional collaborator; a nil Metrics
// uses a no-op implementation.
type Session[S any] struct {
	conn    net.Conn
	backend backend.Backend[S]
	cfg     Config
	codec   *proto.Codec
	metrics Metrics

	fids *fidtable.Table[fidEntry[S]]

	mu    sync.Mutex
	ph    phase
	msize uint32

	barriers *fidBarriers

	reqMu       sync.Mutex
	outstanding map[uint16]*inflightRequest

	wq *writeQueue

	wg sync.WaitGroup
}

type inflightRequest struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Session ready to Serve conn against be. cfg.MsizeCeiling
// must be at least proto.MinMsize.
func New[S any](conn net.Conn, be backend.Backend[S], cfg Config, metrics Metrics) *Session[S] {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Session[S]{
		conn:        conn,
		backend:     be,
		cfg:         cfg,
		codec:       proto.NewCodec(),
		metrics:     metrics,
		fids:        fidtable.New[fidEntry[S]](),
		ph:          phaseUnversioned,
		msize:       proto.MinMsize,
		barriers:    newFidBarriers(),
		outstanding: make(map[uint16]*inflightRequest),
	}
}

// Serve drives the connection's read loop until the peer disconnects, a
// fatal protocol or transport error occurs, or ctx is cancelled. It always
// closes the underlying connection and drains the fid table through the
// back-end's Release capability before returning.
func (s *Session[S]) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("9p: panic in session", "remote", s.remoteAddr(), "panic", r)
		}
		s.close()
	}()

	ctx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	for {
		frame, err := s.codec.DecodeFrame(s.conn)
		if errors.Is(err, proto.ErrFrameTooLarge) {
			if s.wq != nil {
				s.wq.enqueue(s.codec.EncodeError(frame.Tag, proto.EMSGSIZE))
			} else {
				s.writeErrorBestEffort(frame.Tag, proto.EMSGSIZE)
			}
			continue
		}
		if err != nil {
			s.logTransportError(err)
			return
		}
		s.metrics.BytesTransferred("in", proto.HeaderSize+len(frame.Body))

		s.mu.Lock()
		ph := s.ph
		s.mu.Unlock()

		if ph == phaseUnversioned {
			if !s.handleVersionPhase(frame) {
				return
			}
			continue
		}

		if err := s.dispatchFrame(ctx, frame); err != nil {
			logger.Debugw("9p: fatal session error", "remote", s.remoteAddr(), "err", err)
			return
		}
	}
}

func (s *Session[S]) remoteAddr() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return "unknown"
	}
	return s.conn.RemoteAddr().String()
}

func (s *Session[S]) logTransportError(err error) {
	if errors.Is(err, io.EOF) {
		logger.Debugw("9p: connection closed by peer", "remote", s.remoteAddr())
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		logger.Debugw("9p: connection timed out", "remote", s.remoteAddr(), "err", err)
		return
	}
	logger.Debugw("9p: frame read error", "remote", s.remoteAddr(), "err", err)
}

// handleVersionPhase processes exactly one message while Unversioned. It
// returns false when the session must close.
func (s *Session[S]) handleVersionPhase(frame proto.Frame) bool {
	if frame.Type != proto.Tversion || frame.Tag != proto.NOTAG {
		logger.Debugw("9p: non-version message before negotiation", "remote", s.remoteAddr(), "type", proto.MessageName(frame.Type))
		s.writeErrorBestEffort(frame.Tag, proto.EPROTO)
		return false
	}

	msg, err := proto.DecodeBody(frame.Type, frame.Body)
	if err != nil {
		s.writeErrorBestEffort(frame.Tag, proto.EPROTO)
		return false
	}
	tversion := msg.(proto.TVersion)

	msize := tversion.Msize
	if msize > s.cfg.MsizeCeiling {
		msize = s.cfg.MsizeCeiling
	}
	if msize < proto.MinMsize {
		s.writeErrorBestEffort(frame.Tag, proto.EINVAL)
		return false
	}

	if tversion.Version != proto.Version {
		s.mu.Lock()
		s.msize = msize
		s.codec.Msize = msize
		s.mu.Unlock()
		s.writeVersionReply(proto.RVersion{Msize: msize, Version: proto.Unknown})
		return true
	}

	s.mu.Lock()
	s.msize = msize
	s.codec.Msize = msize
	s.ph = phaseVersioned
	s.mu.Unlock()

	s.wq = newWriteQueue(s.conn, s.cfg.highWater(msize))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wq.run()
	}()

	s.writeVersionReply(proto.RVersion{Msize: msize, Version: proto.Version})
	return true
}

// writeVersionReply writes an RVersion synchronously: it precedes the
// write queue's existence, so it bypasses it.
func (s *Session[S]) writeVersionReply(reply proto.RVersion) {
	c := proto.NewCodec()
	c.Msize = 0
	buf, _ := c.EncodeMessage(proto.NOTAG, reply)
	_, _ = s.conn.Write(buf)
}

func (s *Session[S]) writeErrorBestEffort(tag uint16, errno proto.Errno) {
	buf := s.codec.EncodeError(tag, errno)
	_, _ = s.conn.Write(buf)
}

// close tears the session down: it stops the write queue and drains every
// remaining fid through the back-end's Release capability.
func (s *Session[S]) close() {
	s.mu.Lock()
	alreadyClosed := s.ph == phaseClosed
	s.ph = phaseClosed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	_ = s.conn.Close()

	if s.wq != nil {
		s.wq.stop()
	}
	s.wg.Wait()

	for _, e := range s.fids.Drain() {
		s.backend.Release(e.state)
	}
}
