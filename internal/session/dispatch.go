package session

import (
	"context"
	"errors"
	"time"

	"github.com/l9p/l9p/internal/proto"
)

// errnoAborted is a dispatcher-internal sentinel: the back-end abandoned
// its call because the request context was cancelled. It never goes on the
// wire; handleRequest translates it into either a suppressed reply (the
// request was flushed) or EINTR (the back-end bailed without a flush).
const errnoAborted proto.Errno = ^proto.Errno(0)

// dispatchFrame decodes one Versioned-phase frame and either hands a Tflush
// to its own goroutine (as a cancellation signal, never registered as an
// outstanding request) or spawns a goroutine to service it. Tag liveness is enforced here: a tag reused
// while its original request is still outstanding fails with EPROTO
// without disturbing the original. Returns a non-nil error only for a
// fatal, session-closing decode failure.
func (s *Session[S]) dispatchFrame(ctx context.Context, frame proto.Frame) error {
	msg, err := proto.DecodeBody(frame.Type, frame.Body)
	if err != nil {
		s.writeErrorBestEffort(frame.Tag, proto.EPROTO)
		return err
	}

	if tflush, ok := msg.(proto.TFlush); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleFlush(frame.Tag, tflush.Oldtag)
		}()
		if s.wq != nil {
			s.wq.waitForCapacity()
		}
		return nil
	}

	s.reqMu.Lock()
	if _, live := s.outstanding[frame.Tag]; live {
		s.reqMu.Unlock()
		s.writeReply(frame.Tag, proto.RLerror{Ecode: uint32(proto.EPROTO)})
		return nil
	}
	reqCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.outstanding[frame.Tag] = &inflightRequest{cancel: cancel, done: done}
	s.reqMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()
		defer func() {
			s.reqMu.Lock()
			delete(s.outstanding, frame.Tag)
			s.reqMu.Unlock()
		}()
		s.handleRequest(reqCtx, frame.Tag, frame.Type, msg)
	}()

	if s.wq != nil {
		s.wq.waitForCapacity()
	}
	return nil
}

// handleRequest runs one decoded T-message to completion and writes its
// reply. The reply is suppressed only when the back-end itself abandoned
// the call on cancellation (a flushed request whose work never happened);
// a back-end that cannot cancel runs to completion and its reply is
// written as usual, ordered before the Rflush acknowledgment.
func (s *Session[S]) handleRequest(ctx context.Context, tag uint16, mtype uint8, msg proto.TMessage) {
	s.metrics.RequestStarted(mtype)
	start := time.Now()

	reply, errno := s.execute(ctx, msg)

	aborted := errno == errnoAborted
	if aborted {
		errno = proto.EINTR
		if ctx.Err() == nil {
			// A cancellation error with no cancellation pending: surface
			// it as an ordinary failure rather than dropping the reply.
			aborted = false
		}
	}

	s.metrics.RequestFinished(mtype, time.Since(start), errno)

	if aborted {
		return
	}

	if errno != 0 {
		s.writeReply(tag, proto.RLerror{Ecode: uint32(errno)})
		return
	}
	s.writeReply(tag, reply)
}

// handleFlush implements TFlush: cancel the outstanding request bearing
// oldtag, wait for it to finish (so its reply, if any, is ordered before
// RFlush on the wire), then acknowledge. A tag with no outstanding request
// is treated as already completed and acknowledged immediately.
func (s *Session[S]) handleFlush(tag, oldtag uint16) {
	s.reqMu.Lock()
	target, live := s.outstanding[oldtag]
	s.reqMu.Unlock()

	if live {
		target.cancel()
		<-target.done
	}
	s.writeReply(tag, proto.RFlush{})
}

func (s *Session[S]) writeReply(tag uint16, reply proto.RMessage) {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()

	buf, err := codec.EncodeMessage(tag, reply)
	if err != nil {
		buf = codec.EncodeError(tag, proto.EMSGSIZE)
	}
	s.metrics.BytesTransferred("out", len(buf))
	if s.wq != nil {
		s.wq.enqueue(buf)
		return
	}
	_, _ = s.conn.Write(buf)
}

// errnoFrom adapts a backend.Backend error into the wire errno it carries.
// A context cancellation error means the back-end observed the flush and
// abandoned the request, reported as the errnoAborted sentinel. Backends
// are otherwise documented to return proto.Errno values directly; anything
// else is an unmapped back-end failure reported as EIO (the fixed
// codec/protocol/msize errno mapping covers only core-detected causes).
func errnoFrom(err error) proto.Errno {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errnoAborted
	}
	if errno, ok := err.(proto.Errno); ok {
		return errno
	}
	return proto.EIO
}
