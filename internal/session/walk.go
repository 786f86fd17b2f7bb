package session

import (
	"context"

	"github.com/l9p/l9p/internal/proto"
)

// maxWalkElements bounds a single Twalk's name count independent of
// MaxWalkDepth: the 9P wire format allows up to 16 names per message.
const maxWalkElements = 16

// walk implements Twalk, including its partial-success semantics (stop at
// the first unresolved name, report however many qids were produced, never
// install newfid on anything but full success) and the max-walk-depth
// pre-check: depth is tracked per fid by the dispatcher, not the back-end,
// and a walk that would exceed it fails outright with ELOOP rather than
// partially.
func (s *Session[S]) walk(ctx context.Context, t proto.TWalk) (proto.RMessage, proto.Errno) {
	if len(t.Wnames) > maxWalkElements {
		return nil, proto.EINVAL
	}
	if t.Newfid == t.Fid && len(t.Wnames) > 0 {
		return nil, proto.EINVAL
	}

	e, errno := s.getFid(t.Fid)
	if errno != 0 {
		return nil, errno
	}
	release := s.barriers.enter(t.Fid)
	defer release()

	if s.cfg.MaxWalkDepth != nil {
		if walkDepthExceeds(e.depth, t.Wnames, *s.cfg.MaxWalkDepth) {
			return nil, proto.ELOOP
		}
	}
	finalDepth := walkDepthAfter(e.depth, t.Wnames)

	qids, newState, err := s.backend.Walk(ctx, e.state, t.Wnames)
	if err != nil {
		// First-component failure: no fid is ever touched.
		return nil, errnoFrom(err)
	}
	if len(qids) < len(t.Wnames) {
		// Partial resolution beyond the first component is a successful
		// RWalk reply carrying only the resolved prefix; newfid is never
		// installed.
		return proto.RWalk{Wqids: qids}, 0
	}

	newEntry := fidEntry[S]{state: newState, depth: finalDepth}
	if t.Newfid == t.Fid {
		if err := s.fids.Update(t.Newfid, newEntry); err != nil {
			s.backend.Release(newState)
			return nil, proto.EBADF
		}
		return proto.RWalk{Wqids: qids}, 0
	}

	if errno := s.checkFidFree(t.Newfid); errno != 0 {
		s.backend.Release(newState)
		return nil, errno
	}
	if err := s.fids.Insert(t.Newfid, newEntry); err != nil {
		s.backend.Release(newState)
		return nil, proto.EMFILE
	}
	s.reportFids()
	return proto.RWalk{Wqids: qids}, 0
}

func stepDepth(d uint32, name string) uint32 {
	switch name {
	case ".":
		return d
	case "..":
		if d > 0 {
			return d - 1
		}
		return 0
	default:
		return d + 1
	}
}

func walkDepthAfter(start uint32, names []string) uint32 {
	d := start
	for _, n := range names {
		d = stepDepth(d, n)
	}
	return d
}

// walkDepthExceeds checks the running depth at every step, not just the
// final value: a walk that climbs past the limit and only later descends
// back under it still must fail.
func walkDepthExceeds(start uint32, names []string, max uint32) bool {
	d := start
	for _, n := range names {
		d = stepDepth(d, n)
		if d > max {
			return true
		}
	}
	return false
}
