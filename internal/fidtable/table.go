// Package fidtable maps the 32-bit fid handles a client chooses to whatever
// per-fid state a back-end attaches to them.
package fidtable

import (
	"fmt"
	"sync"

	"github.com/l9p/l9p/internal/proto"
)

// ErrUnknownFid is returned by Get/Remove/Update when no entry exists for a
// fid, including after it has been clunked.
var ErrUnknownFid = fmt.Errorf("9p: unknown fid")

// ErrFidInUse is returned by Insert when the client reuses a fid that is
// still open, without first clunking it.
var ErrFidInUse = fmt.Errorf("9p: fid already in use")

// Table maps fids to arbitrary per-fid state for a single connection. It is
// safe for concurrent use: reads (Get) take the read lock, writes
// (Insert/Remove/Update) take the write lock. A connection's dispatcher
// calls Get far more often than it mutates the table, so the read lock is
// the common path.
type Table[S any] struct {
	mu      sync.RWMutex
	entries map[uint32]S
}

// New returns an empty fid table.
func New[S any]() *Table[S] {
	return &Table[S]{entries: make(map[uint32]S)}
}

// Insert adds state for fid. It fails if fid is proto.NOFID or already
// present, so a client can never silently clobber a live handle.
func (t *Table[S]) Insert(fid uint32, state S) error {
	if fid == proto.NOFID {
		return fmt.Errorf("9p: cannot use fid %#x (NOFID)", proto.NOFID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[fid]; exists {
		return ErrFidInUse
	}
	t.entries[fid] = state
	return nil
}

// Get returns the state attached to fid.
func (t *Table[S]) Get(fid uint32) (S, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.entries[fid]
	if !ok {
		var zero S
		return zero, ErrUnknownFid
	}
	return s, nil
}

// Remove deletes fid's entry and returns the state it held, so the caller
// can release any resources (open file descriptors, locks) it references.
func (t *Table[S]) Remove(fid uint32) (S, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.entries[fid]
	if !ok {
		var zero S
		return zero, ErrUnknownFid
	}
	delete(t.entries, fid)
	return s, nil
}

// Update replaces the state attached to fid in place, used by Twalk when
// newfid == fid (walking a fid onto itself), by Tlcreate to move the fid
// onto the created file, and by Txattrcreate (and Txattrwalk with
// newfid == fid) to swap in xattr state.
func (t *Table[S]) Update(fid uint32, state S) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[fid]; !ok {
		return ErrUnknownFid
	}
	t.entries[fid] = state
	return nil
}

// Len reports the number of live fids, used by tests and by metrics.
func (t *Table[S]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Drain removes and returns every entry, used on connection teardown to
// hand every still-open fid's state to the back-end for cleanup.
func (t *Table[S]) Drain() []S {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]S, 0, len(t.entries))
	for _, s := range t.entries {
		out = append(out, s)
	}
	t.entries = make(map[uint32]S)
	return out
}
