package fidtable

import (
	"sync"
	"testing"

	"github.com/l9p/l9p/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	path string
}

func TestInsertGetRemove(t *testing.T) {
	tbl := New[fakeState]()

	require.NoError(t, tbl.Insert(1, fakeState{path: "/a"}))
	s, err := tbl.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "/a", s.path)

	removed, err := tbl.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, "/a", removed.path)

	_, err = tbl.Get(1)
	assert.ErrorIs(t, err, ErrUnknownFid)
}

func TestInsertRejectsDuplicateFid(t *testing.T) {
	tbl := New[fakeState]()
	require.NoError(t, tbl.Insert(1, fakeState{path: "/a"}))
	err := tbl.Insert(1, fakeState{path: "/b"})
	assert.ErrorIs(t, err, ErrFidInUse)
}

func TestInsertRejectsNofid(t *testing.T) {
	tbl := New[fakeState]()
	err := tbl.Insert(proto.NOFID, fakeState{})
	assert.Error(t, err)
}

func TestClunkThenReuseFid(t *testing.T) {
	tbl := New[fakeState]()
	require.NoError(t, tbl.Insert(5, fakeState{path: "/first"}))
	_, err := tbl.Remove(5)
	require.NoError(t, err)

	// A fid is free for reuse once clunked.
	require.NoError(t, tbl.Insert(5, fakeState{path: "/second"}))
	s, err := tbl.Get(5)
	require.NoError(t, err)
	assert.Equal(t, "/second", s.path)
}

func TestUpdateRequiresExistingFid(t *testing.T) {
	tbl := New[fakeState]()
	err := tbl.Update(9, fakeState{path: "/x"})
	assert.ErrorIs(t, err, ErrUnknownFid)

	require.NoError(t, tbl.Insert(9, fakeState{path: "/x"}))
	require.NoError(t, tbl.Update(9, fakeState{path: "/y"}))
	s, err := tbl.Get(9)
	require.NoError(t, err)
	assert.Equal(t, "/y", s.path)
}

func TestDrainClearsTable(t *testing.T) {
	tbl := New[fakeState]()
	require.NoError(t, tbl.Insert(1, fakeState{path: "/a"}))
	require.NoError(t, tbl.Insert(2, fakeState{path: "/b"}))

	drained := tbl.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, tbl.Len())
}

func TestConcurrentInsertGet(t *testing.T) {
	tbl := New[fakeState]()
	var wg sync.WaitGroup
	for i := uint32(1); i <= 100; i++ {
		wg.Add(1)
		go func(fid uint32) {
			defer wg.Done()
			require.NoError(t, tbl.Insert(fid, fakeState{path: "/x"}))
			_, err := tbl.Get(fid)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, tbl.Len())
}
