package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDirents(t *testing.T) {
	ents := []Dirent{
		{Qid: Qid{Type: QTDIR, Path: 1}, Offset: 1, Type: 4, Name: "."},
		{Qid: Qid{Type: QTDIR, Path: 2}, Offset: 2, Type: 4, Name: ".."},
		{Qid: Qid{Type: QTFILE, Path: 3}, Offset: 3, Type: 8, Name: "readme.txt"},
	}

	buf := encodeDirents(ents, 4096)
	decoded, err := DecodeDirents(buf)
	require.NoError(t, err)
	assert.Equal(t, ents, decoded)
}

func TestEncodeDirentsStopsBeforeExceedingMax(t *testing.T) {
	ents := []Dirent{
		{Qid: Qid{Path: 1}, Name: "aaaaaaaaaa"},
		{Qid: Qid{Path: 2}, Name: "bbbbbbbbbb"},
		{Qid: Qid{Path: 3}, Name: "cccccccccc"},
	}
	max := ents[0].encodedSize() + ents[1].encodedSize()
	buf := encodeDirents(ents, max)

	decoded, err := DecodeDirents(buf)
	require.NoError(t, err)
	assert.Len(t, decoded, 2)
	assert.LessOrEqual(t, len(buf), max)
}
