package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsBlankMem(t *testing.T) {
	c := New()
	require.Equal(t, Mem, c.Tag)
	require.Zero(t, c.RemainingLength())
}

func TestRemainingLengthMem(t *testing.T) {
	c := New()
	c.Mem.AppendBytes([]byte("0123456789"))
	c.Offset = 3
	require.EqualValues(t, 7, c.RemainingLength())
}

func TestRemainingLengthFile(t *testing.T) {
	c := &Chunk{Tag: File, File: FileState{FD: -1, Length: 100}}
	c.Offset = 40
	require.EqualValues(t, 60, c.RemainingLength())
}

func TestResetClearsFileState(t *testing.T) {
	called := false
	c := &Chunk{
		Tag: File,
		File: FileState{
			FD:     -1,
			Length: 10,
			Ref:    "x",
			RefChg: func(ref any, delta int) { called = true },
		},
	}
	c.Reset()
	require.Equal(t, Mem, c.Tag)
	require.True(t, called)
	require.Zero(t, c.Offset)
}
