package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendBytesGrows(t *testing.T) {
	b := New()
	require.True(t, b.IsBlank())
	b.AppendBytes([]byte("hello"))
	require.Equal(t, "hello", b.String())
	require.Equal(t, 5, b.Len())

	b.AppendBytes([]byte(" world"))
	require.Equal(t, "hello world", b.String())
}

func TestTruncate(t *testing.T) {
	b := New()
	b.AppendBytes([]byte("abcdef"))
	b.Truncate(3)
	require.Equal(t, "abc", b.String())
	b.Truncate(0)
	require.True(t, b.IsBlank())
}

func TestTailCommit(t *testing.T) {
	b := New()
	b.AppendBytes([]byte("ab"))
	tail := b.Tail()
	require.GreaterOrEqual(t, len(tail), 1)
	copy(tail, []byte("XYZ"))
	b.Commit(3)
	require.Equal(t, "abXYZ", b.String())
}

func TestShiftLeft(t *testing.T) {
	b := New()
	b.AppendBytes([]byte("0123456789"))
	b.ShiftLeft(4)
	require.Equal(t, "456789", b.String())
}

func TestMoveAndSwap(t *testing.T) {
	src := New()
	src.AppendBytes([]byte("payload"))
	dst := New()
	dst.Move(src)
	require.Equal(t, "payload", dst.String())
	require.True(t, src.IsBlank())

	a := New()
	a.AppendBytes([]byte("aaa"))
	c := New()
	c.AppendBytes([]byte("ccc"))
	a.SwapWith(c)
	require.Equal(t, "ccc", a.String())
	require.Equal(t, "aaa", c.String())
}

func TestNewSizeRoundsUp(t *testing.T) {
	b := NewSize(100)
	require.Equal(t, 128, b.Cap())
}
