package chunkpool

import (
	"testing"

	"chunkqueue/chunk"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseDefaultChunk(t *testing.T) {
	p := New(4096)
	c := p.AcquireChunk(100)
	require.NotNil(t, c.Mem)
	c.Mem.AppendBytes([]byte("hi"))
	p.ReleaseChunk(c)

	c2 := p.AcquireChunk(100)
	require.True(t, c2.Mem.IsBlank(), "released chunk's buffer should be cleared on reuse")
}

func TestOversizedFreelistOrdering(t *testing.T) {
	p := New(64)
	a := p.AcquireChunk(200)
	a.Mem.AppendBytes(make([]byte, 150))
	b := p.AcquireChunk(500)
	b.Mem.AppendBytes(make([]byte, 400))

	p.ReleaseChunk(a)
	p.ReleaseChunk(b)

	require.Equal(t, 2, p.oversizedCount)
	require.GreaterOrEqual(t, p.oversizedChunks.Mem.Cap(), p.oversizedChunks.Next.Mem.Cap())
}

func TestOversizedCapEvictsSmallest(t *testing.T) {
	p := New(64)
	held := make([]*chunk.Chunk, 0, oversizedCap)
	for i := 0; i < oversizedCap; i++ {
		c := p.AcquireChunk(128)
		c.Mem.AppendBytes(make([]byte, 100))
		held = append(held, c)
	}
	for _, c := range held {
		p.ReleaseChunk(c)
	}
	require.Equal(t, oversizedCap, p.oversizedCount)

	big := p.AcquireChunk(4096)
	big.Mem.AppendBytes(make([]byte, 4000))
	p.ReleaseChunk(big)
	require.Equal(t, oversizedCap, p.oversizedCount, "cap should not be exceeded")
	require.Same(t, big, p.oversizedChunks, "the larger chunk must displace a smallest entry")
}

func TestAcquireReleaseBuffer(t *testing.T) {
	p := New(64)
	b := p.AcquireBuffer(32)
	b.AppendBytes([]byte("data"))
	p.ReleaseBuffer(b)
	require.True(t, b.IsBlank())
}

func TestYieldBuffer(t *testing.T) {
	p := New(64)
	b := p.AcquireBuffer(64)
	b.AppendBytes([]byte("keep-me"))
	p.YieldBuffer(b, 4096)
	require.GreaterOrEqual(t, b.Cap(), 4096)
}

func TestAcquireReleaseFileChunkStaysOnFileFreelist(t *testing.T) {
	p := New(4096)
	c := p.AcquireFileChunk()
	c.File.FD = 7
	p.ReleaseChunk(c)

	require.Nil(t, p.defaultChunks, "a released FILE chunk must not land on the default MEM freelist")
	require.NotNil(t, p.fileChunks)
	require.Equal(t, chunk.File, p.fileChunks.Tag)

	c2 := p.AcquireFileChunk()
	require.Equal(t, -1, c2.File.FD, "reused FILE shell must have its fd cleared")
}

func TestClear(t *testing.T) {
	p := New(64)
	c := p.AcquireChunk(64)
	p.ReleaseChunk(c)
	p.Clear()
	require.Nil(t, p.defaultChunks)
	require.Zero(t, p.oversizedCount)
}
