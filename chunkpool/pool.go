// Package chunkpool provides process-wide freelists of chunk.Chunk and
// buffer.Buffer values, so a chunk queue's steady-state operation does not
// allocate once its working set has been touched once.
package chunkpool

import (
	"chunkqueue/buffer"
	"chunkqueue/chunk"
)

// oversizedCap bounds how many above-default-size buffers the oversized
// freelist retains. A heuristic, not a contractual limit (spec.md §9 open
// question): kept as a tunable constant rather than wired to
// configuration.
const oversizedCap = 64

// Pool holds four freelists: default-size MEM buffers, oversized MEM
// buffers (kept sorted by descending capacity), FILE-shaped chunk shells,
// and "lent-out" chunk shells whose Mem buffer has been extracted and
// handed to a caller directly (AcquireBuffer/ReleaseBuffer).
type Pool struct {
	chunkBufSize int

	defaultChunks   *chunk.Chunk // MEM chunks whose buffer is exactly chunkBufSize
	oversizedChunks *chunk.Chunk // MEM chunks whose buffer exceeds chunkBufSize, descending by Cap
	oversizedCount  int
	fileChunks      *chunk.Chunk // FILE-tagged shells, Mem left nil
	lentBuffers     *chunk.Chunk // shells whose Mem has been lent out via AcquireBuffer
}

// New returns a Pool whose default MEM chunk buffers are sized to
// chunkBufSize (rounded up to a power of two).
func New(chunkBufSize int) *Pool {
	return &Pool{chunkBufSize: roundPow2(chunkBufSize)}
}

func roundPow2(want int) int {
	n := 64
	for n < want {
		n <<= 1
	}
	return n
}

// ChunkBufSize returns the pool's default MEM buffer size.
func (p *Pool) ChunkBufSize() int { return p.chunkBufSize }

// AcquireChunk returns a ready-to-use MEM chunk, reusing a pooled one when
// available. sz is a sizing hint only; chunks smaller than sz but still
// usable are never rejected by callers, matching chunk.c's freelist reuse.
func (p *Pool) AcquireChunk(sz int) *chunk.Chunk {
	var c *chunk.Chunk
	if sz <= p.chunkBufSize && p.defaultChunks != nil {
		c = p.defaultChunks
		p.defaultChunks = c.Next
	} else if c = p.popOversized(sz); c == nil && p.defaultChunks != nil {
		c = p.defaultChunks
		p.defaultChunks = c.Next
	}
	if c == nil {
		c = chunk.NewSize(max(sz, p.chunkBufSize))
		return c
	}
	c.Next = nil
	return c
}

// ReleaseChunk returns c to the appropriate freelist after resetting it.
// The variant is captured before Reset runs, since Reset always leaves the
// chunk tagged Mem — a FILE shell must land on fileChunks, not be
// reclassified by whatever zero-cap Mem buffer it's handed afterward.
func (p *Pool) ReleaseChunk(c *chunk.Chunk) {
	if c == nil {
		return
	}
	wasFile := c.Tag == chunk.File
	c.Reset()
	if wasFile {
		c.Tag = chunk.File
		c.Mem = nil
		c.File.FD = -1
		c.Next = p.fileChunks
		p.fileChunks = c
		return
	}
	if c.Mem == nil {
		c.Mem = buffer.New()
	}
	if c.Mem.Cap() > p.chunkBufSize {
		p.pushOversized(c)
		return
	}
	if c.Mem.Cap() < p.chunkBufSize {
		// Smaller than the default size: not pooled.
		return
	}
	c.Next = p.defaultChunks
	p.defaultChunks = c
}

// AcquireFileChunk returns a ready-to-use FILE-shaped chunk shell.
func (p *Pool) AcquireFileChunk() *chunk.Chunk {
	if p.fileChunks != nil {
		c := p.fileChunks
		p.fileChunks = c.Next
		c.Next = nil
		c.Tag = chunk.File
		c.File.FD = -1
		return c
	}
	return &chunk.Chunk{Tag: chunk.File, File: chunk.FileState{FD: -1}}
}

// popOversized removes and returns the first oversized chunk whose
// capacity is >= sz, or nil. The list is sorted by descending capacity, so
// this is the largest chunk whenever the head itself fits.
func (p *Pool) popOversized(sz int) *chunk.Chunk {
	var prev *chunk.Chunk
	for c := p.oversizedChunks; c != nil; c = c.Next {
		if c.Mem.Cap() >= sz {
			if prev == nil {
				p.oversizedChunks = c.Next
			} else {
				prev.Next = c.Next
			}
			p.oversizedCount--
			c.Next = nil
			return c
		}
		prev = c
	}
	return nil
}

// pushOversized inserts c into the oversized freelist, kept sorted
// non-increasing by capacity. If the list is already at oversizedCap, the
// new chunk displaces the smallest entry only if larger than it
// ("steal the larger buffer" convention); otherwise it is discarded
// (allowed to be garbage collected).
func (p *Pool) pushOversized(c *chunk.Chunk) {
	if p.oversizedCount >= oversizedCap {
		// Find the smallest element; replace it if c is larger.
		var prevSmallest, smallest *chunk.Chunk
		var prev *chunk.Chunk
		for cur := p.oversizedChunks; cur != nil; cur = cur.Next {
			if smallest == nil || cur.Mem.Cap() < smallest.Mem.Cap() {
				smallest = cur
				prevSmallest = prev
			}
			prev = cur
		}
		if smallest == nil || c.Mem.Cap() <= smallest.Mem.Cap() {
			return
		}
		if prevSmallest == nil {
			p.oversizedChunks = smallest.Next
		} else {
			prevSmallest.Next = smallest.Next
		}
		p.oversizedCount--
	}

	var prev *chunk.Chunk
	cur := p.oversizedChunks
	for cur != nil && cur.Mem.Cap() >= c.Mem.Cap() {
		prev = cur
		cur = cur.Next
	}
	c.Next = cur
	if prev == nil {
		p.oversizedChunks = c
	} else {
		prev.Next = c
	}
	p.oversizedCount++
}

// AcquireBuffer returns a standalone buffer.Buffer of at least sz capacity,
// pulled from a pooled chunk's Mem field when possible. The chunk shell
// that lent it out is retained on the "lent" freelist until ReleaseBuffer
// returns the buffer.
func (p *Pool) AcquireBuffer(sz int) *buffer.Buffer {
	c := p.AcquireChunk(sz)
	b := c.Mem
	c.Mem = nil
	c.Next = p.lentBuffers
	p.lentBuffers = c
	return b
}

// ReleaseBuffer returns a buffer previously obtained from AcquireBuffer,
// reclaiming a lent-out shell to carry it back into the chunk freelists.
func (p *Pool) ReleaseBuffer(b *buffer.Buffer) {
	if b == nil {
		return
	}
	b.Clear()
	var shell *chunk.Chunk
	if p.lentBuffers != nil {
		shell = p.lentBuffers
		p.lentBuffers = shell.Next
		shell.Next = nil
	} else {
		shell = &chunk.Chunk{Tag: chunk.Mem}
	}
	shell.Tag = chunk.Mem
	shell.Mem = b
	p.ReleaseChunk(shell)
}

// YieldBuffer swaps dst's storage with a pooled buffer of at least sz
// capacity, the pattern used when a caller wants to relinquish an oversized
// allocation but keep using the (now swapped) Buffer value in place. dst
// comes back blank; its previous storage, content included, is cleared and
// returned to the pool.
func (p *Pool) YieldBuffer(dst *buffer.Buffer, sz int) {
	fresh := p.AcquireBuffer(sz)
	dst.SwapWith(fresh)
	p.ReleaseBuffer(fresh)
}

// Clear releases every pooled chunk/buffer, leaving the pool empty but
// still usable (next Acquire* calls allocate fresh).
func (p *Pool) Clear() {
	for _, head := range []*chunk.Chunk{p.defaultChunks, p.oversizedChunks, p.fileChunks, p.lentBuffers} {
		for c := head; c != nil; {
			next := c.Next
			c.Free()
			c = next
		}
	}
	p.defaultChunks = nil
	p.oversizedChunks = nil
	p.oversizedCount = 0
	p.fileChunks = nil
	p.lentBuffers = nil
}

// Free is an alias for Clear, matching chunk.c's chunkqueue_chunk_pool_free
// naming at call sites that never reuse the pool afterward.
func (p *Pool) Free() { p.Clear() }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
