package chunkqueue

import (
	"chunkqueue/buffer"
	"chunkqueue/chunk"
)

// appendChunk links c onto the tail of the queue.
func (q *Queue) appendChunk(c *chunk.Chunk) {
	c.Next = nil
	if q.last == nil {
		q.first = c
		q.last = c
		return
	}
	q.last.Next = c
	q.last = c
}

// prependChunk links c onto the head of the queue.
func (q *Queue) prependChunk(c *chunk.Chunk) {
	c.Next = q.first
	q.first = c
	if q.last == nil {
		q.last = c
	}
}

// lastIsOpenMem reports whether the tail chunk is a MEM chunk still
// eligible for direct appends (i.e. not yet spilled past).
func (q *Queue) lastIsOpenMem() bool {
	return q.last != nil && q.last.Tag == chunk.Mem
}

// appendMemExtend appends p to the queue's tail MEM chunk in place only
// when p is itself smaller than the pool's default chunk size and the tail
// chunk already has enough free space to hold it; otherwise a fresh chunk
// is acquired. In-place appends therefore never grow the tail beyond its
// existing allocation, so chunk_buf_sz stays the effective split point
// between chunks rather than just a sizing hint for the first one; a single
// payload of chunkBufSize bytes or more gets a chunk of its own, sized to
// fit it.
func (q *Queue) appendMemExtend(p []byte) {
	bufSize := q.pool.ChunkBufSize()
	if q.lastIsOpenMem() && len(p) < bufSize && q.last.Mem.Space() >= len(p) {
		q.last.Mem.AppendBytes(p)
		q.bytesIn += int64(len(p))
		return
	}
	c := q.pool.AcquireChunk(len(p))
	c.Mem.AppendBytes(p)
	q.appendChunk(c)
	q.bytesIn += int64(len(p))
}

// AppendMem appends p as MEM content, spilling to a temp file first if the
// queue has already crossed its spill threshold.
func (q *Queue) AppendMem(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if q.spilling || q.shouldSpill() {
		return q.AppendMemToTempfile(p)
	}
	q.appendMemExtend(p)
	return nil
}

// AppendMemMin appends p as MEM content unconditionally, bypassing the
// spill threshold check; used for small control fragments (e.g. framing)
// that should never be pushed to disk regardless of queue state.
func (q *Queue) AppendMemMin(p []byte) {
	q.appendMemExtend(p)
}

// AppendBuffer transfers ownership of b's storage directly into a new
// tail chunk in O(1), clearing b.
func (q *Queue) AppendBuffer(b *buffer.Buffer) {
	if b.IsBlank() {
		return
	}
	n := b.Len()
	c := q.pool.AcquireChunk(0)
	c.Mem.Move(b)
	q.appendChunk(c)
	q.bytesIn += int64(n)
}

// appendMemChunk appends an already-built MEM chunk directly.
func (q *Queue) appendMemChunk(c *chunk.Chunk) {
	q.appendChunk(c)
	q.bytesIn += c.RemainingLength()
}

// AppendFile appends a FILE chunk referencing path, opening it with
// platform.OpenCloexec and taking ownership of the resulting fd. length is
// the number of bytes from the start of the file that belong to this
// chunk.
func (q *Queue) AppendFile(path string, length int64) error {
	fd, err := openFileChunk(path)
	if err != nil {
		return err
	}
	return q.AppendFileFD(fd, length, false, nil, nil)
}

// AppendFileFD appends a FILE chunk backed by an already-open fd. If
// refChg is non-nil, the chunk shares fd with an external owner and
// refChg(ref, +1) is invoked to register the share instead of the chunk
// closing fd directly on release.
func (q *Queue) AppendFileFD(fd int, length int64, isTemp bool, ref any, refChg RefChangeFunc) error {
	c := q.pool.AcquireFileChunk()
	c.Tag = chunk.File
	c.File = chunk.FileState{
		FD:     fd,
		Length: length,
		IsTemp: isTemp,
		Ref:    ref,
		RefChg: chunk.RefChange(refChg),
	}
	if refChg != nil {
		refChg(ref, 1)
	}
	q.appendChunk(c)
	q.bytesIn += length
	return nil
}

// RefChangeFunc mirrors chunk.RefChange so callers outside this module
// don't need to import the chunk package just to pass a callback.
type RefChangeFunc = chunk.RefChange

// AppendChunkQueue relinks src's entire chunk list onto the tail of q in
// O(1) and empties src, the whole-queue splice described in spec.md §12
// (chunkqueue_append_chunkqueue).
func (q *Queue) AppendChunkQueue(src *Queue) {
	if src == nil || src.first == nil {
		return
	}
	if q.last == nil {
		q.first = src.first
	} else {
		q.last.Next = src.first
	}
	q.last = src.last
	q.bytesIn += src.Len()

	src.first = nil
	src.last = nil
	src.bytesIn = src.bytesOut
}

// PrependBufferOpen reserves a writable region of exactly sz bytes in a
// fresh chunk at the head of the queue for the caller to fill directly
// (e.g. a framing prefix computed after the body it precedes). Call
// PrependBufferCommit once the caller knows how many bytes were actually
// used; the chunk is brand new and invisible to any other reader until
// then, so reserving before committing is safe.
func (q *Queue) PrependBufferOpen(sz int) []byte {
	c := q.pool.AcquireChunk(sz)
	reserved := c.Mem.Extend(sz)
	q.prependChunk(c)
	return reserved
}

// PrependBufferCommit trims the head chunk reserved by PrependBufferOpen
// down to the n bytes actually used.
func (q *Queue) PrependBufferCommit(n int) {
	if q.first == nil {
		return
	}
	q.first.Mem.Truncate(n)
	q.bytesIn += int64(n)
}

// AppendBufferOpen reserves a writable region of exactly sz bytes in a
// fresh tail chunk for the caller to fill directly. Call
// AppendBufferCommit once the caller knows how many bytes were actually
// used.
func (q *Queue) AppendBufferOpen(sz int) []byte {
	c := q.pool.AcquireChunk(sz)
	reserved := c.Mem.Extend(sz)
	q.appendChunk(c)
	return reserved
}

// AppendBufferCommit trims the tail chunk reserved by AppendBufferOpen
// down to the n bytes actually used.
func (q *Queue) AppendBufferCommit(n int) {
	if q.last == nil {
		return
	}
	q.last.Mem.Truncate(n)
	q.bytesIn += int64(n)
}

// GetMemory reserves a writable tail region of at least hint bytes without
// committing any of it yet, and returns a checkpoint chunk pointer to pass
// to UseMemory once the caller knows how many bytes were actually
// produced (spec.md §12, chunkqueue_get_memory).
func (q *Queue) GetMemory(hint int) ([]byte, *chunk.Chunk) {
	if hint <= 0 {
		hint = q.pool.ChunkBufSize()
	}
	if !q.lastIsOpenMem() || q.last.Mem.Space() < hint {
		c := q.pool.AcquireChunk(hint)
		q.appendChunk(c)
	}
	return q.last.Mem.Tail(), q.last
}

// UseMemory commits n bytes previously written into the slice returned by
// GetMemory's matching checkpoint chunk (spec.md §12,
// chunkqueue_use_memory).
func (q *Queue) UseMemory(checkpoint *chunk.Chunk, n int) {
	if n <= 0 || checkpoint == nil {
		return
	}
	checkpoint.Mem.Commit(n)
	q.bytesIn += int64(n)
}

// UpdateFile extends the recorded length of a FILE chunk already in the
// queue by n bytes, for producers that write directly into a file a chunk
// already references (spec.md §12, chunkqueue_update_file).
func (q *Queue) UpdateFile(c *chunk.Chunk, n int64) {
	if c == nil || c.Tag != chunk.File || n <= 0 {
		return
	}
	c.File.Length += n
	q.bytesIn += n
}
