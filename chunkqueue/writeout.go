package chunkqueue

import (
	"fmt"
	"io"
	"syscall"

	"chunkqueue/chunk"
	"chunkqueue/platform"
)

// smallResponseThreshold bounds how large the trailing FILE chunk can be
// for SmallResponseOptimization to merge it into the preceding MEM chunk.
const smallResponseThreshold = 16 * 1024

func openFileChunk(path string) (int, error) {
	fd, err := platform.OpenCloexec(path, true, syscall.O_RDONLY, 0)
	if err != nil {
		return -1, fmt.Errorf("chunkqueue: open %s: %w", path, err)
	}
	return fd, nil
}

// writeChunkMem writes as much of the head MEM chunk's remaining bytes as
// the destination accepts in one non-blocking write, returning the number
// of bytes actually written.
func writeChunkMem(dstFD int, c *chunk.Chunk) (int, error) {
	data := c.Mem.Bytes()[c.Offset:]
	if len(data) == 0 {
		return 0, nil
	}
	n, err := platform.Write(dstFD, data)
	if err != nil {
		if platform.IsAgain(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// mmapAlignOffset rounds offset down to the nearest page boundary, since
// mmap requires a page-aligned offset; the difference is folded back into
// the returned slice's start.
func mmapAlignOffset(offset int64) (aligned int64, skew int64) {
	ps := int64(platform.PageSize())
	aligned = (offset / ps) * ps
	skew = offset - aligned
	return aligned, skew
}

func mmapChunkLen(remaining int64, cap int) int64 {
	if remaining > int64(cap) {
		return int64(cap)
	}
	return remaining
}

// writeChunkFileIntermed bounces a FILE chunk's bytes through a small
// in-process buffer (pread then write) for destinations that can't accept
// sendfile/splice (e.g. TLS-wrapped connections upstream of this layer).
func writeChunkFileIntermed(dstFD int, c *chunk.Chunk, buf []byte) (int, error) {
	n, err := platform.Pread(c.File.FD, buf, c.Offset)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	written, err := platform.Write(dstFD, buf[:n])
	if err != nil {
		if platform.IsAgain(err) {
			return 0, nil
		}
		return 0, err
	}
	return written, nil
}

// writeChunkFile writes as much of the head FILE chunk's remaining bytes
// to dstFD as it can in one call, trying kernel-assisted sendfile first,
// falling back to an mmap'd read-then-write window, and finally a small
// pread/write bounce buffer if mmap itself is unavailable.
func writeChunkFile(dstFD int, c *chunk.Chunk) (int, error) {
	remaining := c.RemainingLength()
	if remaining <= 0 {
		return 0, nil
	}

	n, sferr := platform.Sendfile(dstFD, c.File.FD, c.Offset, int(remaining))
	if sferr == nil {
		return n, nil
	}
	if platform.IsAgain(sferr) {
		return 0, nil
	}
	// Any other sendfile failure (e.g. unsupported destination type) falls
	// through to the mmap bounce path below.

	const mmapWindow = 512 * 1024
	aligned, skew := mmapAlignOffset(c.Offset)
	winLen := mmapChunkLen(remaining+skew, mmapWindow)
	if !c.File.Mmap.Valid() || c.File.Mmap.Offset != aligned {
		c.File.Mmap.Reset()
		mapped, err := platform.Mmap(c.File.FD, aligned, int(winLen))
		if err != nil {
			buf := make([]byte, 64*1024)
			return writeChunkFileIntermed(dstFD, c, buf)
		}
		c.File.Mmap = chunk.Mmap{Start: mapped, Offset: aligned, Length: winLen}
	}
	data := c.File.Mmap.Start[skew:]
	if int64(len(data)) > remaining {
		data = data[:remaining]
	}
	n, err := platform.Write(dstFD, data)
	if err != nil {
		if platform.IsAgain(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// WriteChunk writes as much of the queue's head chunk as the destination
// fd accepts in one non-blocking call, advancing bytesOut and the head
// chunk's offset, releasing it once fully consumed. Returns the number of
// bytes written; 0 with a nil error means the destination is not ready
// (EAGAIN) and the caller should retry once writable again.
func (q *Queue) WriteChunk(dstFD int) (int, error) {
	if q.first == nil {
		return 0, nil
	}
	c := q.first
	var n int
	var err error
	switch c.Tag {
	case chunk.Mem:
		n, err = writeChunkMem(dstFD, c)
	case chunk.File:
		n, err = writeChunkFile(dstFD, c)
	}
	if err != nil {
		q.logPerror("write chunk", err)
		return n, err
	}
	if n > 0 {
		c.Offset += int64(n)
		q.bytesOut += int64(n)
		if c.RemainingLength() == 0 {
			q.first = c.Next
			if q.first == nil {
				q.last = nil
			}
			q.pool.ReleaseChunk(c)
		}
	}
	return n, nil
}

// WriteChunkToPipe is WriteChunk specialized for a pipe destination: MEM
// chunks bounce through a plain write (pipes have no special-cased
// zero-copy path for userspace buffers), while FILE chunks use splice
// directly, since splice (unlike sendfile) supports pipe destinations for
// file sources without an intermediate userspace copy.
func (q *Queue) WriteChunkToPipe(pipeWriteFD int) (int, error) {
	if q.first == nil {
		return 0, nil
	}
	c := q.first
	var n int64
	var err error
	switch c.Tag {
	case chunk.Mem:
		written, werr := writeChunkMem(pipeWriteFD, c)
		n, err = int64(written), werr
	case chunk.File:
		remaining := c.RemainingLength()
		off := c.Offset
		n, err = platform.Splice(c.File.FD, &off, pipeWriteFD, nil, int(remaining), 0)
	}
	if err != nil {
		if platform.IsAgain(err) {
			return 0, nil
		}
		q.logPerror("write chunk to pipe", err)
		return 0, err
	}
	if n > 0 {
		c.Offset += n
		q.bytesOut += n
		if c.RemainingLength() == 0 {
			q.first = c.Next
			if q.first == nil {
				q.last = nil
			}
			q.pool.ReleaseChunk(c)
		}
	}
	return int(n), nil
}

// SmallResponseOptimization merges a small MEM header chunk with one
// immediately following, already-open FILE chunk by reading the file's
// bytes straight into the header's buffer via positional reads, then
// releasing the FILE chunk — collapsing the common "short header + small
// body file" pair into a single MEM chunk so write-out doesn't pay for a
// sendfile/splice round trip over a handful of bytes. Reports whether a
// merge happened; a false return with a nil error means the shape didn't
// qualify (not a MEM-then-FILE pair, or the FILE chunk is too large) and
// the queue was left untouched.
func (q *Queue) SmallResponseOptimization() (bool, error) {
	head := q.first
	if head == nil || head.Tag != chunk.Mem {
		return false, nil
	}
	fc := head.Next
	if fc == nil || fc.Tag != chunk.File || fc != q.last {
		return false, nil
	}
	remaining := fc.RemainingLength()
	if remaining <= 0 || remaining > smallResponseThreshold {
		return false, nil
	}

	dst := head.Mem.Extend(int(remaining))
	off := fc.Offset
	read := 0
	for read < len(dst) {
		n, err := platform.Pread(fc.File.FD, dst[read:], off+int64(read))
		if err != nil {
			if platform.IsAgain(err) {
				continue
			}
			head.Mem.Truncate(head.Mem.Len() - len(dst))
			return false, q.appendTempfileErr("small response merge", err)
		}
		if n == 0 {
			// Short read past EOF; the file is shorter than its recorded
			// length (e.g. truncated concurrently). Stop here rather than
			// spinning, keeping whatever was already merged.
			break
		}
		read += n
	}
	head.Mem.Truncate(head.Mem.Len() - (len(dst) - read))

	if read < len(dst) {
		// The FILE chunk stays queued, advanced past the merged bytes, so
		// the queue still accounts for the bytes that were not read.
		fc.Offset += int64(read)
		return true, nil
	}

	head.Next = nil
	q.last = head
	q.pool.ReleaseChunk(fc)
	return true, nil
}

// WriteAllTo drains the queue into w until empty, the write-out path for
// destinations that only expose an io.Writer (e.g. fasthttp's
// SetBodyStreamWriter callback) rather than a raw fd WriteChunk/
// WriteChunkToPipe could act on directly. MEM chunks write straight from
// their backing buffer; FILE chunks bounce through a bounded pread buffer,
// the same intermediate-copy pattern writeChunkFileIntermed uses for
// fd destinations that can't accept sendfile.
func (q *Queue) WriteAllTo(w io.Writer) (int64, error) {
	var total int64
	buf := make([]byte, 64*1024)
	for q.first != nil {
		c := q.first
		var n int
		var err error
		switch c.Tag {
		case chunk.Mem:
			n, err = w.Write(c.Mem.Bytes()[c.Offset:])
		case chunk.File:
			n, err = readWriteFileChunk(w, c, buf)
		}
		if n > 0 {
			c.Offset += int64(n)
			q.bytesOut += int64(n)
			total += int64(n)
		}
		if err != nil {
			q.logPerror("write all to", err)
			return total, err
		}
		if c.RemainingLength() == 0 {
			q.first = c.Next
			if q.first == nil {
				q.last = nil
			}
			q.pool.ReleaseChunk(c)
		}
	}
	return total, nil
}

// readWriteFileChunk reads the head FILE chunk's next slice via pread and
// writes it to w, used by WriteAllTo for non-fd destinations.
func readWriteFileChunk(w io.Writer, c *chunk.Chunk, buf []byte) (int, error) {
	remaining := c.RemainingLength()
	want := int64(len(buf))
	if want > remaining {
		want = remaining
	}
	n, err := platform.Pread(c.File.FD, buf[:want], c.Offset)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	written, err := w.Write(buf[:n])
	return written, err
}
