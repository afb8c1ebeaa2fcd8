package chunkqueue

import (
	"fmt"
	"io"

	"chunkqueue/buffer"
	"chunkqueue/chunk"
	"chunkqueue/platform"
)

// PeekData returns the queue's remaining content as a single contiguous
// slice, without consuming it. If the content already lives in a single
// MEM chunk, the chunk's own storage is returned directly (zero-copy); if
// it is a FILE chunk, the caller-supplied buf is filled via pread.
// Otherwise (multiple chunks) the content is consolidated into buf, which
// is grown as needed. usingBuf reports whether the returned slice aliases
// buf (true) or a chunk's own storage (false), so callers know whether
// mutating the result is safe.
func (q *Queue) PeekData(buf *buffer.Buffer) (data []byte, usingBuf bool, err error) {
	if q.first == nil {
		return nil, false, nil
	}
	if q.first == q.last && q.first.Tag == chunk.Mem {
		return q.first.Mem.Bytes()[q.first.Offset:], false, nil
	}

	buf.Clear()
	for c := q.first; c != nil; c = c.Next {
		switch c.Tag {
		case chunk.Mem:
			buf.AppendBytes(c.Mem.Bytes()[c.Offset:])
		case chunk.File:
			remaining := c.RemainingLength()
			tmp := make([]byte, remaining)
			n, rerr := platform.Pread(c.File.FD, tmp, c.Offset)
			if rerr != nil {
				return nil, true, rerr
			}
			buf.AppendBytes(tmp[:n])
		}
	}
	return buf.Bytes(), true, nil
}

// ReadData consolidates exactly length bytes of the queue's remaining
// content into buf (growing it as needed) and then consumes them via
// MarkWritten, advancing bytesOut and releasing any chunk fully drained in
// the process — an exact-length peek followed by a mark_written(length),
// unlike PeekData which never advances the queue. The result always lives
// in buf (never aliases a chunk), so callers that need an owned, mutable
// copy should prefer this.
func (q *Queue) ReadData(buf *buffer.Buffer, length int64) error {
	if length <= 0 {
		buf.Clear()
		return nil
	}
	if length > q.Len() {
		return fmt.Errorf("chunkqueue: read_data: requested %d bytes, only %d available", length, q.Len())
	}

	buf.Clear()
	remaining := length
	for c := q.first; c != nil && remaining > 0; c = c.Next {
		want := c.RemainingLength()
		if want > remaining {
			want = remaining
		}
		switch c.Tag {
		case chunk.Mem:
			buf.AppendBytes(c.Mem.Bytes()[c.Offset : c.Offset+want])
		case chunk.File:
			tmp := make([]byte, want)
			n, err := platform.Pread(c.File.FD, tmp, c.Offset)
			if err != nil {
				return err
			}
			buf.AppendBytes(tmp[:n])
		}
		remaining -= want
	}

	q.MarkWritten(length)
	return nil
}

// ReadInto copies up to len(p) bytes of the queue's remaining content into
// p, consuming exactly what was copied (advancing bytesOut and releasing
// any chunk fully drained in the process) and returning the number of
// bytes copied. It returns (0, io.EOF) once the queue is empty, the pull
// counterpart to WriteAllTo for callers that read through a fixed-size
// buffer (e.g. an io.Reader) rather than push to an io.Writer.
func (q *Queue) ReadInto(p []byte) (int, error) {
	if q.first == nil {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && q.first != nil {
		c := q.first
		want := int64(len(p) - n)
		if avail := c.RemainingLength(); want > avail {
			want = avail
		}
		switch c.Tag {
		case chunk.Mem:
			copy(p[n:n+int(want)], c.Mem.Bytes()[c.Offset:c.Offset+want])
		case chunk.File:
			rn, err := platform.Pread(c.File.FD, p[n:n+int(want)], c.Offset)
			if err != nil {
				return n, err
			}
			if rn == 0 {
				return n, io.ErrUnexpectedEOF
			}
			want = int64(rn)
		}
		c.Offset += want
		q.bytesOut += want
		n += int(want)
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

// Squash consumes the entire queue and returns its content as a single
// owned buffer.Buffer, releasing every chunk as it goes.
func (q *Queue) Squash() (*buffer.Buffer, error) {
	out := buffer.New()
	if err := q.ReadData(out, q.Len()); err != nil {
		return nil, err
	}
	return out, nil
}

// releaseChunks returns a linked run of chunks starting at head to the
// pool.
func (q *Queue) releaseChunks(head *chunk.Chunk) {
	for c := head; c != nil; {
		next := c.Next
		q.pool.ReleaseChunk(c)
		c = next
	}
}

// Reset releases every chunk currently queued and zeroes bytesIn/bytesOut,
// leaving the queue ready for reuse.
func (q *Queue) Reset() {
	q.releaseChunks(q.first)
	q.first = nil
	q.last = nil
	q.bytesIn = 0
	q.bytesOut = 0
	q.spilling = false
}

// Release is Reset followed by discarding the queue's pool reference; the
// queue must not be used afterward.
func (q *Queue) Release() {
	q.Reset()
	q.pool = nil
}
