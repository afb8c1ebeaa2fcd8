package chunkqueue

import (
	"chunkqueue/chunk"
	"chunkqueue/platform"
)

// dupFileChunkFD returns an fd referencing the same file as c, either by
// sharing ownership through c's external refcount hook or by dup'ing the
// fd when the chunk owns it exclusively.
func dupFileChunkFD(c *chunk.Chunk) (int, error) {
	if c.File.RefChg != nil {
		c.File.RefChg(c.File.Ref, 1)
		return c.File.FD, nil
	}
	return platform.DupCloexec(c.File.FD)
}

// stealPartialFileChunk builds a new FILE chunk referencing the same
// underlying file as src, covering only the next length bytes of src's
// remaining content, and advances src.Offset past them.
func stealPartialFileChunk(src *chunk.Chunk, length int64) (*chunk.Chunk, error) {
	fd, err := dupFileChunkFD(src)
	if err != nil {
		return nil, err
	}
	dst := &chunk.Chunk{
		Tag: chunk.File,
		File: chunk.FileState{
			FD:     fd,
			Length: src.Offset + length,
			IsTemp: false,
			Ref:    src.File.Ref,
			RefChg: src.File.RefChg,
		},
		Offset: src.Offset,
	}
	src.Offset += length
	return dst, nil
}

// Steal moves up to length bytes from the head of src onto the tail of q.
// Chunks that fit whole are relinked directly; a partially taken MEM chunk
// has its leading bytes copied into a new chunk, and a partially taken
// FILE chunk is shared via refcount or dup. It returns
// the number of bytes actually moved, which may be less than length if
// src runs out first.
func (q *Queue) Steal(src *Queue, length int64) (int64, error) {
	var moved int64
	for moved < length && src.first != nil {
		c := src.first
		remain := c.RemainingLength()
		want := length - moved
		if remain <= want {
			src.first = c.Next
			if src.first == nil {
				src.last = nil
			}
			c.Next = nil
			q.appendChunk(c)
			moved += remain
			src.bytesOut += remain
			q.bytesIn += remain
			continue
		}

		switch c.Tag {
		case chunk.Mem:
			nc := q.pool.AcquireChunk(int(want))
			nc.Mem.AppendBytes(c.Mem.Bytes()[c.Offset : c.Offset+want])
			q.appendChunk(nc)
			c.Offset += want
			moved += want
			src.bytesOut += want
			q.bytesIn += want
		case chunk.File:
			nc, err := stealPartialFileChunk(c, want)
			if err != nil {
				return moved, err
			}
			q.appendChunk(nc)
			moved += want
			src.bytesOut += want
			q.bytesIn += want
		}
	}
	return moved, nil
}

// AppendCQRange copies (not steals) length bytes starting at offset from
// src onto the tail of q, sharing FILE fds via refcount/dup and copying
// MEM bytes. src is left untouched.
func (q *Queue) AppendCQRange(src *Queue, offset, length int64) error {
	var skipped int64
	var copied int64
	for c := src.first; c != nil && copied < length; c = c.Next {
		remain := c.RemainingLength()
		if skipped+remain <= offset {
			skipped += remain
			continue
		}
		start := c.Offset
		if skipped < offset {
			start += offset - skipped
		}
		avail := c.RemainingLength() - (start - c.Offset)
		want := length - copied
		if want > avail {
			want = avail
		}
		skipped += remain

		switch c.Tag {
		case chunk.Mem:
			nc := q.pool.AcquireChunk(int(want))
			nc.Mem.AppendBytes(c.Mem.Bytes()[start : start+want])
			q.appendChunk(nc)
		case chunk.File:
			fd, err := dupFileChunkFD(c)
			if err != nil {
				return err
			}
			nc := &chunk.Chunk{
				Tag:    chunk.File,
				Offset: start,
				File: chunk.FileState{
					FD:     fd,
					Length: start + want,
					Ref:    c.File.Ref,
					RefChg: c.File.RefChg,
				},
			}
			q.appendChunk(nc)
		}
		q.bytesIn += want
		copied += want
	}
	return nil
}

// MarkWritten advances bytesOut by n and the head chunk's offset, unlinking
// and releasing every chunk it consumes fully.
func (q *Queue) MarkWritten(n int64) {
	remaining := n
	for remaining > 0 && q.first != nil {
		c := q.first
		avail := c.RemainingLength()
		if avail > remaining {
			c.Offset += remaining
			q.bytesOut += remaining
			remaining = 0
			break
		}
		c.Offset += avail
		q.bytesOut += avail
		remaining -= avail
		q.first = c.Next
		if q.first == nil {
			q.last = nil
		}
		q.pool.ReleaseChunk(c)
	}
}

// RemoveFinishedChunks unlinks and releases every head chunk whose
// remaining length has reached zero.
func (q *Queue) RemoveFinishedChunks() {
	for q.first != nil && q.first.RemainingLength() == 0 {
		c := q.first
		q.first = c.Next
		if q.first == nil {
			q.last = nil
		}
		q.pool.ReleaseChunk(c)
	}
}

// RemoveEmptyChunks first trims finished leading chunks exactly like
// RemoveFinishedChunks, then additionally walks the rest of the list,
// unlinking and releasing any zero-length chunk found anywhere in the
// interior, such as an empty MEM chunk linked in behind a non-empty one.
func (q *Queue) RemoveEmptyChunks() {
	q.RemoveFinishedChunks()
	if q.first == nil {
		return
	}
	var prev *chunk.Chunk
	for c := q.first.Next; c != nil; {
		next := c.Next
		if c.RemainingLength() == 0 {
			if prev == nil {
				q.first.Next = next
			} else {
				prev.Next = next
			}
			if c == q.last {
				if prev != nil {
					q.last = prev
				} else {
					q.last = q.first
				}
			}
			q.pool.ReleaseChunk(c)
		} else {
			prev = c
		}
		c = next
	}
}

// compactMemOffset drops c's leading Offset bytes by shifting its buffer
// content left in place, the standalone half of compact_mem named in
// spec.md §12 (chunkqueue_compact_mem_offset).
func compactMemOffset(c *chunk.Chunk) {
	if c.Tag != chunk.Mem || c.Offset == 0 {
		return
	}
	c.Mem.ShiftLeft(int(c.Offset))
	c.Offset = 0
}

// CompactMem merges the head chunk's unread bytes with however many
// immediately following MEM chunks are needed to reach clen bytes (or
// until a FILE chunk or queue end is hit), into a single contiguous MEM
// chunk. It first drops the head chunk's leading offset via
// compactMemOffset, then appends subsequent MEM chunks' bytes in place,
// releasing them as they're consumed. Idempotent: calling it again with
// the same or smaller clen is a no-op once the head chunk already
// contains enough contiguous bytes.
func (q *Queue) CompactMem(clen int) {
	if q.first == nil || q.first.Tag != chunk.Mem {
		return
	}
	head := q.first
	compactMemOffset(head)
	for head.Mem.Len() < clen {
		next := head.Next
		if next == nil || next.Tag != chunk.Mem {
			break
		}
		compactMemOffset(next)
		head.Mem.AppendBytes(next.Mem.Bytes())
		head.Next = next.Next
		if head.Next == nil {
			q.last = head
		}
		q.pool.ReleaseChunk(next)
	}
}
