package chunkqueue

import (
	"fmt"
	"path/filepath"

	"chunkqueue/chunk"
	"chunkqueue/platform"
)

// maxGatherIovecs bounds how many MEM chunks a single pwritev call gathers
// when spilling several small chunks to a temp file at once.
const maxGatherIovecs = 16

// splicePipeHint is the buffer-size hint (in bytes) requested for the
// trampoline pipe via F_SETPIPE_SZ.
const splicePipeHint = 256 * 1024

// trampoline is the process-wide intermediate pipe bridging socket->file
// splice transfers, since Linux splice requires at least one endpoint to
// be a pipe. Lazily created, and torn down/recreated after fork or
// graceful restart via ResetInternalPipes.
type trampoline struct {
	r, w int
}

var internalPipe *trampoline

// InitInternalPipes lazily creates the process-wide splice trampoline pipe
// pair. Safe to call repeatedly; a no-op once created.
func InitInternalPipes() error {
	if internalPipe != nil {
		return nil
	}
	r, w, err := platform.PipeCloexec(splicePipeHint)
	if err != nil {
		return fmt.Errorf("chunkqueue: create splice trampoline: %w", err)
	}
	internalPipe = &trampoline{r: r, w: w}
	return nil
}

// ResetInternalPipes closes and recreates the trampoline pipe, required
// after fork/exec or a graceful restart since the old fds are no longer
// safe to share across the process boundary.
func ResetInternalPipes() error {
	if internalPipe != nil {
		_ = platform.Close(internalPipe.r)
		_ = platform.Close(internalPipe.w)
		internalPipe = nil
	}
	return InitInternalPipes()
}

// getAppendNewTempfile tries every configured temp directory in rotation
// order, starting from the current one, and only advances tempDirIdx when a
// directory fails — a working directory is reused for every subsequent
// spill until it stops working. All directories must fail for the whole
// operation to fail.
func (q *Queue) getAppendNewTempfile() (*chunk.Chunk, error) {
	attempts := len(q.tempDirs)
	if attempts == 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		dir := q.currentTempDir()
		template := filepath.Join(dir, "chunkqueue-XXXXXX")
		fd, name, err := platform.Mkostemp(template, 0)
		if err == nil {
			c := q.pool.AcquireFileChunk()
			c.Tag = chunk.File
			c.File = chunk.FileState{FD: fd, Name: name, IsTemp: true, Length: 0}
			q.appendChunk(c)
			return c, nil
		}
		lastErr = err
		q.advanceTempDir()
	}
	return nil, q.appendTempfileErr("create temp file (all tempdirs exhausted)", lastErr)
}

// getAppendTempfile returns the queue's current tail temp file chunk,
// creating a new one if the tail isn't an open, writable temp file.
func (q *Queue) getAppendTempfile() (*chunk.Chunk, error) {
	if q.last != nil && q.last.Tag == chunk.File && q.last.File.IsTemp && q.last.File.RefChg == nil {
		return q.last, nil
	}
	return q.getAppendNewTempfile()
}

func (q *Queue) appendTempfileErr(op string, err error) error {
	q.logPerror(op, err)
	return fmt.Errorf("chunkqueue: %s: %w", op, err)
}

// AppendMemToTempfile writes p directly into the queue's tail temp file
// (creating one if needed), extending that chunk's recorded length rather
// than growing resident memory. If the tail isn't yet a writable temp file,
// a new temp file is created and any MEM content still queued is moved into
// it first by migrateMemToTempfiles (gathered pwritev writes), so the bytes
// of p land after it.
func (q *Queue) AppendMemToTempfile(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	q.spilling = true

	if q.last == nil || q.last.Tag != chunk.File || !q.last.File.IsTemp || q.last.File.RefChg != nil {
		if err := q.migrateMemToTempfiles(); err != nil {
			return err
		}
	}

	tf, err := q.getAppendTempfile()
	if err != nil {
		return err
	}

	written := 0
	for written < len(p) {
		n, err := platform.Pwrite(tf.File.FD, p[written:], tf.File.Length)
		if err != nil {
			if platform.IsAgain(err) {
				continue
			}
			if platform.IsNoSpace(err) {
				// The current temp directory's filesystem is full; roll
				// over to the next configured directory and resume
				// writing the remainder there instead of failing outright.
				q.advanceTempDir()
				next, nerr := q.getAppendNewTempfile()
				if nerr != nil {
					return q.appendTempfileErr("write temp file (out of space)", err)
				}
				tf = next
				continue
			}
			return q.appendTempfileErr("write temp file", err)
		}
		if n == 0 {
			return q.appendTempfileErr("write temp file", fmt.Errorf("short write"))
		}
		tf.File.Length += int64(n)
		written += n
	}
	q.bytesIn += int64(written)
	return nil
}

// migrateMemToTempfiles moves every MEM chunk currently queued into a
// fresh temp file, preserving order, so that subsequent appends can target
// that file directly. FILE chunks already present are left untouched.
func (q *Queue) migrateMemToTempfiles() error {
	tf, err := q.getAppendNewTempfile()
	if err != nil {
		return err
	}
	// Walk the queue up to (but not including) tf, migrating MEM runs.
	var memRun []*chunk.Chunk
	for c := q.first; c != nil && c != tf; c = c.Next {
		if c.Tag == chunk.Mem {
			memRun = append(memRun, c)
		}
	}
	if len(memRun) == 0 {
		return nil
	}
	if err := q.writeMemRunToFile(memRun, tf); err != nil {
		return err
	}
	q.spliceOutMemChunks(memRun)
	return nil
}

// writeMemRunToFile gathers up to maxGatherIovecs MEM chunks at a time
// into a single pwritev call against tf, appending to its current length.
func (q *Queue) writeMemRunToFile(run []*chunk.Chunk, tf *chunk.Chunk) error {
	for start := 0; start < len(run); start += maxGatherIovecs {
		end := start + maxGatherIovecs
		if end > len(run) {
			end = len(run)
		}
		batch := run[start:end]
		iovs := make([][]byte, 0, len(batch))
		var total int64
		for _, c := range batch {
			b := c.Mem.Bytes()[c.Offset:]
			if len(b) == 0 {
				continue
			}
			iovs = append(iovs, b)
			total += int64(len(b))
		}
		if len(iovs) == 0 {
			continue
		}
		off := tf.File.Length
		n, err := platform.Pwritev(tf.File.FD, iovs, off)
		if err != nil {
			return q.appendTempfileErr("write temp file (gather)", err)
		}
		if int64(n) != total {
			return q.appendTempfileErr("write temp file (gather)", fmt.Errorf("short gather write: %d of %d", n, total))
		}
		tf.File.Length += total
	}
	return nil
}

// spliceOutMemChunks removes the given MEM chunks from the queue's linked
// list and releases them, without touching bytesIn/bytesOut (the bytes
// they held are still logically queued, now inside the temp file chunk
// that replaced them).
func (q *Queue) spliceOutMemChunks(run []*chunk.Chunk) {
	inRun := make(map[*chunk.Chunk]bool, len(run))
	for _, c := range run {
		inRun[c] = true
	}
	var newFirst, newLast *chunk.Chunk
	for c := q.first; c != nil; {
		next := c.Next
		if inRun[c] {
			q.pool.ReleaseChunk(c)
		} else {
			c.Next = nil
			if newFirst == nil {
				newFirst = c
				newLast = c
			} else {
				newLast.Next = c
				newLast = c
			}
		}
		c = next
	}
	q.first, q.last = newFirst, newLast
}

// stealWithTempfiles moves length bytes from src into q the same way
// Steal does, but forces any MEM content involved through a temp file
// first, for callers that must guarantee the destination never grows
// resident memory (e.g. an upload sink already past its threshold).
func (q *Queue) stealWithTempfiles(src *Queue, length int64) (int64, error) {
	q.spilling = true
	var moved int64
	for moved < length && src.first != nil {
		c := src.first
		remain := c.RemainingLength()
		want := length - moved
		if want > remain {
			want = remain
		}
		switch c.Tag {
		case chunk.Mem:
			if err := q.appendCQMemToTempfile(c, want); err != nil {
				return moved, err
			}
		case chunk.File:
			nc, err := stealPartialFileChunk(c, want)
			if err != nil {
				return moved, err
			}
			q.appendChunk(nc)
			q.bytesIn += want
		}
		src.bytesOut += want
		moved += want
		if want == remain {
			src.first = c.Next
			if src.first == nil {
				src.last = nil
			}
			src.pool.ReleaseChunk(c)
		} else if c.Tag == chunk.Mem {
			// stealPartialFileChunk has already advanced a FILE chunk.
			c.Offset += want
		}
	}
	return moved, nil
}

// appendCQMemToTempfile writes want bytes of src's MEM content (starting
// at its current offset) into q's tail temp file.
func (q *Queue) appendCQMemToTempfile(src *chunk.Chunk, want int64) error {
	data := src.Mem.Bytes()[src.Offset : src.Offset+want]
	return q.AppendMemToTempfile(data)
}

// appendCQMemToTempfilePartial is the chunked variant used when want
// exceeds a single reasonable write size; it loops appendCQMemToTempfile
// over fixed-size slices to bound any single syscall's payload.
func (q *Queue) appendCQMemToTempfilePartial(src *chunk.Chunk, want int64, maxChunk int) error {
	off := src.Offset
	remaining := want
	for remaining > 0 {
		n := remaining
		if n > int64(maxChunk) {
			n = int64(maxChunk)
		}
		if err := q.AppendMemToTempfile(src.Mem.Bytes()[off : off+n]); err != nil {
			return err
		}
		off += n
		remaining -= n
	}
	return nil
}

// AppendSplicePipeTempfile moves up to length bytes from a pipe fd (srcFD)
// into q's tail temp file with a single direct splice, with no userspace
// copy. EAGAIN returns 0 bytes and a nil error; any other splice error is
// returned as is. There is no fallback path: the trampoline pipe is not
// used here, and a srcFD that cannot be spliced is not read any other way.
func (q *Queue) AppendSplicePipeTempfile(srcFD int, length int64) (int64, error) {
	if err := InitInternalPipes(); err != nil {
		return 0, err
	}
	tf, err := q.getAppendTempfile()
	if err != nil {
		return 0, err
	}
	off := tf.File.Length
	n, err := platform.Splice(srcFD, nil, tf.File.FD, &off, int(length), 0)
	if err != nil {
		if platform.IsAgain(err) {
			return 0, nil
		}
		return 0, q.appendTempfileErr("splice to temp file", err)
	}
	tf.File.Length += n
	q.bytesIn += n
	return n, nil
}

// AppendSpliceSockTempfile moves up to length bytes from a socket fd into
// q's tail temp file, bouncing through the internal trampoline pipe since
// socket-to-file splice is not directly supported by the kernel.
func (q *Queue) AppendSpliceSockTempfile(sockFD int, length int64) (int64, error) {
	if err := InitInternalPipes(); err != nil {
		return 0, err
	}
	toPipe, err := platform.Splice(sockFD, nil, internalPipe.w, nil, int(length), 0)
	if err != nil {
		if platform.IsAgain(err) {
			return 0, nil
		}
		return 0, q.appendTempfileErr("splice socket to trampoline", err)
	}
	if toPipe == 0 {
		return 0, nil
	}
	return q.drainPipeTempfile(toPipe)
}

// drainPipeTempfile splices n already-buffered bytes out of the
// trampoline pipe into q's tail temp file.
func (q *Queue) drainPipeTempfile(n int64) (int64, error) {
	tf, err := q.getAppendTempfile()
	if err != nil {
		return 0, err
	}
	off := tf.File.Length
	written, err := platform.Splice(internalPipe.r, nil, tf.File.FD, &off, int(n), 0)
	if err != nil {
		drainTrampoline()
		return 0, q.appendTempfileErr("splice trampoline to temp file", err)
	}
	tf.File.Length += written
	q.bytesIn += written
	return written, nil
}

// drainTrampoline reads and discards any bytes left buffered in the
// trampoline pipe, used during error recovery so a partially-drained
// splice doesn't leak bytes into the next operation that uses the
// trampoline.
func drainTrampoline() {
	if internalPipe == nil {
		return
	}
	var buf [4096]byte
	for {
		n, err := platform.Read(internalPipe.r, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}
