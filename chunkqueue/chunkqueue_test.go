package chunkqueue

import (
	"bytes"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"chunkqueue/buffer"
	"chunkqueue/chunkpool"
)

func newBuf() *buffer.Buffer { return buffer.New() }

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	pool := chunkpool.New(4096)
	return New(pool, WithTempDirs([]string{os.TempDir()}), WithUploadTempFileSize(1<<30))
}

// Property 1: byte identity — PeekData/ReadData/Squash reproduce exactly
// what was appended.
func TestByteIdentity(t *testing.T) {
	q := newTestQueue(t)
	payload := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, q.AppendMem(payload))

	buf := newBuf()
	data, _, err := q.PeekData(buf)
	require.NoError(t, err)
	require.True(t, cmp.Equal(payload, data))
}

// Property 2: conservation — bytesIn - bytesOut always equals the sum of
// remaining chunk lengths.
func TestConservation(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.AppendMem([]byte("0123456789")))
	require.NoError(t, q.AppendMem([]byte("abcdefghij")))

	var remaining int64
	for c := q.first; c != nil; c = c.Next {
		remaining += c.RemainingLength()
	}
	require.Equal(t, q.BytesIn()-q.BytesOut(), remaining)

	q.MarkWritten(5)
	remaining = 0
	for c := q.first; c != nil; c = c.Next {
		remaining += c.RemainingLength()
	}
	require.Equal(t, q.BytesIn()-q.BytesOut(), remaining)
}

// Property 3: monotonicity — bytesOut never exceeds bytesIn.
func TestMonotonicity(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.AppendMem([]byte("12345")))
	q.MarkWritten(5)
	require.LessOrEqual(t, q.BytesOut(), q.BytesIn())
}

// Property 4: steal equivalence — stealing into another queue preserves
// total byte content across both queues.
func TestStealEquivalence(t *testing.T) {
	src := newTestQueue(t)
	dst := newTestQueue(t)
	require.NoError(t, src.AppendMem([]byte("abcdefghijklmnopqrstuvwxyz")))

	moved, err := dst.Steal(src, 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, moved)
	require.EqualValues(t, 10, dst.Len())
	require.EqualValues(t, 16, src.Len())

	dstBuf := newBuf()
	data, _, err := dst.PeekData(dstBuf)
	require.NoError(t, err)
	require.Equal(t, "abcdefghij", string(data))
}

// Property 5: spill threshold bound — once the queue crosses its
// configured threshold, further MEM appends land in a temp file chunk
// rather than growing resident memory.
func TestSpillThresholdBound(t *testing.T) {
	pool := chunkpool.New(64)
	q := New(pool, WithTempDirs([]string{os.TempDir()}), WithUploadTempFileSize(16))

	require.NoError(t, q.AppendMem(make([]byte, 10)))
	require.False(t, q.spilling)

	require.NoError(t, q.AppendMem(make([]byte, 10)))
	require.False(t, q.spilling, "threshold crossed only after this append; spill starts on the next one")

	require.NoError(t, q.AppendMem(make([]byte, 10)))
	require.True(t, q.spilling)
	require.Equal(t, int64(30), q.BytesIn())

	tail := q.last
	require.NotNil(t, tail)
	cleanupTempChunks(t, q)
}

// Property 6: temp-file cleanup — releasing a queue unlinks any temp
// files it created.
func TestTempFileCleanup(t *testing.T) {
	pool := chunkpool.New(64)
	q := New(pool, WithTempDirs([]string{os.TempDir()}), WithUploadTempFileSize(1))
	require.NoError(t, q.AppendMemToTempfile([]byte("spill me to disk")))

	var name string
	for c := q.first; c != nil; c = c.Next {
		if c.File.IsTemp {
			name = c.File.Name
		}
	}
	require.NotEmpty(t, name)
	_, statErr := os.Stat(name)
	require.NoError(t, statErr)

	q.Reset()
	_, statErr = os.Stat(name)
	require.True(t, os.IsNotExist(statErr))
}

// Property 7: idempotent compact — calling CompactMem twice with the same
// target leaves the queue's content unchanged.
func TestCompactMemIdempotent(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.AppendMem([]byte("one-")))
	require.NoError(t, q.AppendMem([]byte("two-")))
	require.NoError(t, q.AppendMem([]byte("three")))

	q.CompactMem(13)
	buf := newBuf()
	first, _, err := q.PeekData(buf)
	require.NoError(t, err)
	firstCopy := append([]byte(nil), first...)

	q.CompactMem(13)
	second, _, err := q.PeekData(buf)
	require.NoError(t, err)
	require.True(t, cmp.Equal(firstCopy, second))
}

// Scenario: whole-queue splice via AppendChunkQueue preserves order and
// byte count, emptying the source.
func TestAppendChunkQueueSplice(t *testing.T) {
	src := newTestQueue(t)
	dst := newTestQueue(t)
	require.NoError(t, src.AppendMem([]byte("hello ")))
	require.NoError(t, src.AppendMem([]byte("world")))

	dst.AppendChunkQueue(src)
	require.True(t, src.IsEmpty())
	require.EqualValues(t, 11, dst.Len())

	buf := newBuf()
	data, _, err := dst.PeekData(buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

// Scenario: checkpoint write-in-place via GetMemory/UseMemory commits only
// the bytes actually produced.
func TestGetMemoryUseMemoryCheckpoint(t *testing.T) {
	q := newTestQueue(t)
	region, checkpoint := q.GetMemory(32)
	n := copy(region, []byte("partial-write"))
	q.UseMemory(checkpoint, n)

	require.EqualValues(t, n, q.BytesIn())
	buf := newBuf()
	data, _, err := q.PeekData(buf)
	require.NoError(t, err)
	require.Equal(t, "partial-write", string(data))
}

// Scenario A: appending payloads that together exceed chunk_buf_sz must
// split across chunks rather than growing one MEM chunk without bound.
func TestAppendMemSplitsAtChunkBufSize(t *testing.T) {
	pool := chunkpool.New(4096) // rounds up to 4096, < 6100
	q := New(pool, WithTempDirs([]string{os.TempDir()}), WithUploadTempFileSize(1<<30))

	require.NoError(t, q.AppendMem(make([]byte, 100)))
	require.NoError(t, q.AppendMem(make([]byte, 1000)))
	require.NoError(t, q.AppendMem(make([]byte, 5000)))

	require.EqualValues(t, 6100, q.BytesIn())

	var chunks int
	var total int64
	for c := q.first; c != nil; c = c.Next {
		chunks++
		total += c.RemainingLength()
	}
	require.Equal(t, 2, chunks, "a chunk_buf_sz-bounded append sequence must split across two chunks")
	require.EqualValues(t, 6100, total)
}

// ReadData must consume exactly the requested length, advancing bytesOut,
// and leave the rest of the queue's content untouched.
func TestReadDataBoundedConsume(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.AppendMem([]byte("0123456789")))

	buf := newBuf()
	require.NoError(t, q.ReadData(buf, 4))
	require.Equal(t, "0123", buf.String())
	require.EqualValues(t, 4, q.BytesOut())
	require.EqualValues(t, 6, q.Len())

	buf2 := newBuf()
	require.NoError(t, q.ReadData(buf2, 6))
	require.Equal(t, "456789", buf2.String())
	require.EqualValues(t, 10, q.BytesOut())
	require.True(t, q.IsEmpty())
}

func TestReadDataRejectsOverlength(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.AppendMem([]byte("abc")))

	buf := newBuf()
	err := q.ReadData(buf, 10)
	require.Error(t, err)
}

// Scenario E: a small MEM header immediately followed by a small, fully
// queued FILE chunk collapses into a single MEM chunk.
func TestSmallResponseOptimizationMergesHeaderAndFile(t *testing.T) {
	q := newTestQueue(t)

	header := q.pool.AcquireChunk(128)
	header.Mem.AppendBytes(make([]byte, 128))
	q.appendMemChunk(header)

	dir := os.TempDir()
	f, err := os.CreateTemp(dir, "chunkqueue-small-response-*")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	body := make([]byte, 256)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	_, err = f.Write(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, q.AppendFile(f.Name(), 256))
	require.EqualValues(t, 384, q.BytesIn())

	merged, err := q.SmallResponseOptimization()
	require.NoError(t, err)
	require.True(t, merged)

	require.Equal(t, q.first, q.last, "merge must leave a single chunk behind")
	require.Equal(t, 384, q.first.Mem.Len())
	require.Equal(t, body, q.first.Mem.Bytes()[128:])
}

func TestSmallResponseOptimizationSkipsLargeFile(t *testing.T) {
	q := newTestQueue(t)
	header := q.pool.AcquireChunk(128)
	header.Mem.AppendBytes(make([]byte, 128))
	q.appendMemChunk(header)

	require.NoError(t, q.AppendFileFD(-1, smallResponseThreshold+1, false, nil, nil))
	merged, err := q.SmallResponseOptimization()
	require.NoError(t, err)
	require.False(t, merged)
}

// RemoveEmptyChunks must also release a zero-length chunk sitting in the
// interior of the list, not just ones at the head.
func TestRemoveEmptyChunksInterior(t *testing.T) {
	q := newTestQueue(t)

	first := q.pool.AcquireChunk(4)
	first.Mem.AppendBytes([]byte("ab"))
	q.appendMemChunk(first)

	empty := q.pool.AcquireChunk(4)
	q.appendMemChunk(empty) // zero bytes, stays linked with RemainingLength() == 0

	last := q.pool.AcquireChunk(4)
	last.Mem.AppendBytes([]byte("cd"))
	q.appendMemChunk(last)

	q.RemoveEmptyChunks()

	var chunks int
	for c := q.first; c != nil; c = c.Next {
		chunks++
		require.NotZero(t, c.RemainingLength())
	}
	require.Equal(t, 2, chunks)
	require.Equal(t, last, q.last)
}

// WriteAllTo drains both MEM and FILE chunks into a plain io.Writer, the
// path used by handlers whose destination never exposes a raw fd.
func TestWriteAllToMemAndFile(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.AppendMem([]byte("head-")))

	f, err := os.CreateTemp(os.TempDir(), "chunkqueue-writeallto-*")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("tail")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, q.AppendFile(f.Name(), 4))

	var out bytes.Buffer
	n, err := q.WriteAllTo(&out)
	require.NoError(t, err)
	require.EqualValues(t, 9, n)
	require.Equal(t, "head-tail", out.String())
	require.True(t, q.IsEmpty())
}

func cleanupTempChunks(t *testing.T, q *Queue) {
	t.Helper()
	q.Reset()
}
