package common

import (
	"bufio"
	"io"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	"chunkqueue/chunkpool"
	"chunkqueue/chunkqueue"
)

// DataPattern is the pre-allocated pattern for binary/chunked data generation.
// Pattern size matches the configured stream chunk size for efficiency.
var DataPattern []byte

// streamPool backs every chunkqueue.Queue used to pump a streaming
// response; shared between binary and chunked handlers for simplicity.
var streamPool *chunkpool.Pool

// InitBinaryBufferPool initializes the chunk pool backing streamed
// responses with the specified chunk size. Should be called once during
// server startup before handling any requests.
func InitBinaryBufferPool(bufferSize int) {
	basePattern := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	DataPattern = make([]byte, bufferSize)
	for i := 0; i < bufferSize; i++ {
		DataPattern[i] = basePattern[i%len(basePattern)]
	}
	streamPool = chunkpool.New(bufferSize)
}

// StreamChunkSize returns the chunk size streamed responses are built from.
func StreamChunkSize() int {
	return len(DataPattern)
}

// streamPump feeds totalSize bytes of the repeating DataPattern through a
// chunkqueue.Queue, chunkSize bytes at a time, and drains each chunk into w
// via WriteAllTo — so every streamed response is produced and consumed by
// the same chunk-queue core the rest of this module runs request bodies
// through, rather than writing a shared pattern buffer directly to w.
func streamPump(w io.Writer, totalSize int64, chunkSize int, delayMs int64, flushPerChunk bool, logPrefix string) {
	q := chunkqueue.New(streamPool)
	defer q.Release()

	bw, canFlush := w.(*bufio.Writer)

	remaining := totalSize
	chunkIdx := 0
	for remaining > 0 {
		if chunkIdx > 0 && delayMs > 0 {
			time.Sleep(time.Duration(delayMs) * time.Millisecond)
		}

		n := int64(chunkSize)
		if n > remaining {
			n = remaining
		}
		q.AppendMemMin(DataPattern[:n])

		if _, err := q.WriteAllTo(w); err != nil {
			if logPrefix != "" {
				log.Printf("%s write error on chunk %d: %v", logPrefix, chunkIdx+1, err)
			}
			return
		}

		if flushPerChunk && canFlush {
			if err := bw.Flush(); err != nil {
				if logPrefix != "" {
					log.Printf("%s flush error on chunk %d: %v", logPrefix, chunkIdx+1, err)
				}
				return
			}
		}

		remaining -= n
		chunkIdx++
	}

	if canFlush {
		if err := bw.Flush(); err != nil {
			if logPrefix != "" {
				log.Printf("%s final flush error: %v", logPrefix, err)
			}
		}
	}
}

// StreamResponse sets up a streaming response (chunked encoding, or
// streaming with an otherwise unknown size) pumped through a
// chunkqueue.Queue via SetBodyStreamWriter.
func StreamResponse(ctx *fasthttp.RequestCtx, totalSize int64, chunkSize int, delayMs int64, flushPerChunk bool, logPrefix string) {
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		streamPump(w, totalSize, chunkSize, delayMs, flushPerChunk, logPrefix)
	})
}

// queuePatternReader is an io.Reader that lazily refills a chunkqueue.Queue
// from the repeating pattern and drains it via ReadInto, so a response with
// a known Content-Length still only ever holds one chunk resident at a
// time regardless of the requested total size.
type queuePatternReader struct {
	q         *chunkqueue.Queue
	remaining int64
	chunkSize int
	logPrefix string
	done      bool
}

func (r *queuePatternReader) Read(p []byte) (int, error) {
	if r.q.IsEmpty() {
		if r.remaining <= 0 {
			if !r.done {
				r.done = true
				r.q.Release()
			}
			return 0, io.EOF
		}
		n := int64(r.chunkSize)
		if n > r.remaining {
			n = r.remaining
		}
		r.q.AppendMemMin(DataPattern[:n])
		r.remaining -= n
	}

	n, err := r.q.ReadInto(p)
	if err != nil && err != io.EOF {
		if r.logPrefix != "" {
			log.Printf("%s read error: %v", r.logPrefix, err)
		}
		return n, err
	}
	return n, nil
}

// StreamResponseWithContentLength sets up a streaming response with a known
// Content-Length, pulling pattern data through a chunkqueue.Queue one
// bounded chunk at a time via SetBodyStream. SetBodyStream automatically
// sets the Content-Length header.
func StreamResponseWithContentLength(ctx *fasthttp.RequestCtx, totalSize int64, chunkSize int, logPrefix string) {
	reader := &queuePatternReader{
		q:         chunkqueue.New(streamPool),
		remaining: totalSize,
		chunkSize: chunkSize,
		logPrefix: logPrefix,
	}
	ctx.Response.SetBodyStream(reader, int(totalSize))
}
