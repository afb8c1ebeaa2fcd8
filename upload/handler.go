package upload

import (
	"io"
	"sync"

	"chunkqueue/chunkpool"
	"chunkqueue/chunkqueue"
	"chunkqueue/common"

	json "github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

// UploadResponse contains information about the discarded upload
type UploadResponse struct {
	*common.RequestJSON
	BytesReceived int64 `json:"bytes_received"`
}

// uploadResponsePool is a sync.Pool for UploadResponse objects
var uploadResponsePool = sync.Pool{
	New: func() interface{} {
		return &UploadResponse{
			RequestJSON: common.AcquireRequestJSON(),
		}
	},
}

// acquireUploadResponse gets an UploadResponse from the pool
func acquireUploadResponse() *UploadResponse {
	return uploadResponsePool.Get().(*UploadResponse)
}

// releaseUploadResponse returns an UploadResponse to the pool after clearing it
// Note: We keep the embedded RequestJSON - just clear its fields via common.ClearRequestJSON
func releaseUploadResponse(resp *UploadResponse) {
	common.ClearRequestJSON(resp.RequestJSON)
	uploadResponsePool.Put(resp)
}

const (
	// readBufSize is the size of the buffer used to pull bytes off the
	// request body stream before handing them to the chunk queue.
	readBufSize = 256 * 1024
)

// readBufPool provides reusable read buffers for streaming the body off
// the wire; it is independent of the chunk pool's own buffers since these
// are scratch space, never queued.
var readBufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, readBufSize)
		return &buf
	},
}

// pool is the process-wide chunk pool backing every upload's chunk queue.
// InitChunkPool must be called once at startup before Handler is used.
var pool *chunkpool.Pool
var uploadTempFileSize int64
var tempDirs []string

// InitChunkPool configures the chunk pool and spill policy used to sink
// uploaded bodies.
func InitChunkPool(chunkBufSize int, dirs []string, tempFileSize int64) {
	pool = chunkpool.New(chunkBufSize)
	tempDirs = dirs
	uploadTempFileSize = tempFileSize
}

// init initializes the upload handler
func init() {
	// Pre-warm the response pool.
	for i := 0; i < 10; i++ {
		resp := acquireUploadResponse()
		releaseUploadResponse(resp)
	}
}

// Description returns a description of the upload handler for startup logging
func Description() string {
	return "  - /upload     -> Upload sink (streams and discards body, returns byte count)"
}

// Handler processes upload requests by streaming and discarding the body
// Uses streaming to handle large uploads without accumulating data in memory
//
// Request:  POST /upload (with body content)
// Response: {"bytes_received": 1048576, ...}
func Handler(ctx *fasthttp.RequestCtx) {
	// Stream and discard the body to avoid memory accumulation
	bytesReceived, err := streamAndDiscard(ctx)
	if err != nil {
		common.SendJSONResponseWithStatus(ctx, fasthttp.StatusInternalServerError,
			[]byte(`{"error":"failed to read request body"}`))
		return
	}

	// Build response JSON
	jsonData, err := buildResponseJSON(ctx, bytesReceived)
	if err != nil {
		common.SendJSONResponseWithStatus(ctx, fasthttp.StatusInternalServerError,
			[]byte(`{"error":"failed to marshal response"}`))
		return
	}

	// Send response using centralized helper
	common.SendJSONResponse(ctx, jsonData)
}

// streamAndDiscard reads the request body in chunks and feeds it through a
// chunk queue, which spills to a temp file once uploadTempFileSize bytes
// have accumulated instead of growing resident memory without bound.
// Returns the total number of bytes read.
func streamAndDiscard(ctx *fasthttp.RequestCtx) (int64, error) {
	bodyStream := ctx.RequestBodyStream()
	if bodyStream == nil {
		// No streaming body (small request, already buffered by fasthttp).
		return int64(len(ctx.Request.Body())), nil
	}

	q := chunkqueue.New(pool,
		chunkqueue.WithTempDirs(tempDirs),
		chunkqueue.WithUploadTempFileSize(uploadTempFileSize),
		chunkqueue.WithErrorSink(chunkqueue.NewStdLogSink("UPLOAD")),
	)
	defer q.Release()

	bufPtr := readBufPool.Get().(*[]byte)
	buf := *bufPtr
	defer readBufPool.Put(bufPtr)

	for {
		n, err := bodyStream.Read(buf)
		if n > 0 {
			if appendErr := q.AppendMem(buf[:n]); appendErr != nil {
				return q.BytesIn(), appendErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return q.BytesIn(), err
		}
	}

	return q.BytesIn(), nil
}

// buildResponseJSON creates the JSON response with upload statistics
func buildResponseJSON(ctx *fasthttp.RequestCtx, bytesReceived int64) ([]byte, error) {
	// Acquire UploadResponse from pool (includes embedded RequestJSON)
	uploadResp := acquireUploadResponse()
	defer releaseUploadResponse(uploadResp)

	// Populate request data using shared function
	// Note: Body will be empty since we streamed it
	common.PopulateRequestJSON(ctx, uploadResp.RequestJSON)

	// Override body size with actual bytes received
	uploadResp.RequestJSON.BodySize = bytesReceived
	uploadResp.BytesReceived = bytesReceived

	// Marshal to JSON and return
	return json.Marshal(uploadResp)
}
