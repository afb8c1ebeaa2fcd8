// Package chunkqueue implements the ordered, append/steal/copy-range byte
// stream that carries request and response bodies between network,
// filesystem and handler code, spilling to temp files once an in-memory
// threshold is crossed.
package chunkqueue

import (
	"log"

	"chunkqueue/chunk"
	"chunkqueue/chunkpool"
)

// DefaultUploadTempFileSize is the bytes_in threshold (spec.md §4.5) past
// which further MEM appends are spilled to a temp file instead of growing
// resident memory.
const DefaultUploadTempFileSize int64 = 1 << 20

var defaultTempDirs = []string{"/tmp"}

// SetDefaultTempDirs overrides the package-level temp directory search
// order used by queues created without an explicit WithTempDirs option.
func SetDefaultTempDirs(dirs []string) {
	if len(dirs) == 0 {
		return
	}
	defaultTempDirs = append([]string(nil), dirs...)
}

// ErrorSink receives non-fatal I/O errors encountered during transfer, the
// consumed logging contract of spec.md §6/§7.
type ErrorSink interface {
	Errorf(format string, args ...any)
	Perrorf(op string, err error)
}

type stdlogSink struct{ prefix string }

// NewStdLogSink returns an ErrorSink that writes to the standard logger
// with a bracketed prefix, matching the teacher's [COMPONENT] log style.
func NewStdLogSink(prefix string) ErrorSink { return stdlogSink{prefix: prefix} }

func (s stdlogSink) Errorf(format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{s.prefix}, args...)...)
}

func (s stdlogSink) Perrorf(op string, err error) {
	log.Printf("[%s] %s: %v", s.prefix, op, err)
}

// Queue is a sequential byte stream made of MEM and FILE chunks linked
// first..last. bytesIn counts every byte ever appended; bytesOut counts
// every byte ever consumed (stolen, written out, or read); bytesIn -
// bytesOut always equals the sum of remaining chunk lengths.
type Queue struct {
	pool *chunkpool.Pool

	first, last *chunk.Chunk

	bytesIn  int64
	bytesOut int64

	tempDirs   []string
	tempDirIdx int

	uploadTempFileSize int64
	spilling           bool

	sink ErrorSink
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithTempDirs overrides the temp directory search order for this queue.
func WithTempDirs(dirs []string) Option {
	return func(q *Queue) { q.tempDirs = append([]string(nil), dirs...) }
}

// WithUploadTempFileSize overrides the spill threshold for this queue.
func WithUploadTempFileSize(n int64) Option {
	return func(q *Queue) { q.uploadTempFileSize = n }
}

// WithErrorSink overrides the default stdlib-log error sink.
func WithErrorSink(sink ErrorSink) Option {
	return func(q *Queue) { q.sink = sink }
}

// New returns an empty Queue backed by pool.
func New(pool *chunkpool.Pool, opts ...Option) *Queue {
	q := &Queue{
		pool:               pool,
		tempDirs:           defaultTempDirs,
		uploadTempFileSize: DefaultUploadTempFileSize,
		sink:               NewStdLogSink("CHUNKQUEUE"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// BytesIn returns the total bytes ever appended to the queue.
func (q *Queue) BytesIn() int64 { return q.bytesIn }

// BytesOut returns the total bytes ever consumed from the queue.
func (q *Queue) BytesOut() int64 { return q.bytesOut }

// Len reports the number of unconsumed bytes currently queued.
func (q *Queue) Len() int64 { return q.bytesIn - q.bytesOut }

// IsEmpty reports whether the queue currently holds no chunks.
func (q *Queue) IsEmpty() bool { return q.first == nil }

// SetTempDirs overrides the temp directory search order and restarts it at
// the first directory; later spills move on to the next directory only
// after the current one fails.
func (q *Queue) SetTempDirs(dirs []string) {
	if len(dirs) > 0 {
		q.tempDirs = append([]string(nil), dirs...)
		q.tempDirIdx = 0
	}
}

// currentTempDir returns the temp directory a new spill file should be
// created in without rotating; successful creations stick with the same
// directory until one actually fails.
func (q *Queue) currentTempDir() string {
	if len(q.tempDirs) == 0 {
		return "/tmp"
	}
	return q.tempDirs[q.tempDirIdx%len(q.tempDirs)]
}

// advanceTempDir rotates to the next configured temp directory; called only
// after a creation or write against the current one has failed.
func (q *Queue) advanceTempDir() {
	if len(q.tempDirs) > 0 {
		q.tempDirIdx = (q.tempDirIdx + 1) % len(q.tempDirs)
	}
}

func (q *Queue) logError(format string, args ...any) {
	if q.sink != nil {
		q.sink.Errorf(format, args...)
	}
}

func (q *Queue) logPerror(op string, err error) {
	if q.sink != nil {
		q.sink.Perrorf(op, err)
	}
}

// shouldSpill reports whether the queue's unconsumed bytes (MEM and FILE
// chunks alike) have reached the configured spill threshold.
func (q *Queue) shouldSpill() bool {
	return q.uploadTempFileSize > 0 && q.bytesIn-q.bytesOut >= q.uploadTempFileSize
}
