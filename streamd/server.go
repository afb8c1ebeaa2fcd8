// Package streamd is a minimal raw-TCP listener that exercises the
// chunk-queue transfer engine directly against real socket file
// descriptors — sendfile/splice write-out and upload spill-to-tempfile
// paths that the fasthttp edge server's abstraction hides, since fasthttp
// never exposes the raw connection fd WriteChunk needs.
//
// Protocol: a client connects, writes its upload body, then half-closes
// its write side (shutdown(SHUT_WR)); the server spills the body through
// a chunkqueue.Queue exactly like the upload handler does, then writes
// back a single line reporting the number of bytes received, sent
// through a second queue's WriteChunk so the response path is exercised
// too.
package streamd

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"time"

	"chunkqueue/chunkpool"
	"chunkqueue/chunkqueue"
)

// Server owns the raw listener and the settings each connection's queues
// are built from. Per spec.md §5's concurrency model, each connection's
// goroutine creates and exclusively owns its own chunkpool.Pool and
// chunkqueue.Queue values.
type Server struct {
	ln           net.Listener
	chunkBufSize int
	tempDirs     []string
	spillBytes   int64
}

// Config configures a Server.
type Config struct {
	ChunkBufSize       int
	TempDirs           []string
	UploadTempFileSize int64
}

// New starts listening on addr and returns a Server ready to Serve.
func New(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("streamd: listen %s: %w", addr, err)
	}
	if cfg.ChunkBufSize <= 0 {
		cfg.ChunkBufSize = 64 * 1024
	}
	if cfg.UploadTempFileSize <= 0 {
		cfg.UploadTempFileSize = chunkqueue.DefaultUploadTempFileSize
	}
	return &Server{
		ln:           ln,
		chunkBufSize: cfg.ChunkBufSize,
		tempDirs:     cfg.TempDirs,
		spillBytes:   cfg.UploadTempFileSize,
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		log.Printf("[STREAMD] rejecting non-TCP connection from %s", conn.RemoteAddr())
		return
	}
	_ = tc.SetNoDelay(true)

	pool := chunkpool.New(s.chunkBufSize)
	defer pool.Free()

	q := chunkqueue.New(pool,
		chunkqueue.WithTempDirs(s.tempDirs),
		chunkqueue.WithUploadTempFileSize(s.spillBytes),
		chunkqueue.WithErrorSink(chunkqueue.NewStdLogSink("STREAMD")),
	)
	defer q.Release()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	r := bufio.NewReaderSize(conn, s.chunkBufSize)
	buf := make([]byte, s.chunkBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if appendErr := q.AppendMem(buf[:n]); appendErr != nil {
				log.Printf("[STREAMD] append error from %s: %v", conn.RemoteAddr(), appendErr)
				return
			}
		}
		if err != nil {
			break
		}
	}

	summary := fmt.Sprintf("received %d bytes\n", q.BytesIn())
	resp := chunkqueue.New(pool)
	defer resp.Release()
	resp.AppendMemMin([]byte(summary))

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	fd, err := connFD(tc)
	if err != nil {
		// Fall back to a plain net.Conn write when the raw fd isn't
		// reachable (e.g. a build without syscall.RawConn support).
		body, squashErr := resp.Squash()
		if squashErr == nil {
			_, _ = conn.Write(body.Bytes())
		}
		return
	}
	for !resp.IsEmpty() {
		n, werr := resp.WriteChunk(fd)
		if werr != nil {
			log.Printf("[STREAMD] write error to %s: %v", conn.RemoteAddr(), werr)
			return
		}
		if n == 0 {
			// WriteChunk reported EAGAIN; the fd is managed by the Go
			// runtime poller underneath conn, not by us, so back off
			// briefly rather than busy-spinning on the raw fd.
			time.Sleep(time.Millisecond)
		}
	}
}

// connFD extracts the underlying file descriptor of a TCP connection so
// WriteChunk can operate on it directly. The returned fd is owned by conn;
// callers must not close it themselves.
func connFD(tc *net.TCPConn) (int, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}
