//go:build linux

package platform

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// OpenCloexec opens path with O_CLOEXEC always set; allowSymlinks=false
// adds O_NOFOLLOW, matching the teacher-adjacent slotcache helper's
// open-without-following convention for trusted temp directories.
func OpenCloexec(path string, allowSymlinks bool, flags int, mode uint32) (int, error) {
	flags |= syscall.O_CLOEXEC
	if !allowSymlinks {
		flags |= syscall.O_NOFOLLOW
	}
	fd, err := syscall.Open(path, flags, mode)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Mkostemp creates a uniquely named, cloexec temp file from template
// (which must end in "XXXXXX") and returns its fd and final path.
func Mkostemp(template string, extraFlags int) (int, string, error) {
	var lastErr error
	for i := 0; i < mkostempMaxAttempts; i++ {
		name, err := mkostempName(template)
		if err != nil {
			return -1, "", err
		}
		flags := syscall.O_RDWR | syscall.O_CREAT | syscall.O_EXCL | syscall.O_CLOEXEC | extraFlags
		fd, err := syscall.Open(name, flags, 0600)
		if err == nil {
			return fd, name, nil
		}
		lastErr = err
		if err != syscall.EEXIST {
			return -1, "", err
		}
	}
	return -1, "", lastErr
}

// PipeCloexec creates a cloexec pipe and sets its buffer size to at least
// hintBytes via F_SETPIPE_SZ (best-effort; failure to resize is ignored).
func PipeCloexec(hintBytes int) (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	if hintBytes > 0 {
		_, _ = unix.FcntlInt(uintptr(fds[0]), unix.F_SETPIPE_SZ, hintBytes)
	}
	return fds[0], fds[1], nil
}

// DupCloexec duplicates fd with O_CLOEXEC set on the copy.
func DupCloexec(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	return int(nfd), nil
}

// Close closes fd.
func Close(fd int) error { return syscall.Close(fd) }

// Fstat returns the size in bytes of the file referenced by fd.
func Fstat(fd int) (int64, error) {
	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Sendfile copies count bytes from src at offset into dst using the
// kernel-assisted sendfile syscall, returning bytes actually copied.
func Sendfile(dst, src int, offset int64, count int) (int, error) {
	off := offset
	n, err := syscall.Sendfile(dst, src, &off, count)
	return n, err
}

// Splice moves length bytes from srcFD to dstFD via the kernel page-cache
// pipe splice, with optional offsets for non-pipe endpoints.
func Splice(srcFD int, srcOff *int64, dstFD int, dstOff *int64, length int, flags int) (int64, error) {
	return unix.Splice(srcFD, srcOff, dstFD, dstOff, length, flags)
}

// Pwrite writes p to fd at offset without moving the file position.
func Pwrite(fd int, p []byte, offset int64) (int, error) {
	return syscall.Pwrite(fd, p, offset)
}

// Pread reads into p from fd at offset without moving the file position.
func Pread(fd int, p []byte, offset int64) (int, error) {
	return syscall.Pread(fd, p, offset)
}

// Pwritev writes iovs to fd at offset in one gathered syscall.
func Pwritev(fd int, iovs [][]byte, offset int64) (int, error) {
	return unix.Pwritev(fd, iovs, offset)
}

// Write writes p to fd at the current file/socket position.
func Write(fd int, p []byte) (int, error) { return syscall.Write(fd, p) }

// Read reads into p from fd at the current file/socket position.
func Read(fd int, p []byte) (int, error) { return syscall.Read(fd, p) }

// Mmap maps length bytes of fd starting at offset, read-only.
func Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ, unix.MAP_SHARED)
}

// Munmap unmaps a region previously returned by Mmap.
func Munmap(b []byte) error { return unix.Munmap(b) }

// IsAgain reports whether err is EAGAIN/EWOULDBLOCK, i.e. "try later",
// not a genuine failure.
func IsAgain(err error) bool {
	return err == syscall.EAGAIN || err == syscall.EWOULDBLOCK
}

// IsNoSpace reports whether err is ENOSPC, the signal that a temp
// directory's filesystem is full and spill should roll over to another one.
func IsNoSpace(err error) bool {
	return err == syscall.ENOSPC
}
