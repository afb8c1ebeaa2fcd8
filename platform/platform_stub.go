//go:build !linux

package platform

// This build has no real splice/sendfile/pwritev syscalls available; every
// operation reports ErrUnsupported so the module still compiles elsewhere,
// matching ehrlich-b-go-ublk's kernelopcode_stub.go convention for
// Linux-only functionality.

func OpenCloexec(path string, allowSymlinks bool, flags int, mode uint32) (int, error) {
	return -1, ErrUnsupported
}

func Mkostemp(template string, extraFlags int) (int, string, error) {
	return -1, "", ErrUnsupported
}

func PipeCloexec(hintBytes int) (r, w int, err error) { return -1, -1, ErrUnsupported }

func DupCloexec(fd int) (int, error) { return -1, ErrUnsupported }

func Close(fd int) error { return ErrUnsupported }

func Fstat(fd int) (int64, error) { return 0, ErrUnsupported }

func Sendfile(dst, src int, offset int64, count int) (int, error) { return 0, ErrUnsupported }

func Splice(srcFD int, srcOff *int64, dstFD int, dstOff *int64, length int, flags int) (int64, error) {
	return 0, ErrUnsupported
}

func Pwrite(fd int, p []byte, offset int64) (int, error) { return 0, ErrUnsupported }

func Pread(fd int, p []byte, offset int64) (int, error) { return 0, ErrUnsupported }

func Pwritev(fd int, iovs [][]byte, offset int64) (int, error) { return 0, ErrUnsupported }

func Write(fd int, p []byte) (int, error) { return 0, ErrUnsupported }

func Read(fd int, p []byte) (int, error) { return 0, ErrUnsupported }

func Mmap(fd int, offset int64, length int) ([]byte, error) { return nil, ErrUnsupported }

func Munmap(b []byte) error { return ErrUnsupported }

func IsAgain(err error) bool { return false }

func IsNoSpace(err error) bool { return false }
