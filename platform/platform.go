// Package platform wraps the raw fd-level operations the chunk queue needs
// (cloexec open/pipe/dup, sendfile, splice, positional read/write, mmap) so
// that the rest of the module never imports syscall/unix directly. The
// Linux implementation backs these with real syscalls; non-Linux builds
// return errors.ErrUnsupported so the module still compiles elsewhere.
package platform

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
)

// ErrUnsupported is returned by every operation on platforms without a
// real implementation.
var ErrUnsupported = errors.ErrUnsupported

var pageSize = os.Getpagesize()

// PageSize returns the platform's memory page size.
func PageSize() int { return pageSize }

// Unlink removes a temp file path, ignoring a not-exist error; best-effort
// cleanup, matching chunk.c's unlink-then-ignore-ENOENT convention.
func Unlink(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		_ = err
	}
}

const tempNameSuffixLen = 6

func randomSuffix() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, tempNameSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, tempNameSuffixLen)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// mkostempName substitutes a random suffix for the trailing "XXXXXX" of
// template, the way POSIX mkostemp mutates its argument in place.
func mkostempName(template string) (string, error) {
	const placeholder = "XXXXXX"
	n := len(template)
	if n < len(placeholder) || template[n-len(placeholder):] != placeholder {
		return "", fmt.Errorf("platform: mkostemp template %q must end in XXXXXX", template)
	}
	suffix, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return template[:n-len(placeholder)] + suffix, nil
}

const mkostempMaxAttempts = 10
